// ABOUTME: Redis pub/sub implementation of the Broadcaster interface
// ABOUTME: Lets multiple gateway instances fan appended messages out to each other

package delivery

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/servilocal/mensajeria/internal/store"
)

// RedisBroadcaster implements Broadcaster over Redis pub/sub so live delivery
// works across gateway instances. Messages are JSON-encoded on the wire; a
// publish failure is logged and degrades to "no live updates" for remote
// subscribers, it never fails the send path.
type RedisBroadcaster struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisBroadcaster connects to Redis using a redis:// URL and verifies the
// connection with a ping.
func NewRedisBroadcaster(ctx context.Context, redisURL string, logger *slog.Logger) (*RedisBroadcaster, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisBroadcaster{
		client: client,
		logger: logger.With("component", "broadcaster", "transport", "redis"),
	}, nil
}

// channelKey returns the pub/sub channel name for a conversation.
func channelKey(conversationID string) string {
	return "conversation:" + conversationID
}

// Subscribe opens a Redis subscription for the conversation's channel and
// decodes incoming payloads. The subscription ends when ctx is cancelled.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	sub := b.client.Subscribe(ctx, channelKey(conversationID))
	out := make(chan *store.Message, subscriberBufferSize)

	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				b.logger.Debug("subscriber removed",
					"conversation_id", conversationID,
					"sub_id", subID)
				return
			case payload, ok := <-in:
				if !ok {
					return
				}
				var msg store.Message
				if err := json.Unmarshal([]byte(payload.Payload), &msg); err != nil {
					b.logger.Error("failed to decode published message",
						"error", err,
						"conversation_id", conversationID)
					continue
				}
				select {
				case out <- &msg:
					// Sent
				default:
					b.logger.Debug("dropped message for slow subscriber",
						"conversation_id", conversationID,
						"message_id", msg.ID)
				}
			}
		}
	}()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)
	return out, subID
}

// Publish encodes the message and publishes it to the conversation's channel.
// Failures are logged, not returned: the message log already holds the
// durable record and clients fall back to re-listing.
func (b *RedisBroadcaster) Publish(ctx context.Context, conversationID string, msg *store.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to encode message for publish",
			"error", err,
			"message_id", msg.ID)
		return
	}

	if err := b.client.Publish(ctx, channelKey(conversationID), payload).Err(); err != nil {
		b.logger.Warn("live delivery unavailable, clients must refresh",
			"error", err,
			"conversation_id", conversationID,
			"message_id", msg.ID)
	}
}

// Close closes the Redis connection.
func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}

var _ Broadcaster = (*RedisBroadcaster)(nil)
