// ABOUTME: In-memory fan-out broadcaster for live delivery of appended messages
// ABOUTME: Publishes persisted messages to all subscribers of a conversation id

package delivery

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/servilocal/mensajeria/internal/store"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster is the Delivery Channel transport: it fans newly appended
// messages out to whichever clients currently have the conversation open.
// Delivery is best-effort and order-preserving per subscriber; the message
// log remains the system of record.
type Broadcaster interface {
	// Subscribe registers interest in a conversation. The returned channel
	// receives messages as they are appended and is closed when ctx is
	// cancelled. The second value is a subscription id for logging.
	Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string)

	// Publish delivers a persisted message to current subscribers of the
	// conversation. It never blocks the caller and never returns an error:
	// transport failures degrade to "no live updates".
	Publish(ctx context.Context, conversationID string, msg *store.Message)

	// Close shuts down the broadcaster and closes all subscriber channels.
	Close() error
}

// MemoryBroadcaster provides in-process pub/sub for appended messages.
// Subscribers register for a conversation id and receive messages as they
// are persisted. This enables live conversation views without polling.
type MemoryBroadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *store.Message // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewMemoryBroadcaster creates a broadcaster. Pass nil logger for default.
func NewMemoryBroadcaster(logger *slog.Logger) *MemoryBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBroadcaster{
		subscribers: make(map[string]map[string]chan *store.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for messages in the given conversation.
// The subscription is automatically cleaned up when ctx is cancelled.
func (b *MemoryBroadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan *store.Message, string) {
	subID := uuid.New().String()
	ch := make(chan *store.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan *store.Message)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends a message to all subscribers of the given conversation.
// Non-blocking: messages are dropped for subscribers whose channels are full;
// those clients recover by re-listing from the message log.
//
// The read lock is held across the sends. Unsubscribe and Close close
// subscriber channels under the write lock, so a channel can never be closed
// while a send is in flight. The sends themselves never block (select with
// default), so the lock is held only briefly.
func (b *MemoryBroadcaster) Publish(_ context.Context, conversationID string, msg *store.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[conversationID] {
		select {
		case ch <- msg:
			// Sent
		default:
			// Subscriber channel full - drop for this subscriber
			b.logger.Debug("dropped message for slow subscriber",
				"conversation_id", conversationID,
				"message_id", msg.ID)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *MemoryBroadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty conversation entries
	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}

	b.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}

	b.logger.Debug("broadcaster closed")
	return nil
}

var _ Broadcaster = (*MemoryBroadcaster)(nil)
