// ABOUTME: Messaging façade - the single public surface for direct messaging
// ABOUTME: Coordinates the directory, message log, and delivery channel

package messaging

import (
	"context"
	"errors"
	"log/slog"

	"github.com/servilocal/mensajeria/internal/delivery"
	"github.com/servilocal/mensajeria/internal/directory"
	"github.com/servilocal/mensajeria/internal/messagelog"
	"github.com/servilocal/mensajeria/internal/store"
)

// Service is the messaging façade used by every caller that wants to start a
// conversation or send/receive messages. All identity is passed explicitly;
// the service holds no ambient session state.
type Service struct {
	directory   *directory.Directory
	log         *messagelog.Log
	broadcaster delivery.Broadcaster
	logger      *slog.Logger
}

// New creates the façade. Pass nil logger for default.
func New(dir *directory.Directory, log *messagelog.Log, broadcaster delivery.Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		directory:   dir,
		log:         log,
		broadcaster: broadcaster,
		logger:      logger.With("component", "messaging"),
	}
}

// ConversationView is a conversation as seen by one participant.
type ConversationView struct {
	Conversation *store.Conversation
	OtherUserID  string
	UnreadCount  int
}

// OpenResult is the outcome of opening a conversation view: the current
// history, plus a live stream of messages appended while the view is open.
type OpenResult struct {
	Conversation   *store.Conversation
	Messages       []*store.Message
	Events         <-chan *store.Message
	SubscriptionID string
}

// StartOrResumeConversation returns the single conversation between
// currentUser and targetUser, creating it on first contact.
//
// Fails with ErrUnauthenticated when currentUser is empty (anonymous
// visitors cannot initiate contact) and ErrInvalidParticipants when the pair
// is not two distinct users. A transient ErrConversationConflict is retried
// once before being surfaced.
func (s *Service) StartOrResumeConversation(ctx context.Context, currentUser, targetUser string) (*store.Conversation, error) {
	if currentUser == "" {
		return nil, ErrUnauthenticated
	}

	conv, err := s.directory.Resolve(ctx, currentUser, targetUser)
	if errors.Is(err, ErrConversationConflict) {
		s.logger.Debug("conversation conflict, retrying resolve",
			"current_user", currentUser,
			"target_user", targetUser)
		conv, err = s.directory.Resolve(ctx, currentUser, targetUser)
	}
	return conv, err
}

// ListConversations returns the user's conversations ordered by most recent
// activity, each annotated with the other participant and the unread count.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*ConversationView, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	entries, err := s.directory.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	views := make([]*ConversationView, 0, len(entries))
	for _, e := range entries {
		conv := e.Conversation
		views = append(views, &ConversationView{
			Conversation: &conv,
			OtherUserID:  conv.OtherParticipant(userID),
			UnreadCount:  e.UnreadCount,
		})
	}
	return views, nil
}

// SendMessage validates and appends a message, then publishes it to live
// subscribers. Publication is best-effort: a delivery transport failure never
// fails the send, the message log already holds the durable record.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	if senderID == "" {
		return nil, ErrUnauthenticated
	}

	msg, err := s.log.Append(ctx, conversationID, senderID, content)
	if err != nil {
		return nil, err
	}

	s.broadcaster.Publish(ctx, conversationID, msg)
	return msg, nil
}

// OpenConversation loads the ordered history, marks messages addressed to the
// viewer as read, and registers a live subscription for the duration of ctx.
// A positive limit restricts the history to the most recent limit messages;
// limit <= 0 loads everything.
//
// The subscription holds no lock on the log or directory; when it drops, the
// client falls back to List for the authoritative order.
func (s *Service) OpenConversation(ctx context.Context, conversationID, viewerID string, limit int) (*OpenResult, error) {
	if viewerID == "" {
		return nil, ErrUnauthenticated
	}

	conv, err := s.directory.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrNotAParticipant
	}

	if err := s.log.MarkRead(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}

	msgs, err := s.log.List(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}

	events, subID := s.broadcaster.Subscribe(ctx, conversationID)

	s.logger.Debug("conversation opened",
		"conversation_id", conversationID,
		"viewer_id", viewerID,
		"history", len(msgs),
		"sub_id", subID)

	return &OpenResult{
		Conversation:   conv,
		Messages:       msgs,
		Events:         events,
		SubscriptionID: subID,
	}, nil
}

// GetConversation returns conversation metadata, restricted to participants.
func (s *Service) GetConversation(ctx context.Context, conversationID, viewerID string) (*store.Conversation, error) {
	if viewerID == "" {
		return nil, ErrUnauthenticated
	}
	conv, err := s.directory.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(viewerID) {
		return nil, ErrNotAParticipant
	}
	return conv, nil
}
