// ABOUTME: Append-only per-conversation message log with read-state tracking
// ABOUTME: Validates sender membership and content bounds before persisting

package messagelog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/servilocal/mensajeria/internal/store"
)

// MaxContentLength is the maximum message length in characters, after trimming.
const MaxContentLength = 1000

// Validation errors. These are caller mistakes and are never retried.
var (
	ErrNotAParticipant = errors.New("sender is not a participant of the conversation")
	ErrEmptyContent    = errors.New("message content is empty")
	ErrContentTooLong  = fmt.Errorf("message content exceeds %d characters", MaxContentLength)
)

// MessageStore defines what the log needs from storage
type MessageStore interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*store.Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// Log is the append-only, causally ordered message sequence per conversation.
type Log struct {
	store  MessageStore
	logger *slog.Logger
}

// New creates a Log. Pass nil logger for default.
func New(st MessageStore, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{
		store:  st,
		logger: logger.With("component", "messagelog"),
	}
}

// ValidateContent trims content and checks the [1, MaxContentLength] bound.
// Returns the trimmed content, or ErrEmptyContent / ErrContentTooLong.
func ValidateContent(content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > MaxContentLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// Append validates and persists a new message, advancing the conversation's
// last_message_at as part of the same logical unit.
//
// Fails with ErrNotAParticipant if senderID is not one of the conversation's
// two participants, and with ErrEmptyContent / ErrContentTooLong when the
// trimmed content falls outside [1, MaxContentLength]. On validation failure
// nothing is persisted.
func (l *Log) Append(ctx context.Context, conversationID, senderID, content string) (*store.Message, error) {
	trimmed, err := ValidateContent(content)
	if err != nil {
		return nil, err
	}

	conv, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(senderID) {
		return nil, ErrNotAParticipant
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        trimmed,
		CreatedAt:      time.Now().UTC(),
		IsRead:         false,
	}
	if err := l.store.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}

	l.logger.Debug("message appended",
		"message_id", msg.ID,
		"conversation_id", conversationID,
		"sender_id", senderID)
	return msg, nil
}

// List returns messages of the conversation ordered by (created_at, id)
// ascending. A positive limit returns only the most recent limit messages,
// still in chronological order; limit <= 0 returns the full history. The
// read is restartable: repeated calls return a consistent, growing prefix
// and never reorder previously returned messages.
func (l *Log) List(ctx context.Context, conversationID string, limit int) ([]*store.Message, error) {
	return l.store.ListMessages(ctx, conversationID, limit)
}

// MarkRead flips is_read on every message in the conversation not sent by
// readerID. Idempotent: repeated calls are no-ops beyond the first.
// Fails with ErrNotAParticipant if readerID is not a participant.
func (l *Log) MarkRead(ctx context.Context, conversationID, readerID string) error {
	conv, err := l.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(readerID) {
		return ErrNotAParticipant
	}

	if _, err := l.store.MarkMessagesRead(ctx, conversationID, readerID); err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}
	return nil
}
