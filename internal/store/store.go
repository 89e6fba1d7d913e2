// ABOUTME: Store interface and data types for mensajeria persistence
// ABOUTME: Defines Conversation, Message structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when trying to create a conversation
// for a participant pair that already has one
var ErrDuplicateConversation = errors.New("conversation already exists")

// Conversation represents the durable record for a unique unordered pair of
// participants exchanging messages. ParticipantLow and ParticipantHigh hold
// the pair in canonical (sorted) order so the pair maps to exactly one row.
type Conversation struct {
	ID              string
	ParticipantLow  string
	ParticipantHigh string
	CreatedAt       time.Time
	LastMessageAt   *time.Time // nil until the first message is sent
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	return userID == c.ParticipantLow || userID == c.ParticipantHigh
}

// OtherParticipant returns the participant that is not userID.
// Returns the empty string if userID is not a participant.
func (c *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case c.ParticipantLow:
		return c.ParticipantHigh
	case c.ParticipantHigh:
		return c.ParticipantLow
	}
	return ""
}

// Message represents a single message within a conversation.
// Immutable after creation except for IsRead, which transitions
// unread -> read exactly once.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
	IsRead         bool      `json:"is_read"`
}

// ConversationEntry is a conversation row enriched with the viewer's unread
// count, as returned by ListConversationsForUser.
type ConversationEntry struct {
	Conversation
	UnreadCount int
}

// Store defines the interface for conversation and message persistence
type Store interface {
	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	GetConversationByParticipants(ctx context.Context, low, high string) (*Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationEntry, error)

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error)
	MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error)

	// Close releases any resources held by the store
	Close() error
}
