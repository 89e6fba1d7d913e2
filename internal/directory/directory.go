// ABOUTME: Conversation Directory mapping unordered participant pairs to conversations
// ABOUTME: Provides atomic find-or-create with a bounded retry on duplicate-insert races

package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/servilocal/mensajeria/internal/store"
)

// ErrInvalidParticipants is returned when the two user identifiers are not
// distinct non-empty values. These are caller mistakes and are never retried.
var ErrInvalidParticipants = errors.New("invalid participants")

// ErrConflict is returned when a duplicate-insert race could not be resolved
// into a single winner. It is transient; callers may retry the resolve.
var ErrConflict = errors.New("conversation conflict")

// ConversationStore defines what the directory needs from storage
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
	GetConversationByParticipants(ctx context.Context, low, high string) (*store.Conversation, error)
	ListConversationsForUser(ctx context.Context, userID string) ([]*store.ConversationEntry, error)
}

// Directory owns the mapping from an unordered pair of user identifiers to
// exactly one conversation record.
type Directory struct {
	store  ConversationStore
	logger *slog.Logger
}

// New creates a Directory. Pass nil logger for default.
func New(st ConversationStore, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		store:  st,
		logger: logger.With("component", "directory"),
	}
}

// normalizePair returns the pair in canonical storage order.
func normalizePair(a, b string) (low, high string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Resolve returns the single conversation for the unordered pair {userA, userB},
// creating it if none exists.
//
// Concurrent calls for the same pair converge to the same conversation: the
// creation path relies on the store's UNIQUE constraint over the normalized
// pair, and a duplicate-insert race falls back to one retry of the lookup.
// If the lookup still fails after a duplicate error, ErrConflict is returned.
func (d *Directory) Resolve(ctx context.Context, userA, userB string) (*store.Conversation, error) {
	if userA == "" || userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: need two distinct user ids", ErrInvalidParticipants)
	}

	low, high := normalizePair(userA, userB)

	conv, err := d.store.GetConversationByParticipants(ctx, low, high)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = &store.Conversation{
		ID:              uuid.New().String(),
		ParticipantLow:  low,
		ParticipantHigh: high,
		CreatedAt:       time.Now().UTC(),
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		// Another caller may have created the conversation between our
		// lookup and insert attempt. The UNIQUE index picks the winner;
		// retry the lookup exactly once.
		if errors.Is(err, store.ErrDuplicateConversation) {
			existing, lookupErr := d.store.GetConversationByParticipants(ctx, low, high)
			if lookupErr == nil {
				d.logger.Debug("found existing conversation after race",
					"conversation_id", existing.ID)
				return existing, nil
			}
			d.logger.Error("retry lookup failed after duplicate error",
				"lookup_error", lookupErr)
			return nil, fmt.Errorf("%w: %v", ErrConflict, lookupErr)
		}
		return nil, err
	}

	d.logger.Debug("conversation created",
		"conversation_id", conv.ID,
		"participant_low", low,
		"participant_high", high)
	return conv, nil
}

// Get returns conversation metadata by id.
func (d *Directory) Get(ctx context.Context, conversationID string) (*store.Conversation, error) {
	return d.store.GetConversation(ctx, conversationID)
}

// ListForUser returns the user's conversations, most recently active first,
// with per-conversation unread counts.
func (d *Directory) ListForUser(ctx context.Context, userID string) ([]*store.ConversationEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidParticipants)
	}
	return d.store.ListConversationsForUser(ctx, userID)
}
