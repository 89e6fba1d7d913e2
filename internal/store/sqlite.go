// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is a fixed-width RFC3339 variant. The fraction always has nine
// digits so the stored strings sort lexicographically in chronological order,
// which the (created_at, id) message ordering depends on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversations (
			id               TEXT PRIMARY KEY,
			participant_low  TEXT NOT NULL,
			participant_high TEXT NOT NULL,
			created_at       TEXT NOT NULL,
			last_message_at  TEXT,

			CHECK (participant_low < participant_high)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_conversations_participants
			ON conversations(participant_low, participant_high);

		CREATE INDEX IF NOT EXISTS idx_conversations_low ON conversations(participant_low);
		CREATE INDEX IF NOT EXISTS idx_conversations_high ON conversations(participant_high);

		CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			sender_id       TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			is_read         INTEGER NOT NULL DEFAULT 0,

			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
			ON messages(conversation_id, created_at, id);

		CREATE INDEX IF NOT EXISTS idx_messages_unread
			ON messages(conversation_id, is_read);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// CreateConversation creates a new conversation row.
// The participant pair must already be in canonical order (low < high).
// If a conversation for the same pair already exists, it returns
// ErrDuplicateConversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := `
		INSERT INTO conversations (id, participant_low, participant_high, created_at, last_message_at)
		VALUES (?, ?, ?, ?, NULL)
	`

	_, err := s.db.ExecContext(ctx, query,
		conv.ID,
		conv.ParticipantLow,
		conv.ParticipantHigh,
		conv.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		// Check for UNIQUE constraint violation
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation",
		"id", conv.ID,
		"participant_low", conv.ParticipantLow,
		"participant_high", conv.ParticipantHigh)
	return nil
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := `
		SELECT id, participant_low, participant_high, created_at, last_message_at
		FROM conversations
		WHERE id = ?
	`

	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

// GetConversationByParticipants retrieves a conversation by its canonical
// participant pair. Returns ErrNotFound if no conversation exists for the pair.
func (s *SQLiteStore) GetConversationByParticipants(ctx context.Context, low, high string) (*Conversation, error) {
	query := `
		SELECT id, participant_low, participant_high, created_at, last_message_at
		FROM conversations
		WHERE participant_low = ? AND participant_high = ?
	`

	return s.scanConversation(s.db.QueryRowContext(ctx, query, low, high))
}

func (s *SQLiteStore) scanConversation(row *sql.Row) (*Conversation, error) {
	var conv Conversation
	var createdAtStr string
	var lastMessageAtStr sql.NullString

	err := row.Scan(
		&conv.ID,
		&conv.ParticipantLow,
		&conv.ParticipantHigh,
		&createdAtStr,
		&lastMessageAtStr,
	)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	conv.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if lastMessageAtStr.Valid {
		t, err := time.Parse(timeLayout, lastMessageAtStr.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_message_at: %w", err)
		}
		conv.LastMessageAt = &t
	}

	return &conv, nil
}

// ListConversationsForUser retrieves all conversations the user participates
// in, most recently active first. Conversations without messages sort last.
// Each entry carries the count of messages still unread by the user.
func (s *SQLiteStore) ListConversationsForUser(ctx context.Context, userID string) ([]*ConversationEntry, error) {
	query := `
		SELECT c.id, c.participant_low, c.participant_high, c.created_at, c.last_message_at,
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.conversation_id = c.id AND m.sender_id != ? AND m.is_read = 0) AS unread
		FROM conversations c
		WHERE c.participant_low = ? OR c.participant_high = ?
		ORDER BY c.last_message_at IS NULL, c.last_message_at DESC, c.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var entries []*ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		var createdAtStr string
		var lastMessageAtStr sql.NullString

		if err := rows.Scan(
			&e.ID,
			&e.ParticipantLow,
			&e.ParticipantHigh,
			&createdAtStr,
			&lastMessageAtStr,
			&e.UnreadCount,
		); err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}

		e.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if lastMessageAtStr.Valid {
			t, err := time.Parse(timeLayout, lastMessageAtStr.String)
			if err != nil {
				return nil, fmt.Errorf("parsing last_message_at: %w", err)
			}
			e.LastMessageAt = &t
		}

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversation rows: %w", err)
	}

	return entries, nil
}

// AppendMessage inserts a message and advances the owning conversation's
// last_message_at in a single transaction, so a message is never visible
// without the conversation timestamp reflecting it.
//
// The message timestamp is clamped to be >= the conversation's current
// last_message_at, keeping created_at non-decreasing within a conversation
// even across clock adjustments.
// Returns ErrNotFound if the conversation doesn't exist.
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var lastMessageAtStr sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT last_message_at FROM conversations WHERE id = ?`,
		msg.ConversationID,
	).Scan(&lastMessageAtStr)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("querying conversation: %w", err)
	}

	msg.CreatedAt = msg.CreatedAt.UTC()
	if lastMessageAtStr.Valid {
		last, err := time.Parse(timeLayout, lastMessageAtStr.String)
		if err != nil {
			return fmt.Errorf("parsing last_message_at: %w", err)
		}
		if msg.CreatedAt.Before(last) {
			msg.CreatedAt = last
		}
	}
	createdAt := msg.CreatedAt.Format(timeLayout)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, content, created_at, is_read)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.SenderID, msg.Content, createdAt, boolToInt(msg.IsRead))
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = ? WHERE id = ?
	`, createdAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("updating last_message_at: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing message append: %w", err)
	}

	s.logger.Debug("appended message",
		"id", msg.ID,
		"conversation_id", msg.ConversationID,
		"sender_id", msg.SenderID)
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ListMessages retrieves messages for a conversation ordered by
// (created_at, id) ascending. If limit is positive, only the most recent
// `limit` messages are returned, still in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	var query string
	var args []any

	if limit > 0 {
		query = `
			SELECT id, conversation_id, sender_id, content, created_at, is_read
			FROM (
				SELECT id, conversation_id, sender_id, content, created_at, is_read
				FROM messages
				WHERE conversation_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID, limit}
	} else {
		query = `
			SELECT id, conversation_id, sender_id, content, created_at, is_read
			FROM messages
			WHERE conversation_id = ?
			ORDER BY created_at ASC, id ASC
		`
		args = []any{conversationID}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var createdAtStr string
		var isRead int

		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &createdAtStr, &isRead); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}

		msg.CreatedAt, err = time.Parse(timeLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing message created_at: %w", err)
		}
		msg.IsRead = isRead != 0

		messages = append(messages, &msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating message rows: %w", err)
	}

	return messages, nil
}

// MarkMessagesRead flips is_read on every message in the conversation that
// was not sent by readerID. The transition is one-directional, so repeated
// calls affect zero rows and the operation is idempotent.
// Returns the number of messages transitioned.
func (s *SQLiteStore) MarkMessagesRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET is_read = 1
		WHERE conversation_id = ? AND sender_id != ? AND is_read = 0
	`, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("marking messages read: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}

	if rowsAffected > 0 {
		s.logger.Debug("marked messages read",
			"conversation_id", conversationID,
			"reader_id", readerID,
			"count", rowsAffected)
	}
	return rowsAffected, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
