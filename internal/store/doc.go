// Package store provides persistent storage for the messaging core using SQLite.
//
// # Data Models
//
//   - Conversation: the durable record for a unique unordered pair of
//     participants. The pair is stored in canonical order
//     (participant_low < participant_high) and guarded by a UNIQUE index, so
//     concurrent create attempts for the same pair resolve to a single row.
//   - Message: an immutable message within a conversation. Only is_read may
//     change after insert, and only from unread to read.
//
// # Ordering
//
// Message order is defined by (created_at, id) ascending. Timestamps are
// stored as fixed-width UTC strings so lexicographic order matches
// chronological order, and AppendMessage clamps each new timestamp to the
// conversation's last_message_at to keep the sequence non-decreasing.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrDuplicateConversation: A conversation for the pair already exists
//
// All methods accept context.Context for cancellation support.
package store
