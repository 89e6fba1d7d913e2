// Package messaging provides the façade for direct messaging between users.
//
// # Overview
//
// The messaging package sits between the HTTP handlers and the messaging
// core, exposing the four operations every caller in the application uses:
//
//   - StartOrResumeConversation(ctx, currentUser, targetUser)
//   - ListConversations(ctx, userID)
//   - SendMessage(ctx, conversationID, senderID, content)
//   - OpenConversation(ctx, conversationID, viewerID, limit)
//
// Provider cards, public profiles, publication pages, and the providers list
// all go through this one surface instead of each hand-rolling a
// find-or-create conversation.
//
// # Composition
//
//	dir := directory.New(store, logger)
//	log := messagelog.New(store, logger)
//	bc  := delivery.NewMemoryBroadcaster(logger)
//	svc := messaging.New(dir, log, bc, logger)
//
// The Conversation Directory owns find-or-create for participant pairs, the
// Message Log owns ordering and read state, and the Delivery Channel fans
// appended messages out to open conversation views.
//
// # Identity
//
// Identity is passed explicitly into every call (currentUser, senderID,
// viewerID). There is no ambient session state inside the core; the HTTP
// layer resolves the caller from its auth middleware and forwards the id.
//
// # Error taxonomy
//
// Every failure classifies with errors.Is against this package's sentinels:
//
//   - ErrUnauthenticated: anonymous caller on an operation requiring identity
//   - ErrInvalidParticipants: pair is not two distinct non-empty users
//   - ErrNotAParticipant: sender/viewer is outside the conversation
//   - ErrEmptyContent / ErrContentTooLong: content bound violations
//   - ErrConversationConflict: transient duplicate-insert race, retried once
//   - ErrNotFound: unknown conversation
//
// Validation errors are caller mistakes and are never retried automatically.
package messaging
