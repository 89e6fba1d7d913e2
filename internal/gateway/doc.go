// ABOUTME: Package documentation for the gateway orchestrator
// ABOUTME: Describes component wiring, HTTP surface, and lifecycle

// Package gateway wires the mensajeria components into a running HTTP
// server.
//
// # Components
//
// The gateway owns the SQLite store, the conversation directory, the message
// log, the delivery broadcaster, and the messaging façade. Handlers call the
// façade only; no handler reaches into the store directly.
//
// # HTTP surface
//
// Health and WhatsApp verification routes are public. Everything else under
// /api requires a bearer token verified by the identity package:
//
//	POST /api/conversations                   find-or-create with a target user
//	GET  /api/conversations                   list, most recent activity first
//	GET  /api/conversations/{id}              conversation metadata
//	GET  /api/conversations/{id}/messages     history snapshot, marks read; ?limit=N
//	POST /api/conversations/{id}/messages     append a message
//	GET  /api/conversations/{id}/stream       SSE: live messages, no replay
//
// # Lifecycle
//
// Run blocks until the context is canceled, then shuts the HTTP server down
// gracefully and closes the broadcaster and store.
package gateway
