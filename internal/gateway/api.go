// ABOUTME: HTTP API handlers for conversations, messages, and live streams.
// ABOUTME: Maps façade errors to status codes and frames live messages as SSE.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/servilocal/mensajeria/internal/identity"
	"github.com/servilocal/mensajeria/internal/messaging"
	"github.com/servilocal/mensajeria/internal/store"
)

// StartConversationRequest is the JSON request body for POST /api/conversations.
type StartConversationRequest struct {
	TargetUserID string `json:"target_user_id"`
}

// ConversationResponse is the JSON shape of a conversation as seen by the
// requesting user.
type ConversationResponse struct {
	ID            string  `json:"id"`
	OtherUserID   string  `json:"other_user_id"`
	CreatedAt     string  `json:"created_at"`
	LastMessageAt *string `json:"last_message_at"`
	UnreadCount   int     `json:"unread_count"`
}

// ListConversationsResponse is the JSON response for GET /api/conversations.
type ListConversationsResponse struct {
	Conversations []ConversationResponse `json:"conversations"`
}

// SendMessageRequest is the JSON request body for POST /api/conversations/{id}/messages.
type SendMessageRequest struct {
	Content string `json:"content"`
}

// MessageResponse is the JSON shape of a single message.
type MessageResponse struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
	IsRead         bool   `json:"is_read"`
}

// ConversationMessagesResponse is the JSON response for GET /api/conversations/{id}/messages.
type ConversationMessagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []MessageResponse `json:"messages"`
}

// handleStartConversation handles POST /api/conversations. It returns the
// single conversation between the caller and the target, creating it on first
// contact. Both first contact and resumption answer 200 with the same shape.
func (g *Gateway) handleStartConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.FromContext(r.Context())

	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	conv, err := g.messaging.StartOrResumeConversation(r.Context(), userID, req.TargetUserID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse(conv, userID, 0))
}

// handleListConversations handles GET /api/conversations. Conversations are
// ordered by most recent activity, never-used ones last.
func (g *Gateway) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.FromContext(r.Context())

	views, err := g.messaging.ListConversations(r.Context(), userID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	resp := ListConversationsResponse{
		Conversations: make([]ConversationResponse, len(views)),
	}
	for i, v := range views {
		resp.Conversations[i] = conversationResponse(v.Conversation, userID, v.UnreadCount)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleGetConversation handles GET /api/conversations/{id}.
func (g *Gateway) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.FromContext(r.Context())
	convID := chi.URLParam(r, "id")

	conv, err := g.messaging.GetConversation(r.Context(), convID, userID)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, conversationResponse(conv, userID, 0))
}

// handleListMessages handles GET /api/conversations/{id}/messages. Opening
// the history also marks messages addressed to the caller as read.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.FromContext(r.Context())
	convID := chi.URLParam(r, "id")

	// Parse optional limit parameter (default full history, max 500)
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 500 {
			limit = 500
		}
	}

	result, err := g.messaging.OpenConversation(r.Context(), convID, userID, limit)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}
	// This endpoint only wants the snapshot; the live subscription is
	// released automatically when the request context ends.
	resp := ConversationMessagesResponse{
		ConversationID: convID,
		Messages:       make([]MessageResponse, len(result.Messages)),
	}
	for i, m := range result.Messages {
		resp.Messages[i] = messageResponse(m)
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleSendMessage handles POST /api/conversations/{id}/messages.
func (g *Gateway) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.FromContext(r.Context())
	convID := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	msg, err := g.messaging.SendMessage(r.Context(), convID, userID, req.Content)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse(msg))
}

// handleStream handles GET /api/conversations/{id}/stream. It keeps the
// connection open and forwards messages appended while the stream is up.
// There is no history replay: clients fetch the messages endpoint first and
// refetch after a reconnect, since messages missed in between are not
// redelivered.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity.FromContext(r.Context())
	convID := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	result, err := g.messaging.OpenConversation(r.Context(), convID, userID, 0)
	if err != nil {
		g.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeSSEEvent(w, "open", map[string]string{"conversation_id": convID})
	flusher.Flush()

	g.streamMessages(r.Context(), w, flusher, result.Events)
}

// streamMessages forwards live messages as SSE events until the subscription
// channel closes or the request context is canceled.
func (g *Gateway) streamMessages(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan *store.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			g.writeSSEEvent(w, "message", messageResponse(msg))
			flusher.Flush()
		}
	}
}

// writeServiceError maps façade errors to HTTP status codes.
func (g *Gateway) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, messaging.ErrUnauthenticated):
		g.sendJSONError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, messaging.ErrInvalidParticipants):
		g.sendJSONError(w, http.StatusBadRequest, "participants must be two distinct users")
	case errors.Is(err, messaging.ErrEmptyContent):
		g.sendJSONError(w, http.StatusBadRequest, "El mensaje no puede estar vacío")
	case errors.Is(err, messaging.ErrContentTooLong):
		g.sendJSONError(w, http.StatusBadRequest, "El mensaje no puede exceder 1000 caracteres")
	case errors.Is(err, messaging.ErrNotAParticipant):
		g.sendJSONError(w, http.StatusForbidden, "not a participant in this conversation")
	case errors.Is(err, messaging.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
	case errors.Is(err, messaging.ErrConversationConflict):
		g.sendJSONError(w, http.StatusConflict, "conversation conflict, retry the request")
	default:
		g.logger.Error("internal error", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// conversationResponse converts a conversation to its JSON shape as seen by
// the given user.
func conversationResponse(conv *store.Conversation, userID string, unread int) ConversationResponse {
	resp := ConversationResponse{
		ID:          conv.ID,
		OtherUserID: conv.OtherParticipant(userID),
		CreatedAt:   conv.CreatedAt.Format(time.RFC3339),
		UnreadCount: unread,
	}
	if conv.LastMessageAt != nil {
		ts := conv.LastMessageAt.Format(time.RFC3339Nano)
		resp.LastMessageAt = &ts
	}
	return resp
}

// messageResponse converts a message to its JSON shape.
func messageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339Nano),
		IsRead:         m.IsRead,
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
