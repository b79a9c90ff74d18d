// ABOUTME: HTTP API handlers for room history, posting messages and read receipts
// ABOUTME: Enforces that callers write only as their own role and mark only the other side's messages read

package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/2389/mealdesk/internal/auth"
	"github.com/2389/mealdesk/internal/conversation"
	"github.com/2389/mealdesk/internal/store"
)

// PostMessageRequest is the JSON request body for POST /api/rooms/{room}/messages.
type PostMessageRequest struct {
	Content     string     `json:"content"`
	SenderRole  store.Role `json:"sender_role,omitempty"`
	AgentID     string     `json:"agent_id,omitempty"`
	ClientNonce string     `json:"client_nonce,omitempty"`
}

// MessagesResponse is the JSON response for GET /api/rooms/{room}/messages.
type MessagesResponse struct {
	Messages []*store.ChatMessage `json:"messages"`
}

// MarkReadRequest is the JSON request body for POST /api/rooms/{room}/read.
type MarkReadRequest struct {
	SenderRole store.Role `json:"sender_role,omitempty"`
}

// MarkReadResponse is the JSON response for POST /api/rooms/{room}/read.
type MarkReadResponse struct {
	Updated  int                  `json:"updated"`
	Messages []*store.ChatMessage `json:"messages"`
}

// handleListMessages handles GET /api/rooms/{room}/messages?limit=N.
func (g *Gateway) handleListMessages(w http.ResponseWriter, r *http.Request) {
	limit := g.config.Database.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	msgs, err := g.conversation.History(r.Context(), roomParam(r), limit)
	if err != nil {
		g.logger.Error("failed to load history", "room", roomParam(r), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []*store.ChatMessage{}
	}

	g.writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgs})
}

// handlePostMessage handles POST /api/rooms/{room}/messages. A new message
// answers 201; a repeated client nonce answers 200 with the original.
func (g *Gateway) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req PostMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, status, err := buildMessage(authCtx, roomParam(r), &req)
	if err != nil {
		g.sendJSONError(w, status, err.Error())
		return
	}

	result, err := g.conversation.Post(r.Context(), msg)
	switch {
	case errors.Is(err, conversation.ErrEmptyMessage), errors.Is(err, store.ErrInvalidMessage):
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		g.logger.Error("failed to post message", "room", msg.Room, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to post message")
		return
	}

	status = http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	g.writeJSON(w, status, result.Message)
}

// buildMessage turns a post request into a message written by the caller.
// It returns the HTTP status to use when the request is rejected.
func buildMessage(authCtx *auth.AuthContext, room string, req *PostMessageRequest) (*store.ChatMessage, int, error) {
	role := req.SenderRole
	if role == "" {
		role = authCtx.Role
	}
	if role != authCtx.Role {
		return nil, http.StatusForbidden, fmt.Errorf("cannot send as %s", role)
	}

	msg := &store.ChatMessage{
		Room:        room,
		SenderRole:  role,
		Content:     req.Content,
		ClientNonce: req.ClientNonce,
	}

	switch {
	case authCtx.IsAgent():
		if req.AgentID != "" && req.AgentID != authCtx.PrincipalID {
			return nil, http.StatusForbidden, fmt.Errorf("agent_id does not match caller")
		}
		agentID := authCtx.PrincipalID
		msg.AgentID = &agentID
	case req.AgentID != "":
		return nil, http.StatusBadRequest, fmt.Errorf("agent_id is only allowed for agents")
	}

	return msg, 0, nil
}

// handleMarkRead handles POST /api/rooms/{room}/read. Callers mark the other
// side's messages; an empty sender_role defaults to that.
func (g *Gateway) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())

	var req MarkReadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	role := req.SenderRole
	if role == "" {
		role = counterpart(authCtx.Role)
	}
	if !role.Valid() {
		g.sendJSONError(w, http.StatusBadRequest, "sender_role must be customer or agent")
		return
	}
	if role == authCtx.Role {
		g.sendJSONError(w, http.StatusForbidden, "cannot mark your own messages read")
		return
	}

	updated, err := g.conversation.MarkRead(r.Context(), roomParam(r), role)
	if err != nil {
		g.logger.Error("failed to mark messages read", "room", roomParam(r), "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "failed to mark messages read")
		return
	}

	if updated == nil {
		updated = []*store.ChatMessage{}
	}
	g.writeJSON(w, http.StatusOK, MarkReadResponse{Updated: len(updated), Messages: updated})
}

// counterpart returns the role on the other side of a conversation.
func counterpart(role store.Role) store.Role {
	if role == store.RoleAgent {
		return store.RoleCustomer
	}
	return store.RoleAgent
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
