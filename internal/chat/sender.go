// ABOUTME: Outbound messages for the active room
// ABOUTME: Refuses to write unless connected; the echo arrives through the dispatcher

package chat

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/mealdesk/internal/store"
)

// Send writes text to the current room. It returns false without writing
// when text is blank or the session is not connected. The message is not
// appended locally; the backend's insert notification delivers it.
func (s *Session) Send(ctx context.Context, text string) bool {
	content := strings.TrimSpace(text)
	if content == "" {
		s.logger.Debug("rejecting send", "error", ErrSendRejected, "reason", "empty message")
		return false
	}

	s.mu.Lock()
	room := s.timeline.Room()
	switch {
	case s.closed:
		s.mu.Unlock()
		s.logger.Debug("rejecting send", "error", ErrSendRejected, "reason", "session closed")
		return false
	case room == "" || s.principal == nil:
		s.mu.Unlock()
		s.logger.Debug("rejecting send", "error", ErrSendRejected, "reason", "no room")
		return false
	case s.status != StatusConnected:
		status := s.status
		s.mu.Unlock()
		s.logger.Debug("rejecting send", "error", ErrSendRejected, "reason", "not connected", "status", status)
		return false
	}

	msg := &store.ChatMessage{
		Room:        room,
		SenderRole:  s.mode.OutgoingRole(),
		Content:     content,
		ClientNonce: uuid.NewString(),
	}
	if s.mode.IsAgent() {
		agentID := s.principal.ID
		msg.AgentID = &agentID
	}
	gen := s.generation
	s.mu.Unlock()

	saved, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		s.logger.Warn("failed to send message", "room", room, "error", err)
		return false
	}

	s.mu.Lock()
	if gen == s.generation {
		s.heartbeat.Touch(s.clock.Now())
	}
	s.mu.Unlock()

	s.logger.Debug("sent message", "room", room, "message_id", saved.ID)
	return true
}
