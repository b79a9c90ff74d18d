// ABOUTME: Read receipts for the active room
// ABOUTME: Marks incoming messages read in the store, then locally

package chat

import (
	"context"
	"fmt"

	"github.com/2389/mealdesk/internal/store"
)

// MarkAllRead marks every unread incoming message of the current room read.
// On store failure local state is left unchanged and the error returned;
// there is no automatic retry.
func (s *Session) MarkAllRead(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.principal == nil {
		s.mu.Unlock()
		return ErrUnauthenticated
	}
	room := s.timeline.Room()
	if room == "" {
		s.mu.Unlock()
		return ErrNoRoom
	}
	incoming := s.mode.IncomingRole()
	s.mu.Unlock()

	read := true
	updated, err := s.store.UpdateMessages(ctx,
		store.MessageFilter{Room: room, SenderRole: incoming, UnreadOnly: true},
		store.MessagePatch{Read: &read},
	)
	if err != nil {
		s.logger.Warn("failed to mark messages read", "room", room, "error", err)
		return fmt.Errorf("%w: marking messages read: %w", ErrTransport, err)
	}

	s.mu.Lock()
	if s.timeline.Room() != room {
		s.mu.Unlock()
		s.logger.Debug("room changed during mark-read", "room", room)
		return nil
	}
	n := s.timeline.MarkIncomingRead()
	s.queue(Change{Kind: ChangeRead, Room: room, Unread: 0})
	s.mu.Unlock()
	s.flush()

	s.logger.Debug("marked messages read", "room", room, "stored", len(updated), "local", n)
	return nil
}
