// ABOUTME: History loading for the active room
// ABOUTME: Clears the list, fetches the newest messages and shares the retry budget with reconnects

package chat

import (
	"context"
	"fmt"
)

// load replaces the timeline with the room's history. It reports whether the
// caller should go on to connect under gen.
func (s *Session) load(ctx context.Context, gen uint64) bool {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return false
	}
	room := s.timeline.Room()
	if s.timeline.Len() > 0 {
		s.timeline.Clear()
		s.queue(Change{Kind: ChangeHistory, Room: room})
	}
	s.mu.Unlock()
	s.flush()

	msgs, err := s.store.ListMessages(ctx, room, s.cfg.HistoryLimit)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded history", "room", room, "generation", gen)
		return false
	}
	if err != nil {
		s.failLocked(gen, fmt.Errorf("%w: loading history: %w", ErrTransport, err))
		s.mu.Unlock()
		s.flush()
		return false
	}

	s.timeline.Load(msgs)
	s.queue(Change{
		Kind:     ChangeHistory,
		Room:     room,
		Messages: s.timeline.Messages(),
		Unread:   s.timeline.Unread(),
	})
	s.mu.Unlock()
	s.flush()

	s.logger.Debug("loaded chat history", "room", room, "count", len(msgs))
	return true
}
