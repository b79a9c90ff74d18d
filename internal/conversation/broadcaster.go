// ABOUTME: In-memory fan-out broadcaster for room change notifications
// ABOUTME: Publishes persisted message inserts/updates and heartbeats to every subscriber of a room

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/mealdesk/internal/realtime"
	"github.com/2389/mealdesk/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber. It holds
	// a full page of read updates so marking a history read fits.
	subscriberBufferSize = 2 * store.MaxHistoryLimit
)

// Broadcaster provides in-memory pub/sub for room frames. Subscribers
// register for a room and receive frames as messages are persisted.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *realtime.Frame // room -> subID -> ch
	closed      bool
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *realtime.Frame),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for frames of room. Returns a channel that
// receives frames and a subscription ID for later unsubscription. The
// subscription is automatically cleaned up when ctx is cancelled. On a
// closed broadcaster the returned channel is already closed.
func (b *Broadcaster) Subscribe(ctx context.Context, room string) (<-chan *realtime.Frame, string) {
	subID := uuid.New().String()
	ch := make(chan *realtime.Frame, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[room]; !ok {
		b.subscribers[room] = make(map[string]chan *realtime.Frame)
	}
	b.subscribers[room][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "room", room, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(room, subID)
	}()

	return ch, subID
}

// Publish sends a frame to all subscribers of room without blocking. A
// subscriber whose buffer is full is evicted: its channel is closed so the
// consumer resubscribes and reloads history instead of silently missing
// frames.
func (b *Broadcaster) Publish(room string, frame *realtime.Frame) {
	var lagging []string

	b.mu.RLock()
	// Sends never block, so holding the read lock keeps Unsubscribe from
	// closing a channel mid-send.
	for id, ch := range b.subscribers[room] {
		select {
		case ch <- frame:
		default:
			lagging = append(lagging, id)
		}
	}
	b.mu.RUnlock()

	for _, id := range lagging {
		b.logger.Warn("evicting slow subscriber",
			"room", room,
			"sub_id", id,
			"type", frame.Type)
		b.Unsubscribe(room, id)
	}
}

// Subscribers returns the number of live subscriptions for room.
func (b *Broadcaster) Subscribers(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[room])
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(room, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[room]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty room entries
	if len(subs) == 0 {
		delete(b.subscribers, room)
	}

	b.logger.Debug("subscriber removed", "room", room, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for room, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, room)
	}
	b.closed = true

	b.logger.Debug("broadcaster closed")
}
