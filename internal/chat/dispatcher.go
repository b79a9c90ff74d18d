// ABOUTME: Applies inbound insert and update frames to the timeline
// ABOUTME: Drops stale-generation, foreign-room, duplicate and malformed frames

package chat

import (
	"fmt"
	"log/slog"

	"github.com/2389/mealdesk/internal/realtime"
)

// Disposition records what the dispatcher did with a frame.
type Disposition string

const (
	Applied          Disposition = "applied"
	DroppedStale     Disposition = "stale"
	DroppedForeign   Disposition = "foreign_room"
	DroppedDuplicate Disposition = "duplicate"
	DroppedUnknown   Disposition = "unknown_message"
	DroppedMalformed Disposition = "malformed"
)

// Dispatcher applies change notifications to a Timeline.
type Dispatcher struct {
	timeline *Timeline
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher writing into timeline.
func NewDispatcher(timeline *Timeline, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{timeline: timeline, logger: logger}
}

// Apply applies frame, received on the channel opened under eventGen, and
// returns the resulting changes. It never panics.
func (d *Dispatcher) Apply(frame *realtime.Frame, eventGen, currentGen uint64) (disp Disposition, changes []Change) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dropping frame after panic", "panic", fmt.Sprint(r))
			disp, changes = DroppedMalformed, nil
		}
	}()

	if eventGen != currentGen {
		d.logger.Debug("dropping stale frame", "event_generation", eventGen, "generation", currentGen)
		return DroppedStale, nil
	}
	if frame == nil {
		d.logger.Warn("dropping nil frame")
		return DroppedMalformed, nil
	}
	if err := frame.Validate(); err != nil {
		d.logger.Warn("dropping malformed frame", "error", err)
		return DroppedMalformed, nil
	}
	if frame.Type != realtime.FrameInsert && frame.Type != realtime.FrameUpdate {
		d.logger.Warn("dispatcher cannot apply frame type", "type", frame.Type)
		return DroppedMalformed, nil
	}
	if room := frame.Room(); room != d.timeline.Room() {
		d.logger.Warn("dropping frame for another room", "frame_room", room, "room", d.timeline.Room())
		return DroppedForeign, nil
	}

	if frame.Type == realtime.FrameInsert {
		return d.applyInsert(frame)
	}
	return d.applyUpdate(frame)
}

func (d *Dispatcher) applyInsert(frame *realtime.Frame) (Disposition, []Change) {
	msg := frame.Message
	if !d.timeline.Insert(msg) {
		d.logger.Debug("dropping duplicate insert", "message_id", msg.ID)
		return DroppedDuplicate, nil
	}

	changes := []Change{{
		Kind:    ChangeMessage,
		Room:    msg.Room,
		Message: msg.Clone(),
		Unread:  d.timeline.Unread(),
	}}
	if d.timeline.IsIncomingUnread(msg) {
		changes = append(changes, Change{
			Kind:    ChangeIncoming,
			Room:    msg.Room,
			Message: msg.Clone(),
			Unread:  d.timeline.Unread(),
		})
	}
	return Applied, changes
}

func (d *Dispatcher) applyUpdate(frame *realtime.Frame) (Disposition, []Change) {
	msg := frame.Message
	if !d.timeline.Update(msg) {
		d.logger.Debug("dropping update for unknown message", "message_id", msg.ID)
		return DroppedUnknown, nil
	}
	return Applied, []Change{{
		Kind:    ChangeUpdate,
		Room:    msg.Room,
		Message: msg.Clone(),
		Unread:  d.timeline.Unread(),
	}}
}
