// ABOUTME: Local message list for the active room
// ABOUTME: Tracks the dedup watermark, an ID index and the incoming unread count

package chat

import (
	"github.com/2389/mealdesk/internal/store"
)

// Timeline is the ordered message list of one room as seen by one viewer.
// It is not safe for concurrent use; Session serializes access.
type Timeline struct {
	room      string
	incoming  store.Role
	messages  []*store.ChatMessage
	index     map[string]int
	watermark string
	unread    int
}

// NewTimeline returns an empty timeline with no room.
func NewTimeline() *Timeline {
	return &Timeline{index: make(map[string]int)}
}

// Reset switches to room, dropping all messages.
func (t *Timeline) Reset(room string, incoming store.Role) {
	t.room = room
	t.incoming = incoming
	t.Clear()
}

// Clear drops all messages but keeps the room.
func (t *Timeline) Clear() {
	t.messages = nil
	t.index = make(map[string]int)
	t.watermark = ""
	t.unread = 0
}

// Load replaces the list with history, recomputing the unread count and
// watermark from it.
func (t *Timeline) Load(history []*store.ChatMessage) {
	t.Clear()
	for _, msg := range history {
		if msg == nil || msg.ID == "" {
			continue
		}
		if _, ok := t.index[msg.ID]; ok {
			continue
		}
		t.appendMessage(msg.Clone())
	}
}

// Insert appends msg unless its ID was already applied. It reports whether
// the message was added.
func (t *Timeline) Insert(msg *store.ChatMessage) bool {
	if msg.ID == t.watermark {
		return false
	}
	if _, ok := t.index[msg.ID]; ok {
		return false
	}
	t.appendMessage(msg.Clone())
	return true
}

// Update replaces the message with msg's ID. It reports whether a message
// was replaced.
func (t *Timeline) Update(msg *store.ChatMessage) bool {
	i, ok := t.index[msg.ID]
	if !ok {
		return false
	}
	prev := t.messages[i]
	next := msg.Clone()
	t.messages[i] = next

	switch {
	case t.isIncomingUnread(prev) && !t.isIncomingUnread(next):
		t.unread = max(t.unread-1, 0)
	case !t.isIncomingUnread(prev) && t.isIncomingUnread(next):
		t.unread++
	}
	return true
}

// MarkIncomingRead flags every incoming message read and zeroes the unread
// count. It returns how many messages changed.
func (t *Timeline) MarkIncomingRead() int {
	n := 0
	for i, msg := range t.messages {
		if !t.isIncomingUnread(msg) {
			continue
		}
		c := msg.Clone()
		c.Read = true
		t.messages[i] = c
		n++
	}
	t.unread = 0
	return n
}

// IsIncomingUnread reports whether msg counts toward the unread total.
func (t *Timeline) IsIncomingUnread(msg *store.ChatMessage) bool {
	return t.isIncomingUnread(msg)
}

func (t *Timeline) Room() string      { return t.room }
func (t *Timeline) Watermark() string { return t.watermark }
func (t *Timeline) Unread() int       { return t.unread }
func (t *Timeline) Len() int          { return len(t.messages) }

// Messages returns a copy of the list in arrival order.
func (t *Timeline) Messages() []*store.ChatMessage {
	out := make([]*store.ChatMessage, len(t.messages))
	for i, msg := range t.messages {
		out[i] = msg.Clone()
	}
	return out
}

func (t *Timeline) appendMessage(msg *store.ChatMessage) {
	t.index[msg.ID] = len(t.messages)
	t.messages = append(t.messages, msg)
	t.watermark = msg.ID
	if t.isIncomingUnread(msg) {
		t.unread++
	}
}

func (t *Timeline) isIncomingUnread(msg *store.ChatMessage) bool {
	return msg.SenderRole == t.incoming && !msg.Read
}
