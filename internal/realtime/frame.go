// ABOUTME: Wire frames exchanged on a room's change-broadcast channel
// ABOUTME: Subscription status, message insert/update notifications and heartbeats

package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/mealdesk/internal/store"
)

// ErrMalformedFrame is returned when a frame is missing its payload.
var ErrMalformedFrame = errors.New("malformed frame")

// FrameType names the kind of notification carried by a Frame.
type FrameType string

const (
	FrameStatus    FrameType = "status"
	FrameInsert    FrameType = "insert"
	FrameUpdate    FrameType = "update"
	FrameHeartbeat FrameType = "heartbeat"
)

// SubscriptionStatus reports the state of a channel subscription.
type SubscriptionStatus string

const (
	StatusSubscribed SubscriptionStatus = "subscribed"
	StatusError      SubscriptionStatus = "error"
	StatusTimeout    SubscriptionStatus = "timeout"
	StatusClosed     SubscriptionStatus = "closed"
)

// Heartbeat is a liveness signal. Generation identifies the sender's
// connection epoch so a peer can tell restarts apart.
type Heartbeat struct {
	Generation uint64    `json:"generation"`
	Room       string    `json:"room"`
	Sender     string    `json:"sender,omitempty"`
	At         time.Time `json:"at"`
}

// Frame is one JSON message on the websocket.
type Frame struct {
	Type      FrameType          `json:"type"`
	Status    SubscriptionStatus `json:"status,omitempty"`
	Message   *store.ChatMessage `json:"message,omitempty"`
	Heartbeat *Heartbeat         `json:"heartbeat,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// StatusFrame builds a subscription status frame.
func StatusFrame(status SubscriptionStatus, err error) *Frame {
	f := &Frame{Type: FrameStatus, Status: status}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}

// InsertFrame builds a new-message notification.
func InsertFrame(msg *store.ChatMessage) *Frame {
	return &Frame{Type: FrameInsert, Message: msg}
}

// UpdateFrame builds a message-changed notification.
func UpdateFrame(msg *store.ChatMessage) *Frame {
	return &Frame{Type: FrameUpdate, Message: msg}
}

// HeartbeatFrame builds a liveness frame.
func HeartbeatFrame(hb Heartbeat) *Frame {
	return &Frame{Type: FrameHeartbeat, Heartbeat: &hb}
}

// Room returns the room the frame's payload belongs to, or "" for status frames.
func (f *Frame) Room() string {
	switch {
	case f.Message != nil:
		return f.Message.Room
	case f.Heartbeat != nil:
		return f.Heartbeat.Room
	}
	return ""
}

// Validate checks that the payload required by the frame type is present.
func (f *Frame) Validate() error {
	switch f.Type {
	case FrameStatus:
		switch f.Status {
		case StatusSubscribed, StatusError, StatusTimeout, StatusClosed:
			return nil
		}
		return fmt.Errorf("%w: unknown status %q", ErrMalformedFrame, f.Status)
	case FrameInsert, FrameUpdate:
		if f.Message == nil || f.Message.ID == "" {
			return fmt.Errorf("%w: %s without message id", ErrMalformedFrame, f.Type)
		}
		return nil
	case FrameHeartbeat:
		if f.Heartbeat == nil {
			return fmt.Errorf("%w: heartbeat without payload", ErrMalformedFrame)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
}

// Decode parses and validates a frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}
