// ABOUTME: Collaborator contracts consumed by a chat session
// ABOUTME: Identity provider, message row store, change-broadcast channel and clock

package chat

import (
	"context"
	"time"

	"github.com/2389/mealdesk/internal/realtime"
	"github.com/2389/mealdesk/internal/store"
)

// Principal is the signed-in identity driving a session.
type Principal struct {
	ID   string
	Role store.Role
}

// IdentityProvider yields the current principal. CurrentPrincipal returns
// (nil, nil) when nobody is signed in.
type IdentityProvider interface {
	CurrentPrincipal(ctx context.Context) (*Principal, error)
	// OnPrincipalChange registers fn for sign-in, sign-out (nil principal) and
	// account switches. The returned func unregisters it.
	OnPrincipalChange(fn func(*Principal)) (cancel func())
}

// MessageStore is the subset of the row store a session writes through.
type MessageStore interface {
	ListMessages(ctx context.Context, room string, limit int) ([]*store.ChatMessage, error)
	InsertMessage(ctx context.Context, msg *store.ChatMessage) (*store.ChatMessage, error)
	UpdateMessages(ctx context.Context, filter store.MessageFilter, patch store.MessagePatch) ([]*store.ChatMessage, error)
}

// Channel is one subscription to a room's change broadcast.
//
// Notifications delivers frames in backend order, starting with a status
// frame once the subscription is acknowledged. A remote close is reported as
// a StatusClosed frame; failures as StatusError or StatusTimeout. Close is
// idempotent, never blocks on frame delivery, and does not emit a status
// frame. The channel's lifetime is not bound to the ctx passed to Open.
type Channel interface {
	Notifications() <-chan *realtime.Frame
	Send(ctx context.Context, frame *realtime.Frame) error
	Close() error
}

// ChannelOpener opens change-broadcast channels.
type ChannelOpener interface {
	Open(ctx context.Context, room string) (Channel, error)
}

// Clock abstracts time so retry and heartbeat schedules can be driven in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
