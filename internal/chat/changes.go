// ABOUTME: Change notifications a session reports to its owner
// ABOUTME: Delivered in order, outside the session lock

package chat

import (
	"time"

	"github.com/2389/mealdesk/internal/store"
)

// Status is the connection state of a session.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// ConnectionState is a snapshot of the connection manager.
type ConnectionState struct {
	Status        Status
	Generation    uint64
	RetryCount    int
	LastHeartbeat time.Time
	Room          string
	LastError     error
}

// ChangeKind identifies what a Change reports.
type ChangeKind string

const (
	ChangeStatus   ChangeKind = "status"   // Status moved
	ChangeHistory  ChangeKind = "history"  // Messages replaced wholesale (empty when cleared)
	ChangeMessage  ChangeKind = "message"  // Message appended
	ChangeUpdate   ChangeKind = "update"   // Message replaced in place
	ChangeRead     ChangeKind = "read"     // Incoming messages marked read locally
	ChangeIncoming ChangeKind = "incoming" // Unread incoming message arrived; notify the viewer
)

// Change is one observable state change.
type Change struct {
	Kind     ChangeKind
	Status   Status
	Room     string
	Message  *store.ChatMessage
	Messages []*store.ChatMessage
	Unread   int
}

// Listener receives changes. It may call back into the session.
type Listener func(Change)
