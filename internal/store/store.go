// ABOUTME: Store interface and data types for mealdesk chat persistence
// ABOUTME: Defines ChatMessage, sender roles, filters and the MessageStore contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateMessage is returned when a message with the same client nonce
// already exists in the room
var ErrDuplicateMessage = errors.New("message already exists")

// ErrInvalidMessage is returned when a message fails validation before insert
var ErrInvalidMessage = errors.New("invalid message")

// History limits shared by every MessageStore implementation.
const (
	DefaultHistoryLimit = 100
	MaxHistoryLimit     = 500
)

// Role identifies which side of a support conversation wrote a message.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAgent    Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleAgent
}

// ChatMessage is one turn in a support conversation. Rooms are keyed by the
// customer's principal ID regardless of who is viewing them.
type ChatMessage struct {
	ID          string    `json:"id"` // ULID, assigned by the store
	Room        string    `json:"room"`
	SenderRole  Role      `json:"sender_role"`
	AgentID     *string   `json:"agent_id,omitempty"` // set when an agent wrote the message
	Content     string    `json:"content"`
	Read        bool      `json:"read"`
	ClientNonce string    `json:"client_nonce,omitempty"` // idempotency key chosen by the sender
	CreatedAt   time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers can hand messages across goroutines.
func (m *ChatMessage) Clone() *ChatMessage {
	if m == nil {
		return nil
	}
	c := *m
	if m.AgentID != nil {
		id := *m.AgentID
		c.AgentID = &id
	}
	return &c
}

// Validate checks the fields a writer must supply.
func (m *ChatMessage) Validate() error {
	switch {
	case m.Room == "":
		return errors.Join(ErrInvalidMessage, errors.New("room is required"))
	case !m.SenderRole.Valid():
		return errors.Join(ErrInvalidMessage, errors.New("sender_role must be customer or agent"))
	case m.Content == "":
		return errors.Join(ErrInvalidMessage, errors.New("content is required"))
	}
	return nil
}

// MessageFilter selects messages for a bulk update.
type MessageFilter struct {
	Room       string
	SenderRole Role // empty matches both roles
	UnreadOnly bool
}

// Matches reports whether msg is selected by the filter.
func (f MessageFilter) Matches(msg *ChatMessage) bool {
	if msg.Room != f.Room {
		return false
	}
	if f.SenderRole != "" && msg.SenderRole != f.SenderRole {
		return false
	}
	if f.UnreadOnly && msg.Read {
		return false
	}
	return true
}

// MessagePatch holds the mutable fields of a message. Only the read flag may
// change after a message is written.
type MessagePatch struct {
	Read *bool
}

// MessageStore defines the row-store operations behind a support chat.
type MessageStore interface {
	// ListMessages returns the most recent limit messages of a room in
	// ascending creation order. limit <= 0 means DefaultHistoryLimit.
	ListMessages(ctx context.Context, room string, limit int) ([]*ChatMessage, error)

	// InsertMessage assigns ID and CreatedAt when empty and persists msg.
	// Returns ErrDuplicateMessage if the room already holds msg.ClientNonce.
	InsertMessage(ctx context.Context, msg *ChatMessage) (*ChatMessage, error)

	// UpdateMessages applies patch to every message matched by filter and
	// returns the updated rows in ascending order.
	UpdateMessages(ctx context.Context, filter MessageFilter, patch MessagePatch) ([]*ChatMessage, error)

	// GetMessage retrieves a single message by ID.
	GetMessage(ctx context.Context, id string) (*ChatMessage, error)

	// GetMessageByNonce finds the message a sender wrote with the given nonce.
	GetMessageByNonce(ctx context.Context, room, nonce string) (*ChatMessage, error)

	// Close releases any resources held by the store
	Close() error
}

// clampLimit applies the default and the upper bound to a history limit.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// prepareInsert validates msg and returns a copy with ID and CreatedAt filled in.
func prepareInsert(msg *ChatMessage) (*ChatMessage, error) {
	if msg == nil {
		return nil, ErrInvalidMessage
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	c := msg.Clone()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.ID == "" {
		c.ID = NewMessageID(c.CreatedAt)
	}
	return c, nil
}
