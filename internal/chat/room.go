// ABOUTME: Operating modes and room resolution for support chat
// ABOUTME: A room is keyed by the customer's principal ID whoever is viewing it

package chat

import (
	"github.com/2389/mealdesk/internal/store"
)

// Mode is either self-service (a customer talking to support) or agent mode
// targeting one customer's room. The zero value is self-service.
type Mode struct {
	target string
}

// SelfService is the customer-facing mode.
func SelfService() Mode {
	return Mode{}
}

// AgentFor is the mode of an agent viewing customerID's conversation.
func AgentFor(customerID string) Mode {
	return Mode{target: customerID}
}

// IsAgent reports whether m targets another principal.
func (m Mode) IsAgent() bool {
	return m.target != ""
}

// Target returns the customer an agent is viewing, or "".
func (m Mode) Target() string {
	return m.target
}

// IncomingRole is the sender role of messages the viewer receives.
func (m Mode) IncomingRole() store.Role {
	if m.IsAgent() {
		return store.RoleCustomer
	}
	return store.RoleAgent
}

// OutgoingRole is the sender role stamped on messages the viewer writes.
func (m Mode) OutgoingRole() store.Role {
	if m.IsAgent() {
		return store.RoleAgent
	}
	return store.RoleCustomer
}

func (m Mode) String() string {
	if m.IsAgent() {
		return "agent:" + m.target
	}
	return "self-service"
}

// ResolveRoom derives the room for principal in mode.
func ResolveRoom(principal *Principal, mode Mode) (string, error) {
	if principal == nil || principal.ID == "" {
		return "", ErrUnauthenticated
	}
	if !mode.IsAgent() {
		return principal.ID, nil
	}
	if principal.Role != store.RoleAgent {
		return "", ErrForbidden
	}
	return mode.target, nil
}
