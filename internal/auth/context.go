// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"

	"github.com/2389/mealdesk/internal/store"
)

// AuthContext holds the authenticated identity information extracted from a request.
// This is populated by the HTTP middleware and can be retrieved from context in handlers.
type AuthContext struct {
	PrincipalID string     // "sub" claim of the token
	Role        store.Role // customer or agent
}

// IsAgent returns true if the principal is a support agent.
func (a *AuthContext) IsAgent() bool {
	return a.Role == store.RoleAgent
}

// CanAccessRoom reports whether the principal may read and write room.
// Customers are limited to the room keyed by their own ID; agents may
// open any room.
func (a *AuthContext) CanAccessRoom(room string) bool {
	if room == "" {
		return false
	}
	return a.IsAgent() || a.PrincipalID == room
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// MustFromContext retrieves the AuthContext from the context, panicking if not present.
func MustFromContext(ctx context.Context) *AuthContext {
	auth := FromContext(ctx)
	if auth == nil {
		panic("auth: AuthContext not found in context")
	}
	return auth
}
