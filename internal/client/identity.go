// ABOUTME: Identity provider backed by a gateway-issued JWT
// ABOUTME: Reads the principal from the token's claims and notifies listeners on sign-in, switch and sign-out

package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/2389/mealdesk/internal/auth"
	"github.com/2389/mealdesk/internal/chat"
)

// TokenIdentity holds the bearer token a chat client presents to the
// gateway. The token is not verified locally; the gateway does that on
// every request.
type TokenIdentity struct {
	mu        sync.Mutex
	token     string
	claims    *auth.Claims
	listeners map[int]func(*chat.Principal)
	nextID    int
	now       func() time.Time
}

// NewTokenIdentity creates an identity signed in with token. An empty token
// starts signed out.
func NewTokenIdentity(token string) (*TokenIdentity, error) {
	id := &TokenIdentity{
		listeners: make(map[int]func(*chat.Principal)),
		now:       time.Now,
	}
	if token == "" {
		return id, nil
	}
	claims, err := auth.ParseUnverified(token)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	id.token = token
	id.claims = claims
	return id, nil
}

// Token returns the current bearer token, or "" when signed out.
func (i *TokenIdentity) Token() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.token
}

// CurrentPrincipal returns the token's principal, nil when signed out, or an
// error wrapping auth.ErrExpiredToken once the token has expired.
func (i *TokenIdentity) CurrentPrincipal(ctx context.Context) (*chat.Principal, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.claims == nil {
		return nil, nil
	}
	if !i.claims.ExpiresAt.IsZero() && !i.now().Before(i.claims.ExpiresAt) {
		return nil, fmt.Errorf("%w: expired at %s", auth.ErrExpiredToken, i.claims.ExpiresAt.Format(time.RFC3339))
	}
	return principalOf(i.claims), nil
}

// OnPrincipalChange registers fn for future sign-in, switch and sign-out events.
func (i *TokenIdentity) OnPrincipalChange(fn func(*chat.Principal)) (cancel func()) {
	i.mu.Lock()
	defer i.mu.Unlock()

	id := i.nextID
	i.nextID++
	i.listeners[id] = fn

	return func() {
		i.mu.Lock()
		defer i.mu.Unlock()
		delete(i.listeners, id)
	}
}

// SetToken signs in with a new token and notifies listeners.
func (i *TokenIdentity) SetToken(token string) error {
	claims, err := auth.ParseUnverified(token)
	if err != nil {
		return fmt.Errorf("reading token: %w", err)
	}

	i.mu.Lock()
	i.token = token
	i.claims = claims
	listeners := i.snapshotLocked()
	i.mu.Unlock()

	notify(listeners, principalOf(claims))
	return nil
}

// SignOut drops the token and notifies listeners with a nil principal.
func (i *TokenIdentity) SignOut() {
	i.mu.Lock()
	i.token = ""
	i.claims = nil
	listeners := i.snapshotLocked()
	i.mu.Unlock()

	notify(listeners, nil)
}

func (i *TokenIdentity) snapshotLocked() []func(*chat.Principal) {
	fns := make([]func(*chat.Principal), 0, len(i.listeners))
	for _, fn := range i.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(listeners []func(*chat.Principal), p *chat.Principal) {
	for _, fn := range listeners {
		var copyP *chat.Principal
		if p != nil {
			c := *p
			copyP = &c
		}
		fn(copyP)
	}
}

func principalOf(c *auth.Claims) *chat.Principal {
	return &chat.Principal{ID: c.PrincipalID, Role: c.Role}
}
