// ABOUTME: Exponential backoff schedule shared by reconnects and history retries
// ABOUTME: Delay(attempt) = min(Base * 2^attempt, Cap), bounded by MaxAttempts

package chat

import "time"

const (
	DefaultBackoffBase          = 2 * time.Second
	DefaultBackoffCap           = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
)

// Backoff describes the automatic retry schedule.
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the 2s/30s/5 schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        DefaultBackoffBase,
		Cap:         DefaultBackoffCap,
		MaxAttempts: DefaultMaxReconnectAttempts,
	}
}

// Delay returns the wait before retry number attempt (zero-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for range attempt {
		if d >= b.Cap {
			break
		}
		d *= 2
	}
	if d > b.Cap {
		return b.Cap
	}
	return d
}

// Exhausted reports whether retries already used every automatic attempt.
func (b Backoff) Exhausted(retries int) bool {
	return retries >= b.MaxAttempts
}

func (b Backoff) withDefaults() Backoff {
	def := DefaultBackoff()
	if b.Base <= 0 {
		b.Base = def.Base
	}
	if b.Cap <= 0 {
		b.Cap = def.Cap
	}
	if b.Cap < b.Base {
		b.Cap = b.Base
	}
	if b.MaxAttempts <= 0 {
		b.MaxAttempts = def.MaxAttempts
	}
	return b
}
