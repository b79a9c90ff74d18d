// ABOUTME: ULID message identifiers that sort by creation time
// ABOUTME: Monotonic entropy keeps IDs minted in the same millisecond ordered

package store

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// idGenerator mints ULIDs whose timestamp never moves behind the last one it
// issued, so IDs keep increasing even if the wall clock steps backwards.
type idGenerator struct {
	mu      sync.Mutex
	entropy io.Reader
	lastMs  uint64
}

func newIDGenerator() *idGenerator {
	return &idGenerator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *idGenerator) next(t time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := ulid.Timestamp(t)
	if ms < g.lastMs {
		ms = g.lastMs
	}
	g.lastMs = ms
	return ulid.MustNew(ms, g.entropy).String()
}

var messageIDs = newIDGenerator()

// NewMessageID returns a ULID for a message created at t. IDs issued by one
// process are strictly increasing.
func NewMessageID(t time.Time) string {
	return messageIDs.next(t)
}

// MessageIDTime extracts the creation timestamp encoded in a message ID.
func MessageIDTime(id string) (time.Time, error) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
