// ABOUTME: Mock MessageStore implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject transport failures

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory MessageStore implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	messages map[string][]*ChatMessage // keyed by room

	listErr   error
	insertErr error
	updateErr error

	listCalls   int
	insertCalls int
	updateCalls int

	// listHook runs before ListMessages returns, outside the lock.
	listHook func(room string)
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		messages: make(map[string][]*ChatMessage),
	}
}

// FailList makes ListMessages return err until called again with nil.
func (m *MockStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

// FailInsert makes InsertMessage return err until called again with nil.
func (m *MockStore) FailInsert(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertErr = err
}

// FailUpdate makes UpdateMessages return err until called again with nil.
func (m *MockStore) FailUpdate(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateErr = err
}

// OnList registers a hook invoked at the start of every ListMessages call.
func (m *MockStore) OnList(fn func(room string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listHook = fn
}

// Calls returns how many times each operation has been invoked.
func (m *MockStore) Calls() (list, insert, update int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listCalls, m.insertCalls, m.updateCalls
}

// Seed stores messages directly, bypassing validation and failure injection.
func (m *MockStore) Seed(msgs ...*ChatMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		c := msg.Clone()
		m.messages[c.Room] = append(m.messages[c.Room], c)
	}
}

// ListMessages returns the newest limit messages of a room, oldest first.
func (m *MockStore) ListMessages(ctx context.Context, room string, limit int) ([]*ChatMessage, error) {
	m.mu.Lock()
	m.listCalls++
	hook := m.listHook
	err := m.listErr
	m.mu.Unlock()

	if hook != nil {
		hook(room)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := m.sortedLocked(room)
	limit = clampLimit(limit)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return cloneAll(msgs), nil
}

// InsertMessage stores a message, honoring client nonce uniqueness.
func (m *MockStore) InsertMessage(ctx context.Context, msg *ChatMessage) (*ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.insertCalls++
	if m.insertErr != nil {
		return nil, m.insertErr
	}

	c, err := prepareInsert(msg)
	if err != nil {
		return nil, err
	}

	if c.ClientNonce != "" {
		for _, existing := range m.messages[c.Room] {
			if existing.ClientNonce == c.ClientNonce {
				return nil, ErrDuplicateMessage
			}
		}
	}

	m.messages[c.Room] = append(m.messages[c.Room], c)
	return c.Clone(), nil
}

// UpdateMessages applies patch to every message matched by filter.
func (m *MockStore) UpdateMessages(ctx context.Context, filter MessageFilter, patch MessagePatch) ([]*ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updateCalls++
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	if patch.Read == nil {
		return nil, nil
	}

	var updated []*ChatMessage
	for _, msg := range m.sortedLocked(filter.Room) {
		if !filter.Matches(msg) {
			continue
		}
		msg.Read = *patch.Read
		updated = append(updated, msg.Clone())
	}
	return updated, nil
}

// GetMessage retrieves a message by ID.
func (m *MockStore) GetMessage(ctx context.Context, id string) (*ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if msg.ID == id {
				return msg.Clone(), nil
			}
		}
	}
	return nil, ErrNotFound
}

// GetMessageByNonce finds the message written with nonce in room.
func (m *MockStore) GetMessageByNonce(ctx context.Context, room, nonce string) (*ChatMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, msg := range m.messages[room] {
		if nonce != "" && msg.ClientNonce == nonce {
			return msg.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// sortedLocked returns the room's stored messages ordered by ID. Must be
// called with mu held.
func (m *MockStore) sortedLocked(room string) []*ChatMessage {
	msgs := m.messages[room]
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs
}

func cloneAll(msgs []*ChatMessage) []*ChatMessage {
	result := make([]*ChatMessage, len(msgs))
	for i, msg := range msgs {
		result[i] = msg.Clone()
	}
	return result
}
