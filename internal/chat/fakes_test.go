// ABOUTME: Test doubles for chat sessions
// ABOUTME: Manual clock, scripted channels, switchable identity and a change recorder

package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/mealdesk/internal/realtime"
	"github.com/2389/mealdesk/internal/store"
)

// fakeClock fires timers only when Advance moves time past them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer

	// ignoreStop lets stopped timers fire anyway, simulating a callback that
	// was already running when Stop was called.
	ignoreStop bool
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	delay time.Duration
	fn    func()
	done  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), delay: d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.done || t.clock.ignoreStop {
		return false
	}
	t.done = true
	return true
}

// Advance moves time forward by d, running due timers in order on the
// calling goroutine.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var next *fakeTimer
		for _, t := range c.timers {
			if t.done || t.at.After(target) {
				continue
			}
			if next == nil || t.at.Before(next.at) {
				next = t
			}
		}
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.done = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.fn()
	}
}

// PendingDelays returns the scheduled delay of every timer not yet fired or stopped.
func (c *fakeClock) PendingDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []time.Duration
	for _, t := range c.timers {
		if !t.done {
			out = append(out, t.delay)
		}
	}
	return out
}

// fakeChannel is a scripted change-broadcast channel.
type fakeChannel struct {
	room  string
	notes chan *realtime.Frame

	mu      sync.Mutex
	sent    []*realtime.Frame
	closed  bool
	sendErr error
}

func newFakeChannel(room string) *fakeChannel {
	return &fakeChannel{room: room, notes: make(chan *realtime.Frame, 64)}
}

func (c *fakeChannel) Notifications() <-chan *realtime.Frame { return c.notes }

func (c *fakeChannel) Send(ctx context.Context, frame *realtime.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.notes)
	}
	return nil
}

// push delivers frame unless the channel is closed.
func (c *fakeChannel) push(frame *realtime.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.notes <- frame
}

func (c *fakeChannel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) sentFrames() []*realtime.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*realtime.Frame(nil), c.sent...)
}

type fakeOpener struct {
	mu       sync.Mutex
	channels []*fakeChannel
	err      error
}

func (o *fakeOpener) Open(ctx context.Context, room string) (Channel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return nil, o.err
	}
	ch := newFakeChannel(room)
	o.channels = append(o.channels, ch)
	return ch, nil
}

func (o *fakeOpener) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *fakeOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.channels)
}

func (o *fakeOpener) latest() *fakeChannel {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.channels) == 0 {
		return nil
	}
	return o.channels[len(o.channels)-1]
}

type fakeIdentity struct {
	mu        sync.Mutex
	principal *Principal
	listeners map[int]func(*Principal)
	nextID    int
}

func newFakeIdentity(p *Principal) *fakeIdentity {
	return &fakeIdentity{principal: p, listeners: make(map[int]func(*Principal))}
}

func (f *fakeIdentity) CurrentPrincipal(ctx context.Context) (*Principal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.principal == nil {
		return nil, nil
	}
	p := *f.principal
	return &p, nil
}

func (f *fakeIdentity) OnPrincipalChange(fn func(*Principal)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeIdentity) set(p *Principal) {
	f.mu.Lock()
	f.principal = p
	fns := make([]func(*Principal), 0, len(f.listeners))
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (f *fakeIdentity) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

type changeRecorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *changeRecorder) record(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *changeRecorder) kinds(kind ChangeKind) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Change
	for _, c := range r.changes {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// waitKinds waits until at least n changes of kind were delivered.
func (r *changeRecorder) waitKinds(t *testing.T, kind ChangeKind, n int) []Change {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(r.kinds(kind)) >= n
	}, time.Second, 5*time.Millisecond, "expected %d %s changes", n, kind)
	return r.kinds(kind)
}

type harness struct {
	t        *testing.T
	clock    *fakeClock
	store    *store.MockStore
	opener   *fakeOpener
	identity *fakeIdentity
	changes  *changeRecorder
	session  *Session
}

func newHarness(t *testing.T, principal *Principal, mode Mode) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		clock:    newFakeClock(),
		store:    store.NewMockStore(),
		opener:   &fakeOpener{},
		identity: newFakeIdentity(principal),
		changes:  &changeRecorder{},
	}
	h.session = NewSession(Options{
		Identity: h.identity,
		Store:    h.store,
		Channels: h.opener,
		Mode:     mode,
		Clock:    h.clock,
		Listener: h.changes.record,
	})
	t.Cleanup(func() { h.session.Close() })
	return h
}

// connect starts the session and acknowledges the subscription.
func (h *harness) connect() *fakeChannel {
	h.t.Helper()
	require.NoError(h.t, h.session.Start(h.t.Context()))
	return h.subscribe()
}

// subscribe acknowledges the latest channel and waits for connected.
func (h *harness) subscribe() *fakeChannel {
	h.t.Helper()
	ch := h.opener.latest()
	require.NotNil(h.t, ch, "no channel opened")
	ch.push(realtime.StatusFrame(realtime.StatusSubscribed, nil))
	h.waitStatus(StatusConnected)
	return ch
}

func (h *harness) waitStatus(want Status) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.session.Status() == want
	}, time.Second, 5*time.Millisecond, "status never became %s (is %s)", want, h.session.Status())
}

func (h *harness) waitUnread(want int) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		return h.session.UnreadCount() == want
	}, time.Second, 5*time.Millisecond, "unread never became %d (is %d)", want, h.session.UnreadCount())
}

func msg(id, room string, role store.Role, read bool) *store.ChatMessage {
	return &store.ChatMessage{
		ID:         id,
		Room:       room,
		SenderRole: role,
		Content:    "message " + id,
		Read:       read,
		CreatedAt:  time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC),
	}
}

func customer(id string) *Principal { return &Principal{ID: id, Role: store.RoleCustomer} }
func agent(id string) *Principal    { return &Principal{ID: id, Role: store.RoleAgent} }
