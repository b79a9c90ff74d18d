// ABOUTME: Tests for Session connection lifecycle and recovery
// ABOUTME: Covers history, dedup scenarios, backoff bounds, generation guards and teardown

package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mealdesk/internal/realtime"
	"github.com/2389/mealdesk/internal/store"
)

func TestSession_SelfServiceScenario(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.store.Seed(
		msg("m1", "u1", store.RoleAgent, false),
		msg("m2", "u1", store.RoleAgent, false),
	)

	ch := h.connect()
	assert.Equal(t, "u1", h.session.CurrentRoom())
	assert.Equal(t, 2, h.session.UnreadCount())
	assert.Len(t, h.session.Messages(), 2)

	insert := realtime.InsertFrame(msg("m3", "u1", store.RoleAgent, false))
	ch.push(insert)
	h.waitUnread(3)
	assert.Len(t, h.session.Messages(), 3)

	// Duplicate, then an update that proves the duplicate was processed first
	ch.push(insert)
	ch.push(realtime.UpdateFrame(msg("m1", "u1", store.RoleAgent, true)))
	h.waitUnread(2)
	assert.Len(t, h.session.Messages(), 3)

	incoming := h.changes.waitKinds(t, ChangeIncoming, 1)
	assert.Equal(t, "m3", incoming[0].Message.ID)
}

func TestSession_SendScenario(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	require.NoError(t, h.session.Start(t.Context()))

	assert.False(t, h.session.Send(t.Context(), ""))
	assert.False(t, h.session.Send(t.Context(), "   "))
	_, inserts, _ := h.store.Calls()
	assert.Equal(t, 0, inserts, "blank text never writes")

	require.Equal(t, StatusConnecting, h.session.Status())
	assert.False(t, h.session.Send(t.Context(), "hi"))
	_, inserts, _ = h.store.Calls()
	assert.Equal(t, 0, inserts, "not connected never writes")

	h.subscribe()
	assert.True(t, h.session.Send(t.Context(), "  hi  "))
	_, inserts, _ = h.store.Calls()
	assert.Equal(t, 1, inserts)
	assert.Empty(t, h.session.Messages(), "send waits for the echo")

	stored, err := h.store.ListMessages(t.Context(), "u1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hi", stored[0].Content)
	assert.Equal(t, store.RoleCustomer, stored[0].SenderRole)
	assert.Nil(t, stored[0].AgentID)
	assert.NotEmpty(t, stored[0].ClientNonce)
}

func TestSession_AgentSendStampsAgentID(t *testing.T) {
	h := newHarness(t, agent("a1"), AgentFor("c1"))
	h.connect()

	require.True(t, h.session.Send(t.Context(), "how can I help?"))

	stored, err := h.store.ListMessages(t.Context(), "c1", 0)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, store.RoleAgent, stored[0].SenderRole)
	require.NotNil(t, stored[0].AgentID)
	assert.Equal(t, "a1", *stored[0].AgentID)
}

func TestSession_SendStoreFailureReturnsFalse(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()
	h.store.FailInsert(errors.New("db down"))

	assert.False(t, h.session.Send(t.Context(), "hi"))
}

func TestSession_SendRefreshesHeartbeat(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()
	before := h.session.State().LastHeartbeat

	h.clock.Advance(10 * time.Second)
	require.True(t, h.session.Send(t.Context(), "still here"))
	assert.Equal(t, before.Add(10*time.Second), h.session.State().LastHeartbeat)
}

func TestSession_HistoryBackoffBound(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.store.FailList(errors.New("connection refused"))

	require.NoError(t, h.session.Start(t.Context()), "transport failures are retried, not returned")
	assert.Equal(t, StatusError, h.session.Status())

	expected := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	for i, delay := range expected {
		require.Equal(t, []time.Duration{delay}, h.clock.PendingDelays(), "attempt %d", i+1)

		h.clock.Advance(delay - time.Millisecond)
		list, _, _ := h.store.Calls()
		assert.Equal(t, i+1, list, "attempt %d must not run early", i+1)

		h.clock.Advance(time.Millisecond)
		list, _, _ = h.store.Calls()
		assert.Equal(t, i+2, list, "attempt %d runs on schedule", i+1)
	}

	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.Empty(t, h.clock.PendingDelays(), "no attempts after the budget")
	assert.ErrorIs(t, h.session.LastError(), ErrRetriesExhausted)
	assert.ErrorIs(t, h.session.LastError(), ErrTransport)
	assert.Equal(t, 0, h.opener.count())

	h.clock.Advance(time.Hour)
	list, _, _ := h.store.Calls()
	assert.Equal(t, 6, list)
}

func TestSession_ManualReconnectAfterExhaustion(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.store.FailList(errors.New("connection refused"))
	require.NoError(t, h.session.Start(t.Context()))
	for range 5 {
		h.clock.Advance(30 * time.Second)
	}
	require.Equal(t, StatusDisconnected, h.session.Status())

	h.store.FailList(nil)
	require.NoError(t, h.session.Reconnect(t.Context()))
	h.subscribe()

	state := h.session.State()
	assert.Equal(t, 0, state.RetryCount)
	assert.NoError(t, state.LastError)
}

func TestSession_ChannelErrorRetriesAndRecovers(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	first := h.connect()

	first.push(realtime.StatusFrame(realtime.StatusError, errors.New("socket reset")))
	h.waitStatus(StatusError)
	assert.True(t, first.isClosed())
	assert.Equal(t, 1, h.session.State().RetryCount)
	assert.ErrorIs(t, h.session.LastError(), ErrTransport)

	h.clock.Advance(2 * time.Second)
	require.Equal(t, 2, h.opener.count())
	second := h.subscribe()
	assert.NotSame(t, first, second)
	assert.Equal(t, 0, h.session.State().RetryCount)
}

func TestSession_TimeoutSharesRetryBudgetWithHistory(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	require.NoError(t, h.session.Start(t.Context()))
	h.opener.latest().push(realtime.StatusFrame(realtime.StatusTimeout, nil))
	h.waitStatus(StatusError)

	// The retry's history load fails too; the budget keeps counting
	h.store.FailList(errors.New("still down"))
	h.clock.Advance(2 * time.Second)
	assert.Equal(t, 2, h.session.State().RetryCount)
	assert.Equal(t, []time.Duration{4 * time.Second}, h.clock.PendingDelays())
}

func TestSession_OpenFailureRetries(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.opener.fail(errors.New("dial refused"))

	require.NoError(t, h.session.Start(t.Context()))
	assert.Equal(t, StatusError, h.session.Status())

	h.opener.fail(nil)
	h.clock.Advance(2 * time.Second)
	h.subscribe()
}

func TestSession_RemoteCloseDoesNotConsumeRetry(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	ch := h.connect()

	ch.push(realtime.StatusFrame(realtime.StatusClosed, nil))
	h.waitStatus(StatusDisconnected)

	assert.Equal(t, 0, h.session.State().RetryCount)
	assert.Empty(t, h.clock.PendingDelays(), "no retry or heartbeat scheduled")
	assert.True(t, ch.isClosed())
}

func TestSession_StaleTimerIsNoOp(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.clock.ignoreStop = true
	h.store.FailList(errors.New("boom"))
	require.NoError(t, h.session.Start(t.Context()))
	require.Equal(t, StatusError, h.session.Status())

	h.store.FailList(nil)
	require.NoError(t, h.session.Reconnect(t.Context()))
	listBefore, _, _ := h.store.Calls()
	opensBefore := h.opener.count()
	genBefore := h.session.State().Generation

	// The old retry timer fires despite having been stopped
	h.clock.Advance(2 * time.Second)

	listAfter, _, _ := h.store.Calls()
	assert.Equal(t, listBefore, listAfter)
	assert.Equal(t, opensBefore, h.opener.count())
	assert.Equal(t, genBefore, h.session.State().Generation)
}

func TestSession_StaleFramesAreDropped(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	old := h.connect()
	oldGen := h.session.State().Generation

	require.NoError(t, h.session.Reconnect(t.Context()))
	h.subscribe()

	h.session.handleFrame(oldGen, old, realtime.InsertFrame(msg("m1", "u1", store.RoleAgent, false)))
	h.session.handleFrame(oldGen, old, realtime.StatusFrame(realtime.StatusError, nil))
	h.session.handleFrame(oldGen, old, realtime.StatusFrame(realtime.StatusClosed, nil))

	assert.Empty(t, h.session.Messages())
	assert.Equal(t, 0, h.session.UnreadCount())
	assert.Equal(t, StatusConnected, h.session.Status())
	assert.Equal(t, 0, h.session.State().RetryCount)
}

func TestSession_ForeignRoomFramesAreDropped(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	ch := h.connect()

	ch.push(realtime.InsertFrame(msg("x1", "u2", store.RoleAgent, false)))
	ch.push(realtime.InsertFrame(msg("m1", "u1", store.RoleAgent, false)))
	h.waitUnread(1)

	msgs := h.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestSession_MalformedFramesDoNotBreakSession(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	ch := h.connect()

	ch.push(nil)
	ch.push(&realtime.Frame{Type: realtime.FrameInsert})
	ch.push(&realtime.Frame{Type: "mystery"})
	ch.push(realtime.InsertFrame(msg("m1", "u1", store.RoleAgent, false)))
	h.waitUnread(1)
	assert.Equal(t, StatusConnected, h.session.Status())
}

func TestSession_RoomSwitchClearsBeforeHistoryArrives(t *testing.T) {
	h := newHarness(t, agent("a1"), AgentFor("c1"))
	h.store.Seed(
		msg("m1", "c1", store.RoleCustomer, false),
		msg("m2", "c1", store.RoleCustomer, false),
		msg("n1", "c2", store.RoleCustomer, true),
	)
	old := h.connect()
	require.Equal(t, 2, h.session.UnreadCount())

	type snapshot struct{ messages, unread int }
	var during []snapshot
	h.store.OnList(func(room string) {
		if room == "c2" {
			during = append(during, snapshot{len(h.session.Messages()), h.session.UnreadCount()})
		}
	})

	require.NoError(t, h.session.SetMode(t.Context(), AgentFor("c2")))

	require.Len(t, during, 1)
	assert.Equal(t, snapshot{0, 0}, during[0])
	assert.True(t, old.isClosed())
	assert.Equal(t, "c2", h.session.CurrentRoom())
	assert.Equal(t, "c2", h.opener.latest().room)

	h.subscribe()
	msgs := h.session.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "n1", msgs[0].ID)
	assert.Equal(t, 0, h.session.UnreadCount())
}

func TestSession_UnreadAccountingThenMarkAllRead(t *testing.T) {
	h := newHarness(t, agent("a1"), AgentFor("c1"))
	ch := h.connect()

	for _, id := range []string{"m1", "m2", "m3"} {
		m := msg(id, "c1", store.RoleCustomer, false)
		h.store.Seed(m)
		ch.push(realtime.InsertFrame(m))
	}
	outgoing := msg("m4", "c1", store.RoleAgent, false)
	h.store.Seed(outgoing)
	ch.push(realtime.InsertFrame(outgoing))
	h.waitUnread(3)

	require.NoError(t, h.session.MarkAllRead(t.Context()))
	assert.Equal(t, 0, h.session.UnreadCount())
	for _, m := range h.session.Messages() {
		assert.Equal(t, m.SenderRole == store.RoleCustomer, m.Read, "message %s", m.ID)
	}

	stored, err := h.store.ListMessages(t.Context(), "c1", 0)
	require.NoError(t, err)
	for _, m := range stored {
		assert.Equal(t, m.SenderRole == store.RoleCustomer, m.Read, "stored message %s", m.ID)
	}
	h.changes.waitKinds(t, ChangeRead, 1)
}

func TestSession_MarkAllReadFailureLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.store.Seed(msg("m1", "u1", store.RoleAgent, false))
	h.connect()
	h.store.FailUpdate(errors.New("write timeout"))

	err := h.session.MarkAllRead(t.Context())
	require.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, 1, h.session.UnreadCount())
	assert.False(t, h.session.Messages()[0].Read)

	_, _, updates := h.store.Calls()
	assert.Equal(t, 1, updates, "no automatic retry")
}

func TestSession_MarkAllReadPreconditions(t *testing.T) {
	h := newHarness(t, nil, SelfService())
	assert.ErrorIs(t, h.session.MarkAllRead(t.Context()), ErrUnauthenticated)
}

func TestSession_UnauthenticatedStart(t *testing.T) {
	h := newHarness(t, nil, SelfService())

	err := h.session.Start(t.Context())
	require.ErrorIs(t, err, ErrUnauthenticated)
	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.Empty(t, h.session.CurrentRoom())

	list, _, _ := h.store.Calls()
	assert.Equal(t, 0, list)
	assert.Equal(t, 0, h.opener.count())
	assert.Empty(t, h.clock.PendingDelays(), "unauthenticated is never retried")
}

func TestSession_CustomerCannotUseAgentMode(t *testing.T) {
	h := newHarness(t, customer("u1"), AgentFor("c1"))

	err := h.session.Start(t.Context())
	require.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.Equal(t, 0, h.opener.count())
}

func TestSession_SignOutTearsDown(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.store.Seed(msg("m1", "u1", store.RoleAgent, false))
	ch := h.connect()

	h.identity.set(nil)

	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.Empty(t, h.session.Messages())
	assert.Equal(t, 0, h.session.UnreadCount())
	assert.Empty(t, h.session.CurrentRoom())
	assert.True(t, ch.isClosed())
	assert.Empty(t, h.clock.PendingDelays())
	assert.ErrorIs(t, h.session.LastError(), ErrUnauthenticated)
}

func TestSession_PrincipalSwitchReconnects(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()

	h.identity.set(customer("u2"))

	require.Eventually(t, func() bool {
		return h.session.CurrentRoom() == "u2" && h.opener.count() == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "u2", h.opener.latest().room)
}

func TestSession_SamePrincipalNotificationIsIgnored(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()
	gen := h.session.State().Generation

	h.identity.set(customer("u1"))

	assert.Never(t, func() bool {
		return h.session.State().Generation != gen
	}, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSession_HeartbeatEmittedWhileConnected(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	ch := h.connect()
	gen := h.session.State().Generation

	h.clock.Advance(DefaultHeartbeatInterval)

	sent := ch.sentFrames()
	require.Len(t, sent, 1)
	require.Equal(t, realtime.FrameHeartbeat, sent[0].Type)
	assert.Equal(t, gen, sent[0].Heartbeat.Generation)
	assert.Equal(t, "u1", sent[0].Heartbeat.Room)
	assert.Equal(t, "u1", sent[0].Heartbeat.Sender)
	assert.True(t, h.session.Healthy())
}

func TestSession_StaleHeartbeatForcesReconnect(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	old := h.connect()

	for range 4 {
		h.clock.Advance(DefaultHeartbeatInterval)
	}

	assert.True(t, old.isClosed())
	assert.Equal(t, 2, h.opener.count())
	assert.Equal(t, StatusConnecting, h.session.Status())
}

// staleCycle lets a subscribed channel go silent until the monitor gives up on it.
func (h *harness) staleCycle() {
	h.t.Helper()
	for range 4 {
		h.clock.Advance(DefaultHeartbeatInterval)
	}
}

func TestSession_SilentChannelStopsAfterRetryBudget(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()

	for i := range DefaultMaxReconnectAttempts {
		h.staleCycle()
		require.Equal(t, i+2, h.opener.count(), "stale reconnect %d", i+1)
		h.subscribe()
	}

	h.staleCycle()

	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.Equal(t, DefaultMaxReconnectAttempts+1, h.opener.count())
	assert.True(t, h.opener.latest().isClosed())
	assert.ErrorIs(t, h.session.LastError(), ErrRetriesExhausted)
	assert.Empty(t, h.clock.PendingDelays())

	// A manual reconnect gets a fresh budget
	require.NoError(t, h.session.Reconnect(t.Context()))
	h.subscribe()
	h.staleCycle()
	assert.Equal(t, DefaultMaxReconnectAttempts+3, h.opener.count())
}

func TestSession_ReceivedHeartbeatResetsSilentBudget(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()

	for range DefaultMaxReconnectAttempts {
		h.staleCycle()
		h.subscribe()
	}

	ch := h.opener.latest()
	ch.push(realtime.HeartbeatFrame(realtime.Heartbeat{Room: "u1", Sender: "agent-7"}))
	want := h.clock.Now()
	require.Eventually(t, func() bool {
		return h.session.State().LastHeartbeat.Equal(want)
	}, time.Second, 5*time.Millisecond)

	h.staleCycle()

	assert.Equal(t, StatusConnecting, h.session.Status())
	assert.Equal(t, DefaultMaxReconnectAttempts+2, h.opener.count())
}

func TestSession_PeerHeartbeatKeepsChannelHealthy(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	ch := h.connect()

	h.clock.Advance(80 * time.Second)
	ch.push(realtime.HeartbeatFrame(realtime.Heartbeat{Generation: 42, Room: "u1", Sender: "agent-7"}))
	want := h.clock.Now()
	require.Eventually(t, func() bool {
		return h.session.State().LastHeartbeat.Equal(want)
	}, time.Second, 5*time.Millisecond)

	h.clock.Advance(40 * time.Second)
	assert.Equal(t, 1, h.opener.count())
	assert.True(t, h.session.Healthy())
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	ch := h.connect()
	require.Equal(t, 1, h.identity.listenerCount())

	require.NoError(t, h.session.Close())
	require.NoError(t, h.session.Close())

	assert.Equal(t, StatusDisconnected, h.session.Status())
	assert.True(t, ch.isClosed())
	assert.Empty(t, h.clock.PendingDelays())
	assert.Equal(t, 0, h.identity.listenerCount())
	assert.False(t, h.session.Send(t.Context(), "hi"))
	assert.ErrorIs(t, h.session.Reconnect(t.Context()), ErrClosed)
	assert.ErrorIs(t, h.session.Start(t.Context()), ErrClosed)
}

func TestSession_ListenerSeesStatusTransitionsInOrder(t *testing.T) {
	h := newHarness(t, customer("u1"), SelfService())
	h.connect()
	h.session.Close()

	var statuses []Status
	for _, c := range h.changes.waitKinds(t, ChangeStatus, 3) {
		statuses = append(statuses, c.Status)
	}
	assert.Equal(t, []Status{StatusConnecting, StatusConnected, StatusDisconnected}, statuses)
}

func TestSession_ListenerMayCallBack(t *testing.T) {
	clock := newFakeClock()
	opener := &fakeOpener{}
	var s *Session
	var seen []int
	s = NewSession(Options{
		Identity: newFakeIdentity(customer("u1")),
		Store:    store.NewMockStore(),
		Channels: opener,
		Clock:    clock,
		Listener: func(c Change) {
			seen = append(seen, s.UnreadCount())
		},
	})
	defer s.Close()

	require.NoError(t, s.Start(t.Context()))
	assert.NotEmpty(t, seen)
}
