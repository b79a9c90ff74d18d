// ABOUTME: Tests for HeartbeatMonitor
// ABOUTME: Covers emission cadence, self-cancellation and the health threshold

package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mealdesk/internal/realtime"
)

type hookRecorder struct {
	mu      sync.Mutex
	live    bool
	emitted []realtime.Heartbeat
	stale   []uint64
}

func (r *hookRecorder) hooks() heartbeatHooks {
	return heartbeatHooks{
		current: func(gen uint64) bool {
			r.mu.Lock()
			defer r.mu.Unlock()
			return r.live
		},
		emit: func(gen uint64, hb realtime.Heartbeat) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.emitted = append(r.emitted, hb)
			return nil
		},
		stale: func(gen uint64) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.stale = append(r.stale, gen)
		},
	}
}

func TestHeartbeatMonitor_EmitsEveryInterval(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeatMonitor(30*time.Second, 90*time.Second, clock, nil)
	rec := &hookRecorder{live: true}

	h.Start(7, "u1", rec.hooks())
	clock.Advance(29 * time.Second)
	assert.Empty(t, rec.emitted)

	clock.Advance(time.Second)
	require.Len(t, rec.emitted, 1)
	assert.Equal(t, uint64(7), rec.emitted[0].Generation)
	assert.Equal(t, "u1", rec.emitted[0].Room)

	h.Touch(clock.Now())
	clock.Advance(60 * time.Second)
	assert.Len(t, rec.emitted, 3)
	assert.Empty(t, rec.stale)
}

func TestHeartbeatMonitor_SelfCancelsWhenGenerationNotCurrent(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeatMonitor(30*time.Second, 90*time.Second, clock, nil)
	rec := &hookRecorder{live: false}

	h.Start(1, "u1", rec.hooks())
	clock.Advance(30 * time.Second)

	assert.Empty(t, rec.emitted)
	assert.Empty(t, clock.PendingDelays(), "cancelled monitor must not reschedule")
}

func TestHeartbeatMonitor_StaleChannelReported(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeatMonitor(30*time.Second, 90*time.Second, clock, nil)
	rec := &hookRecorder{live: true}

	h.Start(2, "u1", rec.hooks())
	clock.Advance(90 * time.Second)
	assert.True(t, h.Healthy(), "exactly at the timeout is still healthy")
	assert.Len(t, rec.emitted, 3)

	clock.Advance(30 * time.Second)
	assert.False(t, h.Healthy())
	assert.Equal(t, []uint64{2}, rec.stale)
	assert.Len(t, rec.emitted, 3, "no heartbeat sent on a stale channel")
	assert.Empty(t, clock.PendingDelays())
}

func TestHeartbeatMonitor_StopIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeatMonitor(0, 0, clock, nil)
	rec := &hookRecorder{live: true}

	h.Start(1, "u1", rec.hooks())
	h.Stop()
	h.Stop()
	clock.Advance(time.Hour)
	assert.Empty(t, rec.emitted)
}

func TestHeartbeatMonitor_TouchNeverMovesBackwards(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeatMonitor(0, 0, clock, nil)
	assert.False(t, h.Healthy(), "no signal yet")

	now := clock.Now()
	h.Touch(now)
	h.Touch(now.Add(-time.Minute))
	assert.Equal(t, now, h.LastHeartbeat())
	assert.True(t, h.Healthy())
}

func TestHeartbeatMonitor_RestartReplacesGeneration(t *testing.T) {
	clock := newFakeClock()
	h := NewHeartbeatMonitor(30*time.Second, 90*time.Second, clock, nil)
	rec := &hookRecorder{live: true}

	h.Start(1, "u1", rec.hooks())
	h.Start(2, "u1", rec.hooks())
	clock.Advance(30 * time.Second)

	require.Len(t, rec.emitted, 1)
	assert.Equal(t, uint64(2), rec.emitted[0].Generation)
}
