// ABOUTME: Liveness tracking for the active channel
// ABOUTME: Emits a heartbeat every interval and judges health against a timeout

package chat

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/mealdesk/internal/realtime"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultHeartbeatTimeout  = 90 * time.Second
)

// heartbeatHooks connect the monitor to the session that owns it. Hooks are
// always called without the monitor's lock held.
type heartbeatHooks struct {
	// current reports whether gen is still the live, connected generation.
	current func(gen uint64) bool
	// emit sends hb on the channel of gen.
	emit func(gen uint64, hb realtime.Heartbeat) error
	// stale is called instead of emitting once the channel looks dead.
	stale func(gen uint64)
}

// HeartbeatMonitor emits heartbeats for one generation at a time.
type HeartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration
	clock    Clock
	logger   *slog.Logger

	mu         sync.Mutex
	last       time.Time
	generation uint64
	room       string
	running    bool
	timer      Timer
	hooks      heartbeatHooks
}

// NewHeartbeatMonitor creates a stopped monitor.
func NewHeartbeatMonitor(interval, timeout time.Duration, clock Clock, logger *slog.Logger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HeartbeatMonitor{
		interval: interval,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
	}
}

// Start records a heartbeat now and schedules emission for gen, replacing
// any previous schedule.
func (h *HeartbeatMonitor) Start(gen uint64, room string, hooks heartbeatHooks) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()
	h.generation = gen
	h.room = room
	h.hooks = hooks
	h.running = true
	h.last = h.clock.Now()
	h.timer = h.clock.AfterFunc(h.interval, func() { h.tick(gen) })
}

// Stop cancels emission. Safe to call repeatedly.
func (h *HeartbeatMonitor) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *HeartbeatMonitor) stopLocked() {
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	h.running = false
}

// Touch records a liveness signal observed at t.
func (h *HeartbeatMonitor) Touch(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t.After(h.last) {
		h.last = t
	}
}

// LastHeartbeat returns the most recent liveness signal.
func (h *HeartbeatMonitor) LastHeartbeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// Healthy reports whether a signal arrived within the timeout.
func (h *HeartbeatMonitor) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthyLocked()
}

func (h *HeartbeatMonitor) healthyLocked() bool {
	if h.last.IsZero() {
		return false
	}
	return h.clock.Now().Sub(h.last) <= h.timeout
}

func (h *HeartbeatMonitor) tick(gen uint64) {
	h.mu.Lock()
	if !h.running || h.generation != gen {
		h.mu.Unlock()
		return
	}
	h.timer = nil
	hooks := h.hooks
	room := h.room
	h.mu.Unlock()

	if !hooks.current(gen) {
		h.logger.Debug("heartbeat monitor cancelled", "generation", gen)
		h.mu.Lock()
		if h.generation == gen {
			h.stopLocked()
		}
		h.mu.Unlock()
		return
	}

	h.mu.Lock()
	healthy := h.healthyLocked()
	last := h.last
	h.mu.Unlock()

	if !healthy {
		h.logger.Warn("channel heartbeat timed out",
			"generation", gen,
			"room", room,
			"last_heartbeat", last,
		)
		h.mu.Lock()
		if h.generation == gen {
			h.stopLocked()
		}
		h.mu.Unlock()
		hooks.stale(gen)
		return
	}

	hb := realtime.Heartbeat{Generation: gen, Room: room, At: h.clock.Now()}
	if err := hooks.emit(gen, hb); err != nil {
		h.logger.Warn("failed to send heartbeat", "generation", gen, "error", err)
	}

	h.mu.Lock()
	if h.running && h.generation == gen {
		h.timer = h.clock.AfterFunc(h.interval, func() { h.tick(gen) })
	}
	h.mu.Unlock()
}
