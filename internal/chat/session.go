// ABOUTME: Session owns one viewer's live connection to a support chat room
// ABOUTME: Resolves the room, loads history, subscribes and recovers with backoff

package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/mealdesk/internal/realtime"
	"github.com/2389/mealdesk/internal/store"
)

// Config tunes a session. Zero fields take the defaults.
type Config struct {
	HistoryLimit      int
	Backoff           Backoff
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:      store.DefaultHistoryLimit,
		Backoff:           DefaultBackoff(),
		HeartbeatInterval: DefaultHeartbeatInterval,
		HeartbeatTimeout:  DefaultHeartbeatTimeout,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	c.Backoff = c.Backoff.withDefaults()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	return c
}

// Options configures NewSession. Identity, Store and Channels are required.
type Options struct {
	Identity IdentityProvider
	Store    MessageStore
	Channels ChannelOpener
	Mode     Mode
	Config   Config
	Clock    Clock
	Logger   *slog.Logger
	Listener Listener
}

// Session is the connection manager for one viewer. All state transitions
// happen under mu; every timer and consumer goroutine carries the generation
// it was created under and does nothing once that generation is superseded.
type Session struct {
	identity IdentityProvider
	store    MessageStore
	channels ChannelOpener
	cfg      Config
	clock    Clock
	logger   *slog.Logger
	listener Listener

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	mode        Mode
	principal   *Principal
	status      Status
	generation  uint64
	retries     int
	staleRuns   int // heartbeat-timeout reconnects since the last heartbeat seen
	lastErr     error
	channel     Channel
	retryTimer  Timer
	closed      bool
	unsubscribe func()
	timeline    *Timeline
	dispatcher  *Dispatcher
	heartbeat   *HeartbeatMonitor
	pending     []Change

	flushMu sync.Mutex
}

// NewSession creates a disconnected session. Call Start to connect.
func NewSession(opts Options) *Session {
	cfg := opts.Config.withDefaults()
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "chat")

	ctx, cancel := context.WithCancel(context.Background())
	timeline := NewTimeline()

	return &Session{
		identity:   opts.Identity,
		store:      opts.Store,
		channels:   opts.Channels,
		cfg:        cfg,
		clock:      clock,
		logger:     logger,
		listener:   opts.Listener,
		ctx:        ctx,
		cancel:     cancel,
		mode:       opts.Mode,
		status:     StatusDisconnected,
		timeline:   timeline,
		dispatcher: NewDispatcher(timeline, logger),
		heartbeat:  NewHeartbeatMonitor(cfg.HeartbeatInterval, cfg.HeartbeatTimeout, clock, logger),
	}
}

// Start subscribes to principal changes and runs the first load and connect.
// It returns ErrUnauthenticated or ErrForbidden when no room can be resolved;
// transport failures are retried in the background and reported via Status.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	subscribe := s.unsubscribe == nil && s.identity != nil
	gen := s.generation
	s.mu.Unlock()

	if subscribe {
		cancel := s.identity.OnPrincipalChange(s.principalChanged)
		s.mu.Lock()
		if s.closed || s.unsubscribe != nil {
			s.mu.Unlock()
			cancel()
		} else {
			s.unsubscribe = cancel
			s.mu.Unlock()
		}
	}

	return s.bootstrap(ctx, gen)
}

// Reconnect discards the current connection and runs load then connect again
// with a fresh retry budget, whatever the current status.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	s.staleRuns = 0
	s.mu.Unlock()
	return s.reconnect(ctx)
}

func (s *Session) reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.generation++
	s.retries = 0
	s.teardownLocked()
	gen := s.generation
	s.mu.Unlock()

	s.logger.Info("reconnecting", "generation", gen)
	return s.bootstrap(ctx, gen)
}

// SetMode switches between self-service and agent mode. A change of room
// resets the message list before the new history arrives.
func (s *Session) SetMode(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.mode = mode
	s.mu.Unlock()
	return s.Reconnect(ctx)
}

// Close tears the session down. Safe to call repeatedly.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.generation++
	s.teardownLocked()
	s.setStatusLocked(StatusDisconnected)
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.cancel()
	s.flush()
	s.logger.Info("chat session closed")
	return nil
}

// bootstrap resolves the room and runs load then connect under gen.
func (s *Session) bootstrap(ctx context.Context, gen uint64) error {
	principal, identityErr := s.currentPrincipal(ctx)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		s.logger.Debug("skipping superseded bootstrap", "generation", gen)
		return nil
	}

	room, err := ResolveRoom(principal, s.mode)
	if identityErr != nil {
		err = fmt.Errorf("%w: %w", ErrUnauthenticated, identityErr)
	}
	if err != nil {
		s.generation++
		s.teardownLocked()
		s.principal = nil
		s.lastErr = err
		if s.timeline.Room() != "" || s.timeline.Len() > 0 {
			s.timeline.Reset("", s.mode.IncomingRole())
			s.queue(Change{Kind: ChangeHistory})
		}
		s.setStatusLocked(StatusDisconnected)
		s.mu.Unlock()
		s.flush()
		s.logger.Warn("cannot resolve chat room", "mode", s.mode.String(), "error", err)
		return err
	}

	s.principal = principal
	if room != s.timeline.Room() || s.mode.IncomingRole() != s.timeline.incoming {
		s.resetRoomLocked(room)
	}
	gen = s.generation
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()
	s.flush()

	if !s.load(ctx, gen) {
		return nil
	}
	s.connect(ctx, gen)
	return nil
}

func (s *Session) currentPrincipal(ctx context.Context) (*Principal, error) {
	if s.identity == nil {
		return nil, nil
	}
	return s.identity.CurrentPrincipal(ctx)
}

// resetRoomLocked switches to room, dropping everything tied to the old one.
func (s *Session) resetRoomLocked(room string) {
	prev := s.timeline.Room()
	s.generation++
	s.teardownLocked()
	s.timeline.Reset(room, s.mode.IncomingRole())
	s.queue(Change{Kind: ChangeHistory, Room: room})
	s.logger.Info("chat room changed", "from", prev, "to", room, "mode", s.mode.String())
}

// connect opens a channel for the current room under a new generation.
func (s *Session) connect(ctx context.Context, gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.generation++
	gen = s.generation
	room := s.timeline.Room()
	s.setStatusLocked(StatusConnecting)
	s.mu.Unlock()
	s.flush()

	ch, err := s.channels.Open(ctx, room)

	s.mu.Lock()
	if s.closed || gen != s.generation {
		s.mu.Unlock()
		if ch != nil {
			ch.Close()
		}
		s.logger.Debug("discarding superseded channel", "generation", gen)
		return
	}
	if err != nil {
		s.failLocked(gen, fmt.Errorf("%w: opening channel: %w", ErrTransport, err))
		s.mu.Unlock()
		s.flush()
		return
	}
	s.channel = ch
	s.mu.Unlock()

	s.logger.Debug("channel opened", "room", room, "generation", gen)
	go s.consume(gen, ch)
}

// consume applies frames from ch until it is closed.
func (s *Session) consume(gen uint64, ch Channel) {
	for frame := range ch.Notifications() {
		s.handleFrame(gen, ch, frame)
	}
}

func (s *Session) handleFrame(gen uint64, ch Channel, frame *realtime.Frame) {
	s.mu.Lock()
	if s.closed || gen != s.generation || s.channel != ch {
		s.mu.Unlock()
		s.logger.Debug("dropping frame from superseded channel", "generation", gen)
		return
	}

	switch {
	case frame == nil:
		s.logger.Warn("dropping nil frame")
	case frame.Type == realtime.FrameStatus:
		s.handleStatusLocked(gen, frame)
	case frame.Type == realtime.FrameHeartbeat:
		if frame.Heartbeat != nil && frame.Heartbeat.Room == s.timeline.Room() {
			s.heartbeat.Touch(s.clock.Now())
			s.staleRuns = 0
		} else {
			s.logger.Debug("dropping heartbeat for another room")
		}
	default:
		_, changes := s.dispatcher.Apply(frame, gen, s.generation)
		s.queue(changes...)
	}
	s.mu.Unlock()
	s.flush()
}

func (s *Session) handleStatusLocked(gen uint64, frame *realtime.Frame) {
	switch frame.Status {
	case realtime.StatusSubscribed:
		s.retries = 0
		s.lastErr = nil
		s.setStatusLocked(StatusConnected)
		s.heartbeat.Start(gen, s.timeline.Room(), s.heartbeatHooks())
		s.logger.Info("chat channel subscribed", "room", s.timeline.Room(), "generation", gen)

	case realtime.StatusError, realtime.StatusTimeout:
		reason := frame.Error
		if reason == "" {
			reason = string(frame.Status)
		}
		s.failLocked(gen, fmt.Errorf("%w: subscription %s: %s", ErrTransport, frame.Status, reason))

	case realtime.StatusClosed:
		s.teardownLocked()
		s.setStatusLocked(StatusDisconnected)
		s.logger.Info("chat channel closed by server", "room", s.timeline.Room(), "generation", gen)

	default:
		s.logger.Warn("dropping unknown subscription status", "status", frame.Status)
	}
}

// failLocked records a transport failure and schedules the next attempt, or
// gives up once the retry budget is spent.
func (s *Session) failLocked(gen uint64, err error) {
	s.lastErr = err
	s.teardownLocked()
	s.setStatusLocked(StatusError)

	if s.cfg.Backoff.Exhausted(s.retries) {
		s.lastErr = fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		s.setStatusLocked(StatusDisconnected)
		s.logger.Error("giving up on chat connection",
			"room", s.timeline.Room(),
			"attempts", s.retries,
			"error", err,
		)
		return
	}

	delay := s.cfg.Backoff.Delay(s.retries)
	s.retries++
	s.logger.Warn("chat connection failed, retrying",
		"room", s.timeline.Room(),
		"attempt", s.retries,
		"delay", delay,
		"error", err,
	)
	s.scheduleLocked(gen, delay, func() {
		if err := s.bootstrap(s.ctx, gen); err != nil {
			s.logger.Warn("retry failed", "error", err)
		}
	})
}

// scheduleLocked runs fn after delay unless gen has been superseded by then.
func (s *Session) scheduleLocked(gen uint64, delay time.Duration, fn func()) {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.closed || gen != s.generation {
			s.mu.Unlock()
			s.logger.Debug("ignoring stale retry timer", "generation", gen)
			return
		}
		s.retryTimer = nil
		s.mu.Unlock()
		fn()
	})
}

// teardownLocked releases the channel, heartbeat and any pending retry.
// Idempotent.
func (s *Session) teardownLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.heartbeat.Stop()
	if s.channel != nil {
		ch := s.channel
		s.channel = nil
		if err := ch.Close(); err != nil {
			s.logger.Debug("error closing channel", "error", err)
		}
	}
}

func (s *Session) heartbeatHooks() heartbeatHooks {
	return heartbeatHooks{
		current: func(gen uint64) bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			return !s.closed && gen == s.generation && s.status == StatusConnected
		},
		emit: func(gen uint64, hb realtime.Heartbeat) error {
			s.mu.Lock()
			ch := s.channel
			if gen != s.generation || ch == nil {
				s.mu.Unlock()
				return ErrStaleEvent
			}
			if s.principal != nil {
				hb.Sender = s.principal.ID
			}
			s.mu.Unlock()
			return ch.Send(s.ctx, realtime.HeartbeatFrame(hb))
		},
		stale: func(gen uint64) {
			s.mu.Lock()
			if s.closed || gen != s.generation {
				s.mu.Unlock()
				return
			}
			// A backend that acks subscriptions but never relays heartbeats
			// would otherwise be reconnected forever.
			if s.cfg.Backoff.Exhausted(s.staleRuns) {
				s.teardownLocked()
				s.lastErr = fmt.Errorf("%w: %w: no heartbeat within %s", ErrRetriesExhausted, ErrTransport, s.cfg.HeartbeatTimeout)
				s.setStatusLocked(StatusDisconnected)
				s.logger.Error("giving up on silent chat channel",
					"room", s.timeline.Room(),
					"attempts", s.staleRuns,
				)
				s.mu.Unlock()
				s.flush()
				return
			}
			s.staleRuns++
			s.mu.Unlock()
			if err := s.reconnect(s.ctx); err != nil && !errors.Is(err, ErrClosed) {
				s.logger.Warn("reconnect after heartbeat timeout failed", "error", err)
			}
		},
	}
}

// principalChanged reacts to sign-in, sign-out and account switches.
func (s *Session) principalChanged(p *Principal) {
	if p == nil {
		s.signOut()
		return
	}

	s.mu.Lock()
	same := s.principal != nil && s.principal.ID == p.ID && s.principal.Role == p.Role
	closed := s.closed
	s.mu.Unlock()
	if same || closed {
		return
	}

	go func() {
		if err := s.Reconnect(s.ctx); err != nil && !errors.Is(err, ErrClosed) {
			s.logger.Warn("reconnect after principal change failed", "error", err)
		}
	}()
}

func (s *Session) signOut() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.generation++
	s.teardownLocked()
	s.principal = nil
	s.lastErr = ErrUnauthenticated
	s.timeline.Reset("", s.mode.IncomingRole())
	s.queue(Change{Kind: ChangeHistory})
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()
	s.flush()
	s.logger.Info("principal signed out, chat session reset")
}

func (s *Session) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	s.queue(Change{Kind: ChangeStatus, Status: status, Room: s.timeline.Room()})
}

// queue buffers changes for delivery once mu is released.
func (s *Session) queue(changes ...Change) {
	if s.listener == nil {
		return
	}
	s.pending = append(s.pending, changes...)
}

// flush delivers queued changes in order. A listener that calls back into
// the session re-enters flush, which leaves delivery to the outer call.
func (s *Session) flush() {
	for {
		if !s.flushMu.TryLock() {
			return
		}
		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, c := range batch {
				s.listener(c)
			}
		}
		s.flushMu.Unlock()

		s.mu.Lock()
		more := len(s.pending) > 0
		s.mu.Unlock()
		if !more {
			return
		}
	}
}

// Messages returns a copy of the current message list.
func (s *Session) Messages() []*store.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Messages()
}

// Status returns the connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// State returns a snapshot of the connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ConnectionState{
		Status:        s.status,
		Generation:    s.generation,
		RetryCount:    s.retries,
		LastHeartbeat: s.heartbeat.LastHeartbeat(),
		Room:          s.timeline.Room(),
		LastError:     s.lastErr,
	}
}

// UnreadCount returns how many incoming messages are unread.
func (s *Session) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Unread()
}

// CurrentRoom returns the resolved room, or "" before resolution.
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline.Room()
}

// Mode returns the operating mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// LastError returns the failure behind the current error or disconnected
// status, or nil.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Healthy reports whether the session is connected and has seen a liveness
// signal within the heartbeat timeout.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	connected := s.status == StatusConnected
	s.mu.Unlock()
	return connected && s.heartbeat.Healthy()
}
