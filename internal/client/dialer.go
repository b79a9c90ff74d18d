// ABOUTME: Websocket change-channel client for a gateway room
// ABOUTME: Turns the socket's lifecycle into subscribed, timeout, closed and error status frames

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/mealdesk/internal/chat"
	"github.com/2389/mealdesk/internal/realtime"
)

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errors.New("channel closed")

const (
	DefaultSubscribeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second

	notificationBuffer = 64
)

// DialerConfig configures a Dialer.
type DialerConfig struct {
	// BaseURL is the gateway's HTTP base URL; http/https map to ws/wss.
	BaseURL string
	Tokens  TokenSource

	// SubscribeTimeout bounds the wait for the "subscribed" acknowledgement.
	SubscribeTimeout time.Duration
	WriteTimeout     time.Duration

	Logger *slog.Logger
}

// Dialer opens websocket channels to gateway rooms.
type Dialer struct {
	cfg    DialerConfig
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewDialer creates a Dialer.
func NewDialer(cfg DialerConfig) *Dialer {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tokens == nil {
		cfg.Tokens = StaticToken("")
	}
	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.SubscribeTimeout,
		},
		logger: cfg.Logger.With("component", "dialer"),
	}
}

// Open dials the room's websocket. ctx bounds only the handshake; the
// returned channel lives until Close or a remote failure.
func (d *Dialer) Open(ctx context.Context, room string) (chat.Channel, error) {
	wsURL, err := d.roomURL(room)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	if tok := d.cfg.Tokens.Token(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, fmt.Errorf("dialing %s: %w", room, handleErrorResponse(resp))
		}
		return nil, fmt.Errorf("dialing %s: %w", room, err)
	}

	ch := &wsChannel{
		conn:         conn,
		room:         room,
		frames:       make(chan *realtime.Frame, notificationBuffer),
		done:         make(chan struct{}),
		writeTimeout: d.cfg.WriteTimeout,
		logger:       d.logger.With("room", room),
	}
	go ch.readLoop(d.cfg.SubscribeTimeout)
	return ch, nil
}

func (d *Dialer) roomURL(room string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(d.cfg.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported gateway url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + roomPath(room, "ws")
	return u.String(), nil
}

// wsChannel is one room subscription. The read loop is the only sender on
// frames and closes it when it exits.
type wsChannel struct {
	conn         *websocket.Conn
	room         string
	frames       chan *realtime.Frame
	done         chan struct{}
	closeOnce    sync.Once
	writeMu      sync.Mutex
	writeTimeout time.Duration
	logger       *slog.Logger
}

func (c *wsChannel) Notifications() <-chan *realtime.Frame {
	return c.frames
}

// Send writes a frame to the gateway.
func (c *wsChannel) Send(ctx context.Context, frame *realtime.Frame) error {
	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encoding frame: %w", err)
	}

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Close ends the subscription without reporting a status frame. The close
// handshake runs in the background.
func (c *wsChannel) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			_ = c.conn.Close()
		}()
	})
	return nil
}

func (c *wsChannel) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// deliver hands a frame to the consumer unless the channel was closed.
func (c *wsChannel) deliver(frame *realtime.Frame) bool {
	select {
	case c.frames <- frame:
		return true
	case <-c.done:
		return false
	}
}

func (c *wsChannel) readLoop(subscribeTimeout time.Duration) {
	defer close(c.frames)
	defer c.conn.Close()

	_ = c.conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	subscribed := false

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed() {
				c.deliver(c.statusFor(err, subscribed))
			}
			return
		}

		frame, err := realtime.Decode(data)
		if err != nil {
			c.logger.Debug("dropping malformed frame", "error", err)
			continue
		}

		if !subscribed && frame.Type == realtime.FrameStatus && frame.Status == realtime.StatusSubscribed {
			subscribed = true
			// Liveness from here on is judged by the session's heartbeat
			_ = c.conn.SetReadDeadline(time.Time{})
		}

		if !c.deliver(frame) {
			return
		}
	}
}

// statusFor maps a read failure to the status frame reported to the consumer.
func (c *wsChannel) statusFor(err error, subscribed bool) *realtime.Frame {
	var netErr net.Error
	if !subscribed && errors.As(err, &netErr) && netErr.Timeout() {
		c.logger.Warn("subscription not acknowledged in time")
		return realtime.StatusFrame(realtime.StatusTimeout, errors.New("subscription timed out"))
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		c.logger.Info("channel closed by gateway")
		return realtime.StatusFrame(realtime.StatusClosed, nil)
	}
	c.logger.Warn("channel failed", "error", err)
	return realtime.StatusFrame(realtime.StatusError, err)
}
