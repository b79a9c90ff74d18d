// ABOUTME: Websocket endpoint delivering a room's change notifications to one client
// ABOUTME: Acknowledges the subscription, relays insert/update/heartbeat frames and keeps the link alive with pings

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/mealdesk/internal/auth"
	"github.com/2389/mealdesk/internal/realtime"
)

const (
	wsReadLimit = int64(64 << 10) // largest client frame accepted
)

// handleWebSocket handles GET /api/rooms/{room}/ws. The subscription is
// registered before the "subscribed" status frame is written, so a client
// that sees the acknowledgement will not miss later writes.
func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	authCtx := auth.MustFromContext(r.Context())
	room := roomParam(r)

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		g.logger.Debug("websocket upgrade failed", "room", room, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames, subID := g.conversation.Subscribe(ctx, room)
	defer g.conversation.Unsubscribe(room, subID)

	logger := g.logger.With("room", room, "principal_id", authCtx.PrincipalID, "sub_id", subID)
	logger.Info("websocket subscribed")

	link := &wsLink{
		conn:         conn,
		writeTimeout: g.config.Realtime.WriteTimeout,
		readTimeout:  g.config.Realtime.HeartbeatTimeout,
	}

	if err := link.writeFrame(realtime.StatusFrame(realtime.StatusSubscribed, nil)); err != nil {
		logger.Debug("failed to acknowledge subscription", "error", err)
		_ = conn.Close()
		return
	}

	go func() {
		defer cancel()
		g.readLoop(link, room, authCtx)
	}()

	reason := g.writeLoop(ctx, link, frames)
	logger.Info("websocket closed", "reason", reason)
}

// wsLink wraps a websocket connection with the gateway's deadlines. Only the
// write loop calls the write methods.
type wsLink struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration
}

func (l *wsLink) writeFrame(frame *realtime.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	return l.conn.WriteMessage(websocket.TextMessage, data)
}

func (l *wsLink) ping() error {
	return l.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.writeTimeout))
}

func (l *wsLink) closeWith(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(l.writeTimeout))
	_ = l.conn.Close()
}

func (l *wsLink) extendReadDeadline() error {
	return l.conn.SetReadDeadline(time.Now().Add(l.readTimeout))
}

// writeLoop forwards broadcast frames and pings until the reader stops, the
// broadcaster shuts down or a write fails. It returns why it stopped.
func (g *Gateway) writeLoop(ctx context.Context, link *wsLink, frames <-chan *realtime.Frame) string {
	ticker := time.NewTicker(g.config.Realtime.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = link.conn.Close()
			return "client gone"

		case frame, ok := <-frames:
			if !ok {
				if ctx.Err() != nil {
					_ = link.conn.Close()
					return "client gone"
				}
				// Shutdown or eviction for lagging behind
				link.closeWith(websocket.CloseGoingAway, "subscription ended")
				return "subscription ended"
			}
			if err := link.writeFrame(frame); err != nil {
				_ = link.conn.Close()
				return "write failed: " + err.Error()
			}

		case <-ticker.C:
			if err := link.ping(); err != nil {
				_ = link.conn.Close()
				return "ping failed: " + err.Error()
			}
		}
	}
}

// readLoop consumes client frames. Heartbeats are rebroadcast to the room;
// everything else a client sends is ignored. Any traffic, pongs included,
// pushes the read deadline out by the heartbeat timeout.
func (g *Gateway) readLoop(link *wsLink, room string, authCtx *auth.AuthContext) {
	conn := link.conn
	conn.SetReadLimit(wsReadLimit)
	_ = link.extendReadDeadline()
	conn.SetPongHandler(func(string) error {
		return link.extendReadDeadline()
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, net.ErrClosed) {
				g.logger.Debug("websocket read failed", "room", room, "error", err)
			}
			return
		}
		_ = link.extendReadDeadline()

		frame, err := realtime.Decode(data)
		if err != nil {
			g.logger.Debug("dropping malformed client frame", "room", room, "error", err)
			continue
		}
		if frame.Type != realtime.FrameHeartbeat {
			g.logger.Debug("ignoring client frame", "room", room, "type", frame.Type)
			continue
		}

		hb := *frame.Heartbeat
		hb.Room = room
		hb.Sender = authCtx.PrincipalID
		if hb.At.IsZero() {
			hb.At = time.Now().UTC()
		}
		g.conversation.RelayHeartbeat(hb)
	}
}
