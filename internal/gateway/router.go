// ABOUTME: HTTP routing for the gateway using chi
// ABOUTME: Mounts health, room message, read-receipt and websocket routes behind JWT auth

package gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/2389/mealdesk/internal/auth"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

func (g *Gateway) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(g.logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", g.handleHealth)

	r.Route("/api/rooms/{room}", func(r chi.Router) {
		r.Use(auth.HTTPAuthMiddleware(g.verifier))
		r.Use(auth.RequireRoomAccess(roomParam))

		r.Get("/messages", g.handleListMessages)
		r.With(chimw.AllowContentType("application/json")).Post("/messages", g.handlePostMessage)
		r.With(chimw.AllowContentType("application/json")).Post("/read", g.handleMarkRead)
		r.Get("/ws", g.handleWebSocket)
	})

	return r
}

// roomParam extracts the {room} URL parameter.
func roomParam(r *http.Request) string {
	return chi.URLParam(r, "room")
}

// requestLogger logs one line per completed request.
func requestLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Debug("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"latency", time.Since(start),
					"request_id", chimw.GetReqID(r.Context()),
					"remote_addr", r.RemoteAddr,
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
