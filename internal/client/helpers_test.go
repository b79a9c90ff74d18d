// ABOUTME: Shared fixtures for client tests
// ABOUTME: Starts a real gateway over httptest with an in-memory store and issues tokens

package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/mealdesk/internal/auth"
	"github.com/2389/mealdesk/internal/config"
	"github.com/2389/mealdesk/internal/gateway"
	"github.com/2389/mealdesk/internal/store"
)

const testSecret = "client-test-secret-at-least-32-bytes"

type testGateway struct {
	url      string
	store    *store.MockStore
	verifier *auth.JWTVerifier
	gw       *gateway.Gateway
}

func startGateway(t *testing.T) *testGateway {
	t.Helper()

	cfg := &config.Config{
		Server:   config.ServerConfig{Addr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Realtime: config.RealtimeConfig{
			HeartbeatInterval: time.Second,
			HeartbeatTimeout:  5 * time.Second,
			SubscribeTimeout:  time.Second,
			WriteTimeout:      time.Second,
		},
	}

	ms := store.NewMockStore()
	gw, err := gateway.NewWithStore(cfg, ms, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	verifier, err := auth.NewJWTVerifier([]byte(testSecret))
	require.NoError(t, err)

	return &testGateway{url: srv.URL, store: ms, verifier: verifier, gw: gw}
}

func (tg *testGateway) token(t *testing.T, principalID string, role store.Role) string {
	t.Helper()
	tok, err := tg.verifier.Generate(principalID, role, time.Hour)
	require.NoError(t, err)
	return tok
}
