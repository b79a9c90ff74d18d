// ABOUTME: Shared helpers for gateway tests plus lifecycle and routing tests
// ABOUTME: Runs the real router against an httptest server and an in-memory store

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mealdesk/internal/config"
	"github.com/2389/mealdesk/internal/store"
)

const testSecret = "gateway-test-secret-at-least-32-bytes"

type testGateway struct {
	gw    *Gateway
	srv   *httptest.Server
	store *store.MockStore
}

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Addr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: config.DriverSQLite, Path: ":memory:"},
		Auth:     config.AuthConfig{JWTSecret: testSecret},
		Realtime: config.RealtimeConfig{
			HeartbeatInterval: 200 * time.Millisecond,
			HeartbeatTimeout:  2 * time.Second,
			SubscribeTimeout:  time.Second,
			WriteTimeout:      time.Second,
		},
	}
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	ms := store.NewMockStore()
	gw, err := NewWithStore(testConfig(), ms, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })

	return &testGateway{gw: gw, srv: srv, store: ms}
}

func (tg *testGateway) token(t *testing.T, principalID string, role store.Role) string {
	t.Helper()
	tok, err := tg.gw.verifier.Generate(principalID, role, time.Hour)
	require.NoError(t, err)
	return tok
}

// do issues a request with an optional bearer token and JSON body.
func (tg *testGateway) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(t.Context(), method, tg.srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewWithStore_RejectsWeakSecret(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.JWTSecret = "short"

	_, err := NewWithStore(cfg, store.NewMockStore(), nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestRoomRoutes_RequireAuth(t *testing.T) {
	tg := newTestGateway(t)

	resp := tg.do(t, http.MethodGet, "/api/rooms/cust-1/messages", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = tg.do(t, http.MethodGet, "/api/rooms/cust-1/messages", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRoomRoutes_CustomerConfinedToOwnRoom(t *testing.T) {
	tg := newTestGateway(t)
	tok := tg.token(t, "cust-1", store.RoleCustomer)

	resp := tg.do(t, http.MethodGet, "/api/rooms/cust-2/messages", tok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = tg.do(t, http.MethodGet, "/api/rooms/cust-1/messages", tok, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRoomRoutes_AgentReachesAnyRoom(t *testing.T) {
	tg := newTestGateway(t)
	tok := tg.token(t, "agent-1", store.RoleAgent)

	for _, room := range []string{"cust-1", "cust-2"} {
		resp := tg.do(t, http.MethodGet, "/api/rooms/"+room+"/messages", tok, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, room)
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	gw, err := NewWithStore(testConfig(), store.NewMockStore(), nil)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- gw.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
