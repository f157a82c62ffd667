package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/contexthub/internal/config"
	"git.home.luguber.info/inful/contexthub/internal/daemon"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = ":memory:"

	d, err := daemon.New(cfg, nil)
	require.NoError(t, err)

	s := New(&cfg.HTTP, d, nil)
	ts := httptest.NewServer(s.httpSrv.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func postContext(t *testing.T, ts *httptest.Server, req map[string]any) (*http.Response, map[string]any) {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/api/context", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestContextEndpointCreateAndResolve(t *testing.T) {
	_, ts := testServer(t)

	resp, out := postContext(t, ts, map[string]any{
		"action": "create", "level": "task", "context_id": "t1", "parent_id": "b1",
		"data": map[string]any{"status": "open"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	record := out["record"].(map[string]any)
	assert.Equal(t, "t1", record["id"])

	resp, out = postContext(t, ts, map[string]any{
		"action": "resolve", "level": "task", "context_id": "t1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resolved := out["resolved"].(map[string]any)
	assert.Len(t, resolved["chain"], 4)
}

func TestContextEndpointRejectsMissingAction(t *testing.T) {
	_, ts := testServer(t)

	resp, _ := postContext(t, ts, map[string]any{"level": "task", "context_id": "t1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestContextEndpointMapsConflictTo409(t *testing.T) {
	_, ts := testServer(t)

	resp, _ := postContext(t, ts, map[string]any{
		"action": "create", "level": "branch", "context_id": "b1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = postContext(t, ts, map[string]any{
		"action": "create", "level": "branch", "context_id": "b1",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestContextEndpointMapsNotFoundTo404(t *testing.T) {
	_, ts := testServer(t)

	resp, _ := postContext(t, ts, map[string]any{
		"action": "get", "level": "task", "context_id": "missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Status)
}

func TestLoggingWrapperSupportsHijack(t *testing.T) {
	// Websocket upgrades hijack the connection, so the status-capturing
	// wrapper must expose the underlying writer's Hijacker.
	var hj http.Hijacker = &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := hj.Hijack()
	require.Error(t, err)
}

func TestWebsocketReceivesSnapshotThenUpdate(t *testing.T) {
	_, ts := testServer(t)

	wsURL := "ws" + ts.URL[len("http"):] + "/ws?owner=default"
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer ws.Close()

	// First frame is the snapshot.
	var snap map[string]any
	require.NoError(t, ws.ReadJSON(&snap))
	assert.Equal(t, "sync", snap["type"])
	assert.Equal(t, float64(1), snap["sequence"])

	postContext(t, ts, map[string]any{
		"action": "update", "level": "branch", "context_id": "b1",
		"data": map[string]any{"status": "active"}, "source": "user",
	})

	var update map[string]any
	require.NoError(t, ws.ReadJSON(&update))
	assert.Equal(t, "update", update["type"])
	payload := update["payload"].(map[string]any)
	assert.Equal(t, "branch:b1", payload["entity"])
}
