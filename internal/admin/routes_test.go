package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/errors"
	"github.com/zsiec/netsync/internal/presence"
	"github.com/zsiec/netsync/internal/transport"
	"github.com/zsiec/netsync/pkg/version"
)

func decode(t *testing.T, body []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(body, v))
}

func TestHandleListClients(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	rr := do(t, s, "GET", "/api/v1/clients", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var resp ClientsResponse
	decode(t, rr.Body.Bytes(), &resp)
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Clients, 2)
	assert.Equal(t, "c1", resp.Clients[0].ID)
	assert.EqualValues(t, 100, resp.Clients[0].BytesIn)
}

func TestHandleListClients_Empty(t *testing.T) {
	snap := testSnapshot()
	snap.Clients = nil
	s := newTestServer(t, &fakeSource{snap: snap}, nil)

	rr := do(t, s, "GET", "/api/v1/clients", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"clients":[]`)
}

func TestHandleListClients_NoSnapshot(t *testing.T) {
	s := newTestServer(t, &fakeSource{}, nil)

	rr := do(t, s, "GET", "/api/v1/clients", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestHandleGetClient(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	rr := do(t, s, "GET", "/api/v1/clients/c2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var ci transport.ClientInfo
	decode(t, rr.Body.Bytes(), &ci)
	assert.Equal(t, "127.0.0.1:50001", ci.Endpoint)

	rr = do(t, s, "GET", "/api/v1/clients/nope", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	var errResp errors.ErrorResponse
	decode(t, rr.Body.Bytes(), &errResp)
	assert.Equal(t, errors.ErrorTypeNotFound, errResp.Error.Type)
	assert.Equal(t, "nope", errResp.Error.Details["id"])
}

func TestHandleKickClient(t *testing.T) {
	src := &fakeSource{snap: testSnapshot()}
	s := newTestServer(t, src, nil)

	rr := do(t, s, "DELETE", "/api/v1/clients/c1", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, []string{"c1"}, src.kicked)

	rr = do(t, s, "DELETE", "/api/v1/clients/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Len(t, src.kicked, 1)
}

func TestHandleStats(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	rr := do(t, s, "GET", "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp StatsResponse
	decode(t, rr.Body.Bytes(), &resp)
	assert.Equal(t, "tcp", resp.Network)
	assert.True(t, resp.Listening)
	assert.True(t, resp.TimeoutEnabled)
	assert.Equal(t, "15s", resp.IdleTimeout)
	assert.Equal(t, 2, resp.Clients)
	assert.EqualValues(t, 42, resp.Ticks)
	assert.Equal(t, 2, resp.Queue.Reliable)
	assert.Equal(t, 1, resp.Queue.Unreliable)
	assert.EqualValues(t, 110, resp.Traffic.BytesIn)
	assert.EqualValues(t, 6, resp.Traffic.MessagesOut)
}

func TestHandleBroadcast(t *testing.T) {
	src := &fakeSource{snap: testSnapshot()}
	s := newTestServer(t, src, nil)

	rr := do(t, s, "POST", "/api/v1/broadcast", `{"message":"hello","mode":"unreliable"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, src.broadcasts, 1)
	assert.Equal(t, []byte("hello"), src.broadcasts[0].payload)
	assert.Equal(t, transport.Unreliable, src.broadcasts[0].mode)

	rr = do(t, s, "POST", "/api/v1/broadcast", `{"message":"x","mode":"sideways"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, "POST", "/api/v1/broadcast", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleBroadcast_TransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"empty", transport.ErrEmptyPayload, http.StatusBadRequest, "INVALID_PAYLOAD"},
		{"queue full", transport.ErrQueueFull, http.StatusTooManyRequests, "QUEUE_FULL"},
		{"closed", transport.ErrQueueClosed, http.StatusServiceUnavailable, "TRANSPORT_DOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeSource{snap: testSnapshot(), sendErr: tt.err}, nil)

			rr := do(t, s, "POST", "/api/v1/broadcast", `{"message":"payload"}`)
			require.Equal(t, tt.status, rr.Code)
			var errResp errors.ErrorResponse
			decode(t, rr.Body.Bytes(), &errResp)
			assert.Equal(t, tt.code, errResp.Error.Code)
		})
	}
}

func TestHandlePresence(t *testing.T) {
	store := presence.NewMemoryStore(time.Minute)
	require.NoError(t, store.Announce(context.Background(), &presence.Record{ClientID: "c1", Node: "n1"}))

	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, store)
	rr := do(t, s, "GET", "/api/v1/presence", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Clients []presence.Record `json:"clients"`
		Count   int               `json:"count"`
	}
	decode(t, rr.Body.Bytes(), &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "n1", resp.Clients[0].Node)
}

func TestHandlePresence_NotRegisteredWithoutStore(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)
	rr := do(t, s, "GET", "/api/v1/presence", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleVersion(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	rr := do(t, s, "GET", "/version", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))

	var info version.Info
	decode(t, rr.Body.Bytes(), &info)
	assert.Equal(t, version.Protocol, info.Protocol)
}

func TestHealthRoutes(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/live", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/ready", "").Code)

	down := newTestServer(t, &fakeSource{}, nil)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, down, "GET", "/health", "").Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	do(t, s, "GET", "/api/v1/stats", "")
	rr := do(t, s, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "netsync_admin_requests_total")
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, &fakeSource{snap: testSnapshot()}, nil)

	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, "PUT", "/api/v1/stats", "").Code)
}

func TestDebugEndpoints(t *testing.T) {
	src := &fakeSource{snap: testSnapshot()}
	cfg := testAdminConfig()

	s := New(cfg, config.MetricsConfig{}, src, nil, nil, nil)
	s.setupRoutes()
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/debug/info", "").Code)

	cfg.DebugEndpoints = true
	s = New(cfg, config.MetricsConfig{}, src, nil, nil, nil)
	s.setupRoutes()

	rr := do(t, s, "GET", "/debug/info", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"network":"tcp"`)
	assert.Equal(t, http.StatusOK, do(t, s, "GET", "/debug/pprof/", "").Code)
}
