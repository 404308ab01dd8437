package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/health"
	"github.com/zsiec/netsync/internal/presence"
	"github.com/zsiec/netsync/internal/queue"
	"github.com/zsiec/netsync/internal/transport"
)

type broadcastCall struct {
	payload []byte
	mode    transport.DeliveryMode
}

type fakeSource struct {
	mu         sync.Mutex
	snap       *transport.Snapshot
	kicked     []string
	broadcasts []broadcastCall
	sendErr    error
}

func (f *fakeSource) Snapshot() *transport.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) Client(id string) (transport.ClientInfo, bool) {
	snap := f.Snapshot()
	if snap == nil {
		return transport.ClientInfo{}, false
	}
	for _, ci := range snap.Clients {
		if ci.ID == id {
			return ci, true
		}
	}
	return transport.ClientInfo{}, false
}

func (f *fakeSource) Disconnect(id string) bool {
	if _, ok := f.Client(id); !ok {
		return false
	}
	f.mu.Lock()
	f.kicked = append(f.kicked, id)
	f.mu.Unlock()
	return true
}

func (f *fakeSource) Broadcast(payload []byte, mode transport.DeliveryMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.broadcasts = append(f.broadcasts, broadcastCall{payload: append([]byte(nil), payload...), mode: mode})
	return nil
}

func testSnapshot() *transport.Snapshot {
	now := time.Now()
	return &transport.Snapshot{
		Role:           "server",
		Network:        "tcp",
		Address:        "127.0.0.1:7777",
		Listening:      true,
		TimeoutEnabled: true,
		IdleTimeout:    15 * time.Second,
		Ticks:          42,
		UpdatedAt:      now,
		Queue:          queue.Stats{Reliable: 2, Unreliable: 1, Capacity: 4096},
		Clients: []transport.ClientInfo{
			{
				ID:       "c1",
				Endpoint: "127.0.0.1:50000",
				Network:  "tcp",
				ConnectionStats: transport.ConnectionStats{
					BytesIn: 100, BytesOut: 200, MessagesIn: 3, MessagesOut: 4, ConnectedAt: now,
				},
			},
			{
				ID:       "c2",
				Endpoint: "127.0.0.1:50001",
				Network:  "tcp",
				ConnectionStats: transport.ConnectionStats{
					BytesIn: 10, BytesOut: 20, MessagesIn: 1, MessagesOut: 2, ConnectedAt: now,
				},
			},
		},
	}
}

func testAdminConfig() *config.AdminConfig {
	return &config.AdminConfig{
		Enabled:         true,
		ListenAddr:      "127.0.0.1",
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
	}
}

func newTestServer(t *testing.T, src *fakeSource, store presence.Store) *Server {
	t.Helper()
	mgr := health.NewManager(nil)
	mgr.Register(health.NewTransportChecker(src, time.Minute))

	s := New(testAdminConfig(), config.MetricsConfig{Enabled: true, Path: "/metrics"}, src, mgr, store, nil)
	s.setupRoutes()
	return s
}

func do(t *testing.T, s *Server, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	s.GetRouter().ServeHTTP(rr, req)
	require.NotNil(t, rr)
	return rr
}
