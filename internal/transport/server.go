package transport

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/metrics"
	"github.com/zsiec/netsync/internal/queue"
	"github.com/zsiec/netsync/internal/ratelimit"
)

const roleServer = "server"

// Server accepts connections and keeps a registry of connected clients.
// Process, Close and event handlers run on one goroutine, the tick
// goroutine. Send, SendTo, Disconnect and the snapshot accessors are safe
// from any goroutine.
type Server struct {
	*peer

	ln          listener
	connLimiter *ratelimit.ConnectionLimiter

	// Tick-owned registry. order keeps registration order for broadcast.
	clients map[Endpoint]*Connection
	byID    map[string]*Connection
	order   []*Connection
	removed []*Connection

	kickMu sync.Mutex
	kicks  []string

	ticks    atomic.Uint64
	snapshot atomic.Pointer[Snapshot]
}

// NewServer validates cfg and returns an idle server. It fails with a
// *BufferSizeError when the socket buffers are below the floor or too
// small for a maximum-size frame.
func NewServer(cfg *config.TransportConfig, log logger.Logger) (*Server, error) {
	p, err := newPeer(roleServer, cfg, log)
	if err != nil {
		return nil, err
	}

	maxTotal := 0
	if cfg.Network == "udp" {
		// LimitListener enforces the total for streams
		maxTotal = cfg.MaxConnections
	}

	s := &Server{
		peer:        p,
		connLimiter: ratelimit.NewConnectionLimiter(cfg.MaxConnectionsPerHost, maxTotal),
		clients:     make(map[Endpoint]*Connection),
		byID:        make(map[string]*Connection),
	}
	p.notify = s
	s.publish(p.now())
	return s, nil
}

// Start binds addr and starts listening. backlog caps connections accepted
// but not yet registered; zero or less uses the configured backlog. It
// returns false if the server is already listening or the bind fails.
func (s *Server) Start(addr string, backlog int) bool {
	if s.ln != nil {
		s.logger.Warn("Server already started")
		return false
	}
	if backlog <= 0 {
		backlog = s.cfg.Backlog
	}

	lcfg := listenerConfig{
		backlog:          backlog,
		socketBufferSize: s.cfg.SocketBufferSize,
		writeTimeout:     s.cfg.WriteTimeout,
		maxConnections:   s.cfg.MaxConnections,
		queueDepth:       s.datagramQueueDepth(),
		acceptLimiter:    ratelimit.NewAcceptLimiter(s.cfg.AcceptRate, s.cfg.AcceptBurst),
		logger:           s.logger,
		sampled:          s.sampled,
	}

	var (
		ln  listener
		err error
	)
	if s.network == "udp" {
		ln, err = listenDatagram(addr, lcfg)
	} else {
		ln, err = listenStream(addr, lcfg)
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to start server")
		metrics.SetListenerUp(s.network, false)
		return false
	}

	s.serve(ln)
	s.logger.WithFields(map[string]interface{}{
		"address": ln.Addr().String(),
		"backlog": backlog,
	}).Info("Server listening")
	return true
}

// StartPort listens on port on every interface.
func (s *Server) StartPort(port, backlog int) bool {
	return s.Start(BindAddress("", port), backlog)
}

func (s *Server) serve(ln listener) {
	s.ln = ln
	metrics.SetListenerUp(s.network, true)
	s.publish(s.now())
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// IsConnected reports whether the server is listening.
func (s *Server) IsConnected() bool {
	return s.ln != nil && s.ln.Active()
}

// Process runs one tick: accept, poll every connection, drain the
// outbound queues, reconcile the registry, then deliver events.
func (s *Server) Process() {
	now := s.now()

	s.accept(now)
	s.applyKicks(now)

	for _, c := range s.order {
		s.poll(c, now)
		s.checkIdle(c, now)
	}

	s.drain(func(item queue.Item) { s.deliver(item, now) })
	s.reconcile()
	s.dispatch()

	s.ticks.Add(1)
	s.publish(now)
	metrics.ObserveTick(roleServer, s.now().Sub(now))
}

func (s *Server) accept(now time.Time) {
	if s.ln == nil {
		return
	}

	for {
		sock, ok := s.ln.Accept()
		if !ok {
			return
		}

		ep, err := EndpointFromAddr(sock.RemoteAddr())
		if err != nil {
			s.logger.WithError(err).Warn("Rejecting connection with unusable address")
			_ = sock.Close()
			continue
		}
		if _, dup := s.clients[ep]; dup {
			metrics.IncrementRejected(s.network, "duplicate")
			_ = sock.Close()
			continue
		}
		if verdict := s.connLimiter.TryAcquire(ep.Host()); verdict != ratelimit.Admitted {
			metrics.IncrementRejected(s.network, verdict.String())
			s.sampled.WarnWithCategory(logger.CategoryAccept, "Connection limit reached", map[string]interface{}{
				"remote_addr": ep.String(),
				"limit":       verdict.String(),
			})
			_ = sock.Close()
			continue
		}

		c := s.newConnection(sock, ep, now)
		s.clients[ep] = c
		s.byID[c.id] = c
		s.order = append(s.order, c)

		metrics.IncrementAccepted(s.network)
		c.logger.Info("Client connected")
		s.emit(Event{Type: ClientConnected, Conn: c})
	}
}

func (s *Server) applyKicks(now time.Time) {
	s.kickMu.Lock()
	kicks := s.kicks
	s.kicks = nil
	s.kickMu.Unlock()

	for _, id := range kicks {
		if c, ok := s.byID[id]; ok {
			s.closeLocal(c, now)
		}
	}
}

func (s *Server) deliver(item queue.Item, now time.Time) {
	if item.Target != "" {
		c, ok := s.byID[item.Target]
		if !ok || c.IsClosed() {
			s.sampled.DebugWithCategory(logger.CategoryQueue, "Dropping payload for unknown client", map[string]interface{}{
				"client_id": item.Target,
			})
			return
		}
		_ = s.send(c, item.Payload, now)
		return
	}

	for _, c := range s.order {
		if !c.IsClosed() {
			_ = s.send(c, item.Payload, now)
		}
	}
}

// reconcile removes every connection that ended this tick.
func (s *Server) reconcile() {
	if len(s.removed) == 0 {
		return
	}
	for _, c := range s.removed {
		if s.clients[c.endpoint] == c {
			delete(s.clients, c.endpoint)
		}
		delete(s.byID, c.id)
		s.connLimiter.Release(c.endpoint.Host())
	}
	s.removed = s.removed[:0]

	live := s.order[:0]
	for _, c := range s.order {
		if !c.IsClosed() {
			live = append(live, c)
		}
	}
	clear(s.order[len(live):])
	s.order = live

	metrics.SetActiveConnections(s.network, roleServer, len(s.order))
}

func (s *Server) onDataReceived(c *Connection, payload []byte) {
	s.emit(Event{Type: MessageReceived, Conn: c, Payload: s.pool.Copy(payload)})
}

func (s *Server) onDisconnected(c *Connection, reason DisconnectReason) {
	s.removed = append(s.removed, c)
	s.emit(Event{Type: ClientDisconnected, Conn: c, Reason: reason})
}

// Send queues payload for every connected client.
func (s *Server) Send(payload []byte, mode DeliveryMode) error {
	return s.enqueue(mode, "", payload)
}

// Broadcast is Send.
func (s *Server) Broadcast(payload []byte, mode DeliveryMode) error {
	return s.Send(payload, mode)
}

// SendTo queues payload for one client. Unknown IDs are dropped when the
// queue drains.
func (s *Server) SendTo(clientID string, payload []byte, mode DeliveryMode) error {
	return s.enqueue(mode, clientID, payload)
}

// Disconnect closes a client on the next tick. It reports false if the
// client is not in the latest snapshot.
func (s *Server) Disconnect(clientID string) bool {
	if _, ok := s.Client(clientID); !ok {
		return false
	}
	s.kickMu.Lock()
	s.kicks = append(s.kicks, clientID)
	s.kickMu.Unlock()
	return true
}

// Close disconnects every client, stops listening and delivers the final
// events. Call it from the tick goroutine.
func (s *Server) Close() error {
	now := s.now()
	for _, c := range s.order {
		s.closeLocal(c, now)
	}

	var err error
	if s.ln != nil {
		err = s.ln.Close()
		metrics.SetListenerUp(s.network, false)
	}

	s.reconcile()
	s.dispatch()
	_ = s.queue.Close()
	s.publish(now)

	s.logger.Info("Server stopped")
	return err
}

// Snapshot is a copy of the server state taken at the end of a tick.
type Snapshot struct {
	Role           string           `json:"role"`
	Network        string           `json:"network"`
	Address        string           `json:"address,omitempty"`
	Listening      bool             `json:"listening"`
	TimeoutEnabled bool             `json:"timeout_enabled"`
	IdleTimeout    time.Duration    `json:"idle_timeout"`
	Ticks          uint64           `json:"ticks"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Queue          queue.Stats      `json:"queue"`
	Pool           buffer.PoolStats `json:"pool"`
	Clients        []ClientInfo     `json:"clients"`
}

// ClientInfo describes one registered client.
type ClientInfo struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Network  string `json:"network"`
	ConnectionStats
}

func (s *Server) publish(now time.Time) {
	snap := &Snapshot{
		Role:           roleServer,
		Network:        s.network,
		Listening:      s.IsConnected(),
		TimeoutEnabled: s.IsTimeoutEnabled(),
		IdleTimeout:    s.idleTimeout,
		Ticks:          s.ticks.Load(),
		UpdatedAt:      now,
		Queue:          s.queue.Stats(),
		Pool:           s.pool.Stats(),
		Clients:        make([]ClientInfo, 0, len(s.order)),
	}
	if s.ln != nil {
		snap.Address = s.ln.Addr().String()
	}
	for _, c := range s.order {
		snap.Clients = append(snap.Clients, ClientInfo{
			ID:              c.id,
			Endpoint:        c.endpoint.String(),
			Network:         c.network,
			ConnectionStats: c.Stats(),
		})
	}
	s.snapshot.Store(snap)
}

// Snapshot returns the state published by the latest tick.
func (s *Server) Snapshot() *Snapshot {
	return s.snapshot.Load()
}

// Clients lists the clients registered as of the latest tick.
func (s *Server) Clients() []ClientInfo {
	return s.Snapshot().Clients
}

func (s *Server) Client(id string) (ClientInfo, bool) {
	for _, ci := range s.Snapshot().Clients {
		if ci.ID == id {
			return ci, true
		}
	}
	return ClientInfo{}, false
}

// ClientCount returns the number of registered clients.
func (s *Server) ClientCount() int { return len(s.Snapshot().Clients) }
