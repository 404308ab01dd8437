package transport

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/metrics"
	"github.com/zsiec/netsync/internal/queue"
)

// poolSlots bounds how many payload slices a peer keeps for reuse.
const poolSlots = 256

// Peer is the role Server and Client share.
type Peer interface {
	// Process runs one tick. It never blocks.
	Process()
	Send(payload []byte, mode DeliveryMode) error
	IsConnected() bool
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

// notifier is implemented by the concrete peer roles. The shared loop calls
// it whenever a connection produces a message or ends.
type notifier interface {
	onDataReceived(c *Connection, payload []byte)
	onDisconnected(c *Connection, reason DisconnectReason)
}

// peer holds what both roles own: one send and one receive arena shared by
// all their connections, the outbound queues and the event fan-out.
type peer struct {
	role           string
	network        string
	cfg            config.TransportConfig
	maxMessageSize int
	idleTimeout    time.Duration
	timeoutEnabled atomic.Bool

	logger  logger.Logger
	sampled *logger.SampledLogger

	sendBuf *buffer.Arena
	recvBuf *buffer.Arena
	pool    *buffer.Pool
	queue   *queue.Delivery
	notify  notifier
	now     func() time.Time

	handlerMu   sync.RWMutex
	handlers    map[int]Handler
	nextHandler int

	events      []Event
	dispatching bool
}

func newPeer(role string, cfg *config.TransportConfig, log logger.Logger) (*peer, error) {
	if cfg == nil {
		return nil, errors.New("transport: nil config")
	}

	var overhead, limit int
	switch cfg.Network {
	case "tcp":
		overhead, limit = lengthPrefixSize, config.MaxStreamMessageSize
	case "udp":
		overhead, limit = rtpHeaderSize, config.MaxDatagramMessageSize
	default:
		return nil, fmt.Errorf("transport: unsupported network %q", cfg.Network)
	}

	if cfg.SocketBufferSize < config.MinSocketBufferSize {
		return nil, &BufferSizeError{Requested: cfg.SocketBufferSize, Minimum: config.MinSocketBufferSize}
	}
	if cfg.MaxMessageSize <= 0 || cfg.MaxMessageSize > limit {
		return nil, fmt.Errorf("transport: max message size %d outside 1..%d for %s", cfg.MaxMessageSize, limit, cfg.Network)
	}
	if cfg.MaxMessageSize+overhead > cfg.SocketBufferSize {
		return nil, &BufferSizeError{Requested: cfg.SocketBufferSize, Minimum: cfg.MaxMessageSize + overhead}
	}

	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = 4096
	}

	base := logger.OrNull(log).WithFields(map[string]interface{}{
		"component": "transport",
		"role":      role,
		"network":   cfg.Network,
	})
	pool := buffer.NewPool(cfg.MaxMessageSize, poolSlots)

	p := &peer{
		role:           role,
		network:        cfg.Network,
		cfg:            *cfg,
		maxMessageSize: cfg.MaxMessageSize,
		idleTimeout:    cfg.IdleTimeout,
		logger:         base,
		sampled:        logger.NewTransportLogger(base),
		sendBuf:        buffer.NewArena(role+"-send", cfg.MaxMessageSize+overhead),
		recvBuf:        buffer.NewArena(role+"-receive", cfg.MaxMessageSize+overhead),
		pool:           pool,
		queue:          queue.NewDelivery(capacity, pool),
		now:            time.Now,
		handlers:       make(map[int]Handler),
	}
	p.timeoutEnabled.Store(cfg.TimeoutEnabled)
	return p, nil
}

// datagramQueueDepth sizes a datagram socket's inbound queue to roughly
// what the kernel buffer would hold at the maximum message size.
func (p *peer) datagramQueueDepth() int {
	return max(p.cfg.SocketBufferSize/(p.maxMessageSize+rtpHeaderSize), 16)
}

// SetTimeoutEnabled toggles the idle timeout for every connection of this
// peer. Safe to call from any goroutine.
func (p *peer) SetTimeoutEnabled(enabled bool) { p.timeoutEnabled.Store(enabled) }

func (p *peer) IsTimeoutEnabled() bool { return p.timeoutEnabled.Load() }

// SetDisconnectionEnabled is an alias of SetTimeoutEnabled.
func (p *peer) SetDisconnectionEnabled(enabled bool) { p.SetTimeoutEnabled(enabled) }

func (p *peer) IsDisconnectionEnabled() bool { return p.IsTimeoutEnabled() }

// Subscribe registers h for every event. The returned func removes it.
func (p *peer) Subscribe(h Handler) (unsubscribe func()) {
	p.handlerMu.Lock()
	id := p.nextHandler
	p.nextHandler++
	p.handlers[id] = h
	p.handlerMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.handlerMu.Lock()
			delete(p.handlers, id)
			p.handlerMu.Unlock()
		})
	}
}

func (p *peer) newConnection(sock Socket, ep Endpoint, now time.Time) *Connection {
	return newConnection(p, sock, ep, now)
}

// poll drains every complete message from c. A connection that closes is
// not polled again.
func (p *peer) poll(c *Connection, now time.Time) {
	for !c.IsClosed() {
		payload, status, reason := c.pollReceive(now)
		switch status {
		case pollMessage:
			p.notify.onDataReceived(c, payload)
		case pollClosed:
			p.disconnect(c, reason, now)
			return
		default:
			return
		}
	}
}

// checkIdle closes c with TimedOut once it has been silent for longer than
// the idle timeout. Only inbound traffic counts as activity.
func (p *peer) checkIdle(c *Connection, now time.Time) {
	if c.IsClosed() || !p.timeoutEnabled.Load() || p.idleTimeout <= 0 {
		return
	}
	if now.Sub(c.LastActivity()) > p.idleTimeout {
		p.disconnect(c, TimedOut, now)
	}
}

// disconnect ends c with reason. Only the first call for a connection has
// any effect; it reports whether this call was that one.
func (p *peer) disconnect(c *Connection, reason DisconnectReason, now time.Time) bool {
	if !c.markClosed(reason) {
		return false
	}
	c.release()

	metrics.RecordDisconnect(p.network, reason.String(), now.Sub(c.connectedAt))
	c.logger.WithFields(map[string]interface{}{
		"reason":   reason.String(),
		"lifetime": now.Sub(c.connectedAt).String(),
	}).Info("Connection closed")

	p.notify.onDisconnected(c, reason)
	return true
}

// closeLocal ends c because this side chose to. Datagram peers are told
// with an RTCP goodbye since they would otherwise only notice by timeout.
func (p *peer) closeLocal(c *Connection, now time.Time) bool {
	if c.IsClosed() {
		return false
	}
	if df, ok := c.framer.(*datagramFramer); ok {
		if bye, err := marshalGoodbye(df.ssrc); err == nil {
			_, _ = c.sock.Write(bye)
		}
	}
	return p.disconnect(c, Disconnected, now)
}

// send writes payload to c and applies the failure policy: a stream that
// failed mid-write is unusable, a datagram socket only is when the error
// says so.
func (p *peer) send(c *Connection, payload []byte, now time.Time) error {
	err := c.Send(payload)

	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		return err
	}

	reason, action := classifyError(sendErr.Err)
	metrics.IncrementSendError(p.network, reason.String())

	switch {
	case action == actionRetry:
	case action == actionDisconnect, p.network == "tcp":
		p.disconnect(c, reason, now)
	default:
		p.sampled.WarnWithCategory(logger.CategorySend, "Send failed", map[string]interface{}{
			"endpoint":  c.endpoint.String(),
			"client_id": c.id,
			"error":     sendErr.Err.Error(),
		})
	}
	return err
}

func (p *peer) validate(payload []byte, mode DeliveryMode) error {
	switch {
	case len(payload) == 0:
		return ErrEmptyPayload
	case len(payload) > p.maxMessageSize:
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), p.maxMessageSize)
	case !mode.Valid():
		return fmt.Errorf("transport: unknown delivery mode %s", mode)
	}
	return nil
}

// enqueue validates and queues payload for the next drain. target is a
// client ID, or empty for every connection.
func (p *peer) enqueue(mode DeliveryMode, target string, payload []byte) error {
	if err := p.validate(payload, mode); err != nil {
		return err
	}

	err := p.queue.Enqueue(mode, target, payload)
	if errors.Is(err, ErrQueueFull) {
		metrics.IncrementQueueRejected(p.role, mode.String())
		p.sampled.WarnWithCategory(logger.CategoryQueue, "Delivery queue full, dropping payload", map[string]interface{}{
			"mode": mode.String(),
			"size": len(payload),
		})
	}
	return err
}

// drain hands every queued item to deliver, Reliable first.
func (p *peer) drain(deliver func(queue.Item)) {
	p.queue.Drain(deliver)
	metrics.SetQueueDepth(p.role, Reliable.String(), p.queue.Len(Reliable))
	metrics.SetQueueDepth(p.role, Unreliable.String(), p.queue.Len(Unreliable))
}

func (p *peer) emit(ev Event) {
	p.events = append(p.events, ev)
}

// dispatch delivers queued events to the handlers. Events emitted by a
// handler are delivered in the same call after the current batch.
func (p *peer) dispatch() {
	if p.dispatching {
		return
	}
	p.dispatching = true
	defer func() { p.dispatching = false }()

	for len(p.events) > 0 {
		batch := p.events
		p.events = nil

		handlers := p.snapshotHandlers()
		for _, ev := range batch {
			for _, h := range handlers {
				h(ev)
			}
			if ev.Payload != nil {
				p.pool.Put(ev.Payload)
			}
		}
	}
	buffer.UpdatePoolMetrics(p.pool.Stats())
}

func (p *peer) snapshotHandlers() []Handler {
	p.handlerMu.RLock()
	defer p.handlerMu.RUnlock()

	ids := make([]int, 0, len(p.handlers))
	for id := range p.handlers {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	out := make([]Handler, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.handlers[id])
	}
	return out
}
