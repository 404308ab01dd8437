package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/metrics"
	"github.com/zsiec/netsync/internal/ratelimit"
)

// listener hands new sockets to the tick loop without blocking it.
type listener interface {
	// Accept returns the next pending socket, or false when none is waiting.
	Accept() (Socket, bool)
	Addr() net.Addr
	Active() bool
	Close() error
}

// listenerConfig is what the listeners need from the server.
type listenerConfig struct {
	backlog          int
	socketBufferSize int
	writeTimeout     time.Duration
	maxConnections   int
	queueDepth       int
	acceptLimiter    *ratelimit.AcceptLimiter
	logger           logger.Logger
	sampled          *logger.SampledLogger
}

// streamListener accepts TCP connections on a goroutine and parks them in a
// channel whose capacity is the backlog. Connections arriving while the
// backlog is full are closed.
type streamListener struct {
	ln      net.Listener
	cfg     listenerConfig
	pending chan Socket
	closed  atomic.Bool
	wg      sync.WaitGroup
}

func listenStream(addr string, cfg listenerConfig) (*streamListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	if cfg.maxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.maxConnections)
	}

	l := &streamListener{
		ln:      ln,
		cfg:     cfg,
		pending: make(chan Socket, cfg.backlog),
	}
	l.wg.Add(1)
	go l.acceptLoop()
	return l, nil
}

func (l *streamListener) acceptLoop() {
	defer l.wg.Done()

	var backoff time.Duration
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// Temporary failures such as EMFILE: back off like net/http does
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			l.cfg.sampled.WarnWithCategory(logger.CategoryAccept, "Accept failed", map[string]interface{}{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !l.cfg.acceptLimiter.Allow() {
			metrics.IncrementRejected("tcp", "rate_limited")
			_ = conn.Close()
			continue
		}

		sock := newStreamSocket(conn, l.cfg.socketBufferSize, l.cfg.writeTimeout)
		select {
		case l.pending <- sock:
		default:
			metrics.IncrementRejected("tcp", "backlog_full")
			l.cfg.sampled.WarnWithCategory(logger.CategoryAccept, "Backlog full, rejecting connection", map[string]interface{}{
				"remote_addr": conn.RemoteAddr().String(),
				"backlog":     l.cfg.backlog,
			})
			_ = sock.Close()
		}
	}
}

func (l *streamListener) Accept() (Socket, bool) {
	select {
	case s := <-l.pending:
		return s, true
	default:
		return nil, false
	}
}

func (l *streamListener) Addr() net.Addr { return l.ln.Addr() }

func (l *streamListener) Active() bool { return !l.closed.Load() }

func (l *streamListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.ln.Close()
	l.wg.Wait()

	// Sockets accepted but never handed to the tick loop
	for {
		select {
		case s := <-l.pending:
			_ = s.Close()
		default:
			return err
		}
	}
}

// datagramListener owns one UDP socket and demultiplexes inbound packets
// into per-endpoint bindings. The first packet from an unknown endpoint
// creates its binding and parks it in the backlog.
type datagramListener struct {
	conn    *net.UDPConn
	cfg     listenerConfig
	pending chan *datagramSocket

	mu       sync.Mutex
	bindings map[Endpoint]*datagramSocket

	closed atomic.Bool
	wg     sync.WaitGroup
}

func listenDatagram(addr string, cfg listenerConfig) (*datagramListener, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if err := conn.SetReadBuffer(cfg.socketBufferSize); err != nil {
		cfg.logger.WithError(err).Warn("Failed to set UDP read buffer size")
	}
	if err := conn.SetWriteBuffer(cfg.socketBufferSize); err != nil {
		cfg.logger.WithError(err).Warn("Failed to set UDP write buffer size")
	}

	l := &datagramListener{
		conn:     conn,
		cfg:      cfg,
		pending:  make(chan *datagramSocket, cfg.backlog),
		bindings: make(map[Endpoint]*datagramSocket),
	}
	l.wg.Add(1)
	go l.routePackets()
	return l, nil
}

func (l *datagramListener) routePackets() {
	defer l.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := l.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if l.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP errors from earlier sends surface here and are not fatal
			l.cfg.sampled.DebugWithCategory(logger.CategoryDatagram, "UDP read failed", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}

		pkt := buf[:n]
		ep := NewEndpoint(from)

		l.mu.Lock()
		b, ok := l.bindings[ep]
		if !ok {
			if isControlPacket(pkt) {
				l.mu.Unlock()
				continue
			}
			b = l.bind(ep)
		}
		l.mu.Unlock()

		if b != nil {
			b.receive(pkt)
		}
	}
}

// bind creates a binding for ep. Called with l.mu held.
func (l *datagramListener) bind(ep Endpoint) *datagramSocket {
	if l.cfg.maxConnections > 0 && len(l.bindings) >= l.cfg.maxConnections {
		metrics.IncrementDatagramDropped("max_connections")
		return nil
	}
	if !l.cfg.acceptLimiter.Allow() {
		metrics.IncrementRejected("udp", "rate_limited")
		return nil
	}

	remote := ep.AddrPort()
	b := newDatagramSocket(remote, l.cfg.queueDepth,
		func(p []byte) (int, error) { return l.conn.WriteToUDPAddrPort(p, remote) },
		func() { l.forget(ep) },
	)

	select {
	case l.pending <- b:
		l.bindings[ep] = b
		return b
	default:
		metrics.IncrementRejected("udp", "backlog_full")
		l.cfg.sampled.WarnWithCategory(logger.CategoryAccept, "Backlog full, dropping datagram from new endpoint", map[string]interface{}{
			"remote_addr": ep.String(),
			"backlog":     l.cfg.backlog,
		})
		return nil
	}
}

func (l *datagramListener) forget(ep Endpoint) {
	l.mu.Lock()
	delete(l.bindings, ep)
	l.mu.Unlock()
}

func (l *datagramListener) Accept() (Socket, bool) {
	select {
	case s := <-l.pending:
		return s, true
	default:
		return nil, false
	}
}

func (l *datagramListener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *datagramListener) Active() bool { return !l.closed.Load() }

func (l *datagramListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := l.conn.Close()
	l.wg.Wait()

	l.mu.Lock()
	bindings := make([]*datagramSocket, 0, len(l.bindings))
	for _, b := range l.bindings {
		bindings = append(bindings, b)
	}
	l.mu.Unlock()

	for _, b := range bindings {
		b.fail(net.ErrClosed)
	}
	for {
		select {
		case s := <-l.pending:
			_ = s.Close()
		default:
			return err
		}
	}
}
