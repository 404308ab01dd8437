package transport

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/pion/rtcp"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/metrics"
)

// maxDatagramSize is the largest UDP payload we read.
const maxDatagramSize = 65535

// datagramSocket is one remote endpoint's view of a UDP socket. On a server
// many of them share the listener's socket; on a client it owns a connected
// one. Each Read returns exactly one datagram.
type datagramSocket struct {
	remote  netip.AddrPort
	write   func([]byte) (int, error)
	onClose func()

	mu        sync.Mutex
	queue     [][]byte
	maxQueued int
	err       error

	closed    atomic.Bool
	closeOnce sync.Once
}

func newDatagramSocket(remote netip.AddrPort, maxQueued int, write func([]byte) (int, error), onClose func()) *datagramSocket {
	return &datagramSocket{
		remote:    remote,
		write:     write,
		onClose:   onClose,
		maxQueued: maxQueued,
	}
}

// receive routes one inbound packet. Control packets are consumed here;
// media packets are queued for the tick loop.
func (s *datagramSocket) receive(pkt []byte) {
	if isControlPacket(pkt) {
		if isGoodbye(pkt) {
			s.fail(errRemoteGoodbye)
		}
		return
	}
	if !s.deliver(pkt) {
		metrics.IncrementDatagramDropped("queue_full")
	}
}

func (s *datagramSocket) deliver(pkt []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() || s.err != nil || len(s.queue) >= s.maxQueued {
		return false
	}
	d := make([]byte, len(pkt))
	copy(d, pkt)
	s.queue = append(s.queue, d)
	return true
}

func (s *datagramSocket) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *datagramSocket) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return 0
	}
	return len(s.queue[0])
}

// Read pops the next datagram. A datagram larger than p is truncated and
// reported with EMSGSIZE.
func (s *datagramSocket) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		if s.closed.Load() {
			return 0, net.ErrClosed
		}
		return 0, buffer.ErrWouldBlock
	}

	d := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	n := copy(p, d)
	if n < len(d) {
		return n, fmt.Errorf("datagram of %d bytes truncated to %d: %w", len(d), n, syscall.EMSGSIZE)
	}
	return n, nil
}

func (s *datagramSocket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) > 0 {
		return nil
	}
	return s.err
}

func (s *datagramSocket) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	return s.write(p)
}

func (s *datagramSocket) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.mu.Lock()
		s.queue = nil
		s.mu.Unlock()
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

func (s *datagramSocket) RemoteAddr() net.Addr { return net.UDPAddrFromAddrPort(s.remote) }

// dialDatagram wraps a connected UDP socket for a client. A goroutine feeds
// inbound datagrams into the socket's queue until the connection is closed.
func dialDatagram(conn *net.UDPConn, bufferSize, maxQueued int) *datagramSocket {
	_ = conn.SetReadBuffer(bufferSize)
	_ = conn.SetWriteBuffer(bufferSize)

	remote := conn.RemoteAddr().(*net.UDPAddr).AddrPort()
	s := newDatagramSocket(remote, maxQueued, conn.Write, func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, maxDatagramSize)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if _, action := classifyError(err); action == actionRetry {
					continue
				}
				s.fail(err)
				return
			}
			s.receive(buf[:n])
		}
	}()
	return s
}

// isControlPacket demultiplexes RTCP from RTP by the packet type byte.
func isControlPacket(pkt []byte) bool {
	return len(pkt) >= 2 && pkt[0]>>6 == 2 && pkt[1] >= 192 && pkt[1] <= 223
}

func isGoodbye(pkt []byte) bool {
	packets, err := rtcp.Unmarshal(pkt)
	if err != nil {
		return false
	}
	for _, p := range packets {
		if _, ok := p.(*rtcp.Goodbye); ok {
			return true
		}
	}
	return false
}

func marshalGoodbye(ssrc uint32) ([]byte, error) {
	bye := &rtcp.Goodbye{Sources: []uint32{ssrc}, Reason: "disconnect"}
	return bye.Marshal()
}
