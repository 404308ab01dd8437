package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/netsync/internal/buffer"
)

// pumpChunk is the read size of a stream socket's background reader.
const pumpChunk = 32 * 1024

// Socket is the non-blocking view of a network socket the tick loop works
// against. Read never waits: with nothing buffered it returns
// buffer.ErrWouldBlock. A failure seen by the background reader is
// reported through Err and is terminal: nothing new arrives after it.
type Socket interface {
	io.ReadWriteCloser

	// Available returns how many bytes Read can return right now. For
	// datagram sockets it is the size of the next queued datagram.
	Available() int

	// Err returns the terminal receive error, or nil while the socket is healthy.
	Err() error

	RemoteAddr() net.Addr
}

// streamSocket wraps a connected stream. A goroutine copies inbound bytes
// into a Ring sized like the kernel receive buffer; writes go straight to
// the connection under a deadline.
type streamSocket struct {
	conn         net.Conn
	ring         *buffer.Ring
	writeTimeout time.Duration

	errMu sync.Mutex
	err   error

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newStreamSocket(conn net.Conn, bufferSize int, writeTimeout time.Duration) *streamSocket {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetReadBuffer(bufferSize)
		_ = tc.SetWriteBuffer(bufferSize)
		_ = tc.SetNoDelay(true)
	}

	s := &streamSocket{
		conn:         conn,
		ring:         buffer.NewRing(conn.RemoteAddr().String(), bufferSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *streamSocket) pump() {
	defer close(s.done)

	buf := make([]byte, pumpChunk)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if _, werr := s.ring.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if _, action := classifyError(err); action == actionRetry {
				continue
			}
			s.setErr(err)
			return
		}
	}
}

func (s *streamSocket) setErr(err error) {
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
}

func (s *streamSocket) Read(p []byte) (int, error) {
	n, err := s.ring.Read(p)
	if errors.Is(err, buffer.ErrBufferClosed) {
		return n, net.ErrClosed
	}
	return n, err
}

func (s *streamSocket) Available() int { return s.ring.Available() }

// Err returns the error that stopped the pump. The pump stores it after
// its last write to the ring, so once Err is non-nil every byte the peer
// will ever deliver is already buffered.
func (s *streamSocket) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *streamSocket) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, net.ErrClosed
	}
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return 0, err
		}
	}
	return s.conn.Write(p)
}

func (s *streamSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.ring.Close()
		s.ring.Discard()
		err = s.conn.Close()
	})
	return err
}

func (s *streamSocket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }
