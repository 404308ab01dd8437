package transport

import (
	"encoding/binary"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/config"
)

// fakeSocket is an in-memory Socket. Tests feed inbound bytes and inspect
// everything written.
type fakeSocket struct {
	mu       sync.Mutex
	remote   net.Addr
	in       []byte
	err      error
	readErr  error
	writeErr error
	writes   [][]byte
	closed   bool
	closes   int
}

func newFakeSocket(addr string) *fakeSocket {
	return &fakeSocket{remote: net.TCPAddrFromAddrPort(netip.MustParseAddrPort(addr))}
}

func (f *fakeSocket) feed(p []byte) {
	f.mu.Lock()
	f.in = append(f.in, p...)
	f.mu.Unlock()
}

func (f *fakeSocket) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSocket) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if len(f.in) == 0 {
		if f.closed {
			return 0, net.ErrClosed
		}
		return 0, buffer.ErrWouldBlock
	}
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakeSocket) Available() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.in)
}

func (f *fakeSocket) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSocket) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, net.ErrClosed
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeSocket) RemoteAddr() net.Addr { return f.remote }

func (f *fakeSocket) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

// payloads decodes every length-prefixed frame written so far.
func (f *fakeSocket) payloads(t *testing.T) [][]byte {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out [][]byte
	for _, w := range f.writes {
		require.GreaterOrEqual(t, len(w), lengthPrefixSize)
		size := int(binary.LittleEndian.Uint32(w))
		require.Len(t, w, lengthPrefixSize+size)
		out = append(out, w[lengthPrefixSize:])
	}
	return out
}

// fakeListener hands out queued sockets.
type fakeListener struct {
	mu      sync.Mutex
	pending []Socket
	closed  bool
}

func (l *fakeListener) push(s Socket) {
	l.mu.Lock()
	l.pending = append(l.pending, s)
	l.mu.Unlock()
}

func (l *fakeListener) Accept() (Socket, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, false
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, true
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 7777}
}

func (l *fakeListener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.closed
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func frame(payload []byte) []byte {
	out := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	copy(out[lengthPrefixSize:], payload)
	return out
}

func testTransportConfig(t *testing.T) *config.TransportConfig {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	tc := cfg.Transport
	tc.ListenAddr = "127.0.0.1"
	tc.Port = 0
	tc.AcceptRate = 0
	tc.AcceptBurst = 0
	return &tc
}

// testClock is a manually advanced clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// eventLog records every event a peer delivers.
type eventLog struct {
	events []Event
	bodies [][]byte
}

func (l *eventLog) handler(ev Event) {
	l.events = append(l.events, ev)
	if ev.Payload != nil {
		l.bodies = append(l.bodies, append([]byte(nil), ev.Payload...))
	}
}

func (l *eventLog) ofType(t EventType) []Event {
	var out []Event
	for _, ev := range l.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// newFakeServer returns a server wired to a fake listener and clock.
func newFakeServer(t *testing.T) (*Server, *fakeListener, *testClock, *eventLog) {
	t.Helper()
	s, err := NewServer(testTransportConfig(t), nil)
	require.NoError(t, err)

	clock := newTestClock()
	s.now = clock.Now

	ln := &fakeListener{}
	s.serve(ln)

	log := &eventLog{}
	s.Subscribe(log.handler)
	return s, ln, clock, log
}
