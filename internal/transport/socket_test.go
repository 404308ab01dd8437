package transport

import (
	"io"
	"net"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/config"
)

func TestStreamSocket_ReadNeverBlocks(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	s := newStreamSocket(local, config.MinSocketBufferSize, time.Second)
	defer s.Close()

	buf := make([]byte, 16)
	n, err := s.Read(buf)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, buffer.ErrWouldBlock)
	assert.NoError(t, s.Err())

	go func() { _, _ = remote.Write([]byte("abc")) }()
	require.Eventually(t, func() bool { return s.Available() == 3 }, time.Second, time.Millisecond)

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(buf[:n]))
}

func TestStreamSocket_BufferedBytesSurviveError(t *testing.T) {
	local, remote := net.Pipe()
	s := newStreamSocket(local, config.MinSocketBufferSize, time.Second)
	defer s.Close()

	go func() {
		_, _ = remote.Write([]byte("tail"))
		_ = remote.Close()
	}()

	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Err(), io.EOF)

	buf := make([]byte, 8)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "tail", string(buf[:n]))
}

// unreachableConn fails every read with an error the classifier does not
// map to a reason.
type unreachableConn struct {
	net.Conn
}

func (unreachableConn) Read([]byte) (int, error) {
	return 0, &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.EHOSTUNREACH)}
}

func TestStreamSocket_UnclassifiedReadErrorEndsConnection(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	s := newStreamSocket(unreachableConn{Conn: local}, config.MinSocketBufferSize, time.Second)
	defer s.Close()
	require.Eventually(t, func() bool { return s.Err() != nil }, time.Second, time.Millisecond)
	assert.ErrorIs(t, s.Err(), syscall.EHOSTUNREACH)

	p, err := newPeer(roleServer, testTransportConfig(t), nil)
	require.NoError(t, err)
	ep := NewEndpoint(netip.MustParseAddrPort("10.0.0.1:5000"))
	c := p.newConnection(s, ep, newTestClock().Now())

	_, status, reason := c.pollReceive(newTestClock().Now())
	assert.Equal(t, pollClosed, status)
	assert.Equal(t, TransportError, reason)
}

func TestStreamSocket_CloseIsIdempotent(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()

	s := newStreamSocket(local, config.MinSocketBufferSize, time.Second)
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestDatagramSocket_OneDatagramPerRead(t *testing.T) {
	s := newQueueSocket()
	require.True(t, s.deliver([]byte("first")))
	require.True(t, s.deliver([]byte("second!")))

	assert.Equal(t, 5, s.Available())
	buf := make([]byte, 64)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf[:n]))

	assert.Equal(t, 7, s.Available())
	n, err = s.Read(buf[:3])
	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, syscall.EMSGSIZE)

	_, err = s.Read(buf)
	assert.ErrorIs(t, err, buffer.ErrWouldBlock)
}

func TestDatagramSocket_QueueBound(t *testing.T) {
	s := newDatagramSocket(netip.MustParseAddrPort("10.0.0.2:6000"), 2,
		func(p []byte) (int, error) { return len(p), nil }, nil)

	assert.True(t, s.deliver([]byte("a")))
	assert.True(t, s.deliver([]byte("b")))
	assert.False(t, s.deliver([]byte("c")))
}

func TestDatagramSocket_GoodbyeEndsBinding(t *testing.T) {
	s := newQueueSocket()
	s.receive([]byte{0x80, payloadTypeMessage, 0, 1, 0, 0, 0, 0, 0, 0, 0, 1, 'x'})

	bye, err := marshalGoodbye(1)
	require.NoError(t, err)
	s.receive(bye)

	assert.NoError(t, s.Err(), "queued datagrams drain first")
	buf := make([]byte, 64)
	_, err = s.Read(buf)
	require.NoError(t, err)

	reason, action := classifyError(s.Err())
	assert.Equal(t, Disconnected, reason)
	assert.Equal(t, actionDisconnect, action)
}

func TestDatagramSocket_CloseRunsHookOnce(t *testing.T) {
	calls := 0
	s := newDatagramSocket(netip.MustParseAddrPort("10.0.0.2:6000"), 4,
		func(p []byte) (int, error) { return len(p), nil }, func() { calls++ })

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, calls)

	_, err := s.Write([]byte("x"))
	assert.ErrorIs(t, err, net.ErrClosed)
	_, err = s.Read(make([]byte, 4))
	assert.ErrorIs(t, err, net.ErrClosed)
}
