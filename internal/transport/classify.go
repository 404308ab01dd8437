package transport

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/zsiec/netsync/internal/buffer"
)

// errAction is what the poll loop does with a socket error.
type errAction uint8

const (
	// actionStop logs the error and ends this poll cycle. The connection stays.
	actionStop errAction = iota
	// actionDisconnect ends the connection with the mapped reason.
	actionDisconnect
	// actionRetry ignores the error.
	actionRetry
)

// classifyError maps a socket error onto the disconnect taxonomy.
func classifyError(err error) (DisconnectReason, errAction) {
	var frameErr *FrameError

	switch {
	case err == nil:
		return reasonNone, actionRetry

	case errors.Is(err, syscall.EMSGSIZE):
		return reasonNone, actionRetry

	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, errRemoteGoodbye),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.EPIPE):
		return Disconnected, actionDisconnect

	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, syscall.ETIMEDOUT):
		return TimedOut, actionDisconnect

	case errors.Is(err, net.ErrClosed),
		errors.Is(err, buffer.ErrBufferClosed),
		errors.Is(err, ErrConnectionClosed),
		errors.Is(err, syscall.EINTR),
		errors.Is(err, syscall.ENOTSOCK),
		errors.Is(err, syscall.EBADF),
		errors.As(err, &frameErr):
		return TransportError, actionDisconnect
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return TimedOut, actionDisconnect
	}

	return TransportError, actionStop
}
