package transport

import (
	"errors"
	"fmt"

	"github.com/zsiec/netsync/internal/queue"
)

var (
	// ErrEmptyPayload is returned for zero-length sends. Nothing reaches the socket.
	ErrEmptyPayload = errors.New("transport: zero-length payload")

	// ErrPayloadTooLarge is returned when a payload exceeds the max message size.
	ErrPayloadTooLarge = errors.New("transport: payload exceeds max message size")

	// ErrConnectionClosed is returned when sending on a torn down connection.
	ErrConnectionClosed = errors.New("transport: connection closed")

	// ErrNotConnected is returned by a client that has no live connection.
	ErrNotConnected = errors.New("transport: not connected")

	ErrQueueFull   = queue.ErrQueueFull
	ErrQueueClosed = queue.ErrQueueClosed

	// errRemoteGoodbye marks a datagram binding whose remote announced it is leaving.
	errRemoteGoodbye = errors.New("transport: remote said goodbye")
)

// SendError wraps a failed socket write with the endpoint it was aimed at.
type SendError struct {
	Endpoint Endpoint
	Err      error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("transport: send to %s failed: %v", e.Endpoint, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// BufferSizeError rejects a peer whose socket buffers could not hold a
// maximum-size frame.
type BufferSizeError struct {
	Requested int
	Minimum   int
}

func (e *BufferSizeError) Error() string {
	return fmt.Sprintf("transport: socket buffer size %d is below the minimum of %d bytes", e.Requested, e.Minimum)
}

// FrameError reports a length prefix the receiver will not accept.
type FrameError struct {
	Size int
	Max  int
}

func (e *FrameError) Error() string {
	if e.Size == 0 {
		return "transport: received zero-length frame header"
	}
	return fmt.Sprintf("transport: frame of %d bytes exceeds max message size %d", e.Size, e.Max)
}
