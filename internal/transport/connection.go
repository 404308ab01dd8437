package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/netsync/internal/buffer"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/metrics"
)

// pollStatus is the outcome of one receive attempt.
type pollStatus uint8

const (
	pollIdle pollStatus = iota
	pollMessage
	pollClosed
)

// Connection is one framed, bidirectional link to a remote endpoint.
// Connections compare equal by Endpoint. All methods except the stats
// accessors belong to the tick goroutine.
type Connection struct {
	id       string
	endpoint Endpoint
	network  string
	sock     Socket
	framer   Framer
	sendBuf  *buffer.Arena
	recvBuf  *buffer.Arena
	maxSize  int
	logger   logger.Logger
	sampled  *logger.SampledLogger

	connectedAt  time.Time
	lastActivity atomic.Int64

	closed atomic.Bool
	reason atomic.Uint32

	bytesIn     atomic.Int64
	bytesOut    atomic.Int64
	messagesIn  atomic.Int64
	messagesOut atomic.Int64
}

func newConnection(p *peer, sock Socket, ep Endpoint, now time.Time) *Connection {
	id := uuid.New().String()
	c := &Connection{
		id:          id,
		endpoint:    ep,
		network:     p.network,
		sock:        sock,
		framer:      newFramer(p.network, p.maxMessageSize),
		sendBuf:     p.sendBuf,
		recvBuf:     p.recvBuf,
		maxSize:     p.maxMessageSize,
		logger:      logger.WithEndpoint(p.logger, ep.String(), id),
		sampled:     p.sampled,
		connectedAt: now,
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

func (c *Connection) ID() string             { return c.id }
func (c *Connection) Endpoint() Endpoint     { return c.endpoint }
func (c *Connection) Network() string        { return c.network }
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Equal reports whether both connections talk to the same endpoint.
func (c *Connection) Equal(other *Connection) bool {
	return other != nil && c.endpoint == other.endpoint
}

func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) IsClosed() bool { return c.closed.Load() }

// Reason returns why the connection ended, or zero while it is open.
func (c *Connection) Reason() DisconnectReason {
	return DisconnectReason(c.reason.Load())
}

// Send frames payload and writes it to the socket. Empty and oversized
// payloads are rejected before the socket is touched. Socket failures are
// returned as *SendError; deciding whether they end the connection is the
// owning peer's job.
func (c *Connection) Send(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyPayload
	}
	if len(payload) > c.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", ErrPayloadTooLarge, len(payload), c.maxSize)
	}
	if c.closed.Load() {
		return ErrConnectionClosed
	}

	if err := c.framer.Encode(c.sendBuf, payload); err != nil {
		return err
	}
	if _, err := c.sock.Write(c.sendBuf.Bytes()); err != nil {
		return &SendError{Endpoint: c.endpoint, Err: err}
	}

	c.bytesOut.Add(int64(c.sendBuf.Len()))
	c.messagesOut.Add(1)
	metrics.RecordFrameSent(c.network, len(payload))
	return nil
}

// pollReceive returns the next complete payload, or reports that nothing
// is ready or that the connection must close and why. A returned payload
// aliases the peer's receive buffer and is valid until the next poll.
func (c *Connection) pollReceive(now time.Time) ([]byte, pollStatus, DisconnectReason) {
	if c.closed.Load() {
		return nil, pollIdle, reasonNone
	}

	// Read before decoding: a terminal error seen here means the decode
	// below saw every byte the socket will ever hold.
	sockErr := c.sock.Err()

	payload, err := c.framer.Decode(c.sock, c.recvBuf)
	if payload != nil {
		c.lastActivity.Store(now.UnixNano())
		c.bytesIn.Add(int64(len(payload) + c.framer.Overhead()))
		c.messagesIn.Add(1)
		metrics.RecordFrameReceived(c.network, len(payload))
		return payload, pollMessage, reasonNone
	}

	if err == nil {
		if sockErr == nil {
			return nil, pollIdle, reasonNone
		}
		// Leftover bytes, if any, are a frame the remote never finished
		reason, action := classifyError(sockErr)
		if action == actionRetry {
			return nil, pollIdle, reasonNone
		}
		if action == actionStop {
			reason = TransportError
		}
		c.logger.WithError(sockErr).Debugf("Socket failed, closing as %s", reason)
		return nil, pollClosed, reason
	}

	reason, action := classifyError(err)
	switch action {
	case actionDisconnect:
		c.logger.WithError(err).Debugf("Receive failed, closing as %s", reason)
		return nil, pollClosed, reason
	case actionRetry:
		return nil, pollIdle, reasonNone
	default:
		c.sampled.WarnWithCategory(logger.CategoryPoll, "Unhandled receive error", map[string]interface{}{
			"endpoint":  c.endpoint.String(),
			"client_id": c.id,
			"error":     err.Error(),
		})
		return nil, pollIdle, reasonNone
	}
}

// markClosed records reason the first time it is called and reports
// whether this call won.
func (c *Connection) markClosed(reason DisconnectReason) bool {
	if !c.closed.CompareAndSwap(false, true) {
		return false
	}
	c.reason.Store(uint32(reason))
	return true
}

func (c *Connection) release() {
	c.framer.Reset()
	if err := c.sock.Close(); err != nil {
		c.logger.WithError(err).Debug("Socket close failed")
	}
}

// ConnectionStats is a point-in-time view of a connection's counters.
type ConnectionStats struct {
	BytesIn      int64     `json:"bytes_in"`
	BytesOut     int64     `json:"bytes_out"`
	MessagesIn   int64     `json:"messages_in"`
	MessagesOut  int64     `json:"messages_out"`
	ConnectedAt  time.Time `json:"connected_at"`
	LastActivity time.Time `json:"last_activity"`
}

func (c *Connection) Stats() ConnectionStats {
	return ConnectionStats{
		BytesIn:      c.bytesIn.Load(),
		BytesOut:     c.bytesOut.Load(),
		MessagesIn:   c.messagesIn.Load(),
		MessagesOut:  c.messagesOut.Load(),
		ConnectedAt:  c.connectedAt,
		LastActivity: c.LastActivity(),
	}
}
