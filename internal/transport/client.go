package transport

import (
	"context"
	"net"
	"sync/atomic"

	"github.com/zsiec/netsync/internal/config"
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/metrics"
	"github.com/zsiec/netsync/internal/queue"
)

const roleClient = "client"

// Client is the connecting side of a Peer. It owns at most one Connection.
// Like Server, Process, Connect, Disconnect and handlers belong to one
// goroutine; Send may be called from any.
type Client struct {
	*peer

	conn      *Connection
	connected atomic.Bool
}

// NewClient validates cfg the same way NewServer does.
func NewClient(cfg *config.TransportConfig, log logger.Logger) (*Client, error) {
	p, err := newPeer(roleClient, cfg, log)
	if err != nil {
		return nil, err
	}
	c := &Client{peer: p}
	p.notify = c
	return c, nil
}

// Connect dials addr. For UDP no handshake takes place: the server learns
// about the client from its first datagram.
func (c *Client) Connect(addr string) bool {
	return c.ConnectContext(context.Background(), addr)
}

func (c *Client) ConnectContext(ctx context.Context, addr string) bool {
	if c.IsConnected() {
		c.logger.Warn("Client already connected")
		return false
	}

	if c.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.DialTimeout)
		defer cancel()
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, c.network, addr)
	if err != nil {
		c.logger.WithError(err).WithField("address", addr).Error("Failed to connect")
		return false
	}

	var sock Socket
	if uc, ok := conn.(*net.UDPConn); ok {
		sock = dialDatagram(uc, c.cfg.SocketBufferSize, c.datagramQueueDepth())
	} else {
		sock = newStreamSocket(conn, c.cfg.SocketBufferSize, c.cfg.WriteTimeout)
	}

	ep, err := EndpointFromAddr(conn.RemoteAddr())
	if err != nil {
		_ = sock.Close()
		c.logger.WithError(err).Error("Failed to connect")
		return false
	}

	now := c.now()
	c.conn = c.newConnection(sock, ep, now)
	c.connected.Store(true)
	metrics.SetActiveConnections(c.network, roleClient, 1)
	c.conn.logger.Info("Connected to server")

	c.emit(Event{Type: ClientConnected, Conn: c.conn})
	c.dispatch()
	return true
}

// IsConnected reports whether the client has a live connection.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Connection returns the current or most recent connection.
func (c *Client) Connection() *Connection { return c.conn }

// Process runs one tick: poll, idle check, drain, then deliver events.
func (c *Client) Process() {
	now := c.now()

	if c.IsConnected() {
		c.poll(c.conn, now)
		c.checkIdle(c.conn, now)
	}

	c.drain(func(item queue.Item) {
		if c.IsConnected() {
			_ = c.send(c.conn, item.Payload, now)
		}
	})
	c.dispatch()
	metrics.ObserveTick(roleClient, c.now().Sub(now))
}

// Send queues payload for the server.
func (c *Client) Send(payload []byte, mode DeliveryMode) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.enqueue(mode, "", payload)
}

// Disconnect closes the connection and delivers ClientDisconnected before
// returning, unless called from inside a handler.
func (c *Client) Disconnect() {
	if !c.IsConnected() {
		return
	}
	c.closeLocal(c.conn, c.now())
	c.dispatch()
}

// Close disconnects and releases the outbound queue.
func (c *Client) Close() error {
	c.Disconnect()
	return c.queue.Close()
}

func (c *Client) onDataReceived(conn *Connection, payload []byte) {
	c.emit(Event{Type: MessageReceived, Conn: conn, Payload: c.pool.Copy(payload)})
}

func (c *Client) onDisconnected(conn *Connection, reason DisconnectReason) {
	c.connected.Store(false)
	metrics.SetActiveConnections(c.network, roleClient, 0)
	c.emit(Event{Type: ClientDisconnected, Conn: conn, Reason: reason})
}
