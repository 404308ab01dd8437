package main

import (
	"github.com/zsiec/netsync/internal/logger"
	"github.com/zsiec/netsync/internal/transport"
)

// broadcaster is the part of the server the relay needs.
type broadcaster interface {
	Broadcast(payload []byte, mode transport.DeliveryMode) error
}

// relay rebroadcasts every received message to all clients, sender included.
type relay struct {
	out    broadcaster
	logger logger.Logger
}

func newRelay(out broadcaster, log logger.Logger) *relay {
	return &relay{out: out, logger: logger.OrNull(log).WithField("component", "relay")}
}

func (r *relay) handle(ev transport.Event) {
	switch ev.Type {
	case transport.ClientConnected:
		r.logger.WithFields(map[string]interface{}{
			"client_id": ev.ClientID(),
			"endpoint":  ev.Conn.Endpoint().String(),
		}).Info("Client connected")

	case transport.ClientDisconnected:
		r.logger.WithFields(map[string]interface{}{
			"client_id": ev.ClientID(),
			"reason":    ev.Reason.String(),
		}).Info("Client disconnected")

	case transport.MessageReceived:
		// Broadcast copies the payload, which is only valid during the call.
		if err := r.out.Broadcast(ev.Payload, transport.Reliable); err != nil {
			r.logger.WithError(err).WithField("client_id", ev.ClientID()).Warn("Failed to relay message")
		}
	}
}
