// Package presence mirrors the server's client registry into a shared
// store so other processes can see who is connected.
package presence

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/netsync/internal/transport"
)

// ErrNotFound is returned for clients the store does not know.
var ErrNotFound = errors.New("presence: client not found")

// Record describes one connected client.
type Record struct {
	ClientID    string    `json:"client_id"`
	Node        string    `json:"node"`
	Endpoint    string    `json:"endpoint"`
	Network     string    `json:"network"`
	ConnectedAt time.Time `json:"connected_at"`
	LastSeen    time.Time `json:"last_seen"`
	BytesIn     int64     `json:"bytes_in"`
	BytesOut    int64     `json:"bytes_out"`
	MessagesIn  int64     `json:"messages_in"`
	MessagesOut int64     `json:"messages_out"`
}

// Store persists presence records. Records expire unless refreshed by
// Announce or Heartbeat within the store's TTL.
type Store interface {
	// Announce adds or replaces a record.
	Announce(ctx context.Context, rec *Record) error
	// Withdraw removes a record. Withdrawing an unknown client is not an error.
	Withdraw(ctx context.Context, clientID string) error
	// Heartbeat refreshes records that are still present. It never
	// resurrects a withdrawn or expired client.
	Heartbeat(ctx context.Context, recs []*Record) error
	Get(ctx context.Context, clientID string) (*Record, error)
	List(ctx context.Context) ([]*Record, error)
	Close() error
}

// RecordFromConnection builds a record for a live connection.
func RecordFromConnection(node string, c *transport.Connection, now time.Time) *Record {
	stats := c.Stats()
	return &Record{
		ClientID:    c.ID(),
		Node:        node,
		Endpoint:    c.Endpoint().String(),
		Network:     c.Network(),
		ConnectedAt: c.ConnectedAt(),
		LastSeen:    now,
		BytesIn:     stats.BytesIn,
		BytesOut:    stats.BytesOut,
		MessagesIn:  stats.MessagesIn,
		MessagesOut: stats.MessagesOut,
	}
}

// RecordFromInfo builds a record from a snapshot entry.
func RecordFromInfo(node string, ci transport.ClientInfo, now time.Time) *Record {
	return &Record{
		ClientID:    ci.ID,
		Node:        node,
		Endpoint:    ci.Endpoint,
		Network:     ci.Network,
		ConnectedAt: ci.ConnectedAt,
		LastSeen:    now,
		BytesIn:     ci.BytesIn,
		BytesOut:    ci.BytesOut,
		MessagesIn:  ci.MessagesIn,
		MessagesOut: ci.MessagesOut,
	}
}
