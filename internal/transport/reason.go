package transport

import (
	"fmt"
	"strings"

	"github.com/zsiec/netsync/internal/queue"
)

// DisconnectReason is why a connection's lifecycle ended. Applications only
// ever see one of these, never a platform socket error.
type DisconnectReason uint32

const (
	reasonNone DisconnectReason = iota

	// Disconnected is a graceful close by either side or a remote reset.
	Disconnected
	// TimedOut means the idle policy fired or the socket reported a timeout.
	TimedOut
	// TransportError means the socket became unusable for this connection.
	TransportError
)

func (r DisconnectReason) String() string {
	switch r {
	case Disconnected:
		return "disconnected"
	case TimedOut:
		return "timed_out"
	case TransportError:
		return "transport_error"
	case reasonNone:
		return "none"
	default:
		return fmt.Sprintf("reason(%d)", uint32(r))
	}
}

func (r DisconnectReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// DeliveryMode selects the outbound queue a payload waits in. The label
// reflects what the underlying transport guarantees; this layer adds no
// retransmission of its own.
type DeliveryMode = queue.Mode

const (
	Reliable   = queue.Reliable
	Unreliable = queue.Unreliable
)

// ParseDeliveryMode accepts the String form of a mode, case-insensitively.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reliable", "":
		return Reliable, nil
	case "unreliable":
		return Unreliable, nil
	default:
		return 0, fmt.Errorf("unknown delivery mode %q", s)
	}
}
