package transport

import "fmt"

// EventType identifies what happened to a connection.
type EventType uint8

const (
	// ClientConnected fires once a connection is registered. On a Client it
	// reports the client's own connection to the server.
	ClientConnected EventType = iota + 1
	// ClientDisconnected fires exactly once per connection, after the
	// registry no longer contains it.
	ClientDisconnected
	// MessageReceived carries one complete inbound payload.
	MessageReceived
)

func (t EventType) String() string {
	switch t {
	case ClientConnected:
		return "client_connected"
	case ClientDisconnected:
		return "client_disconnected"
	case MessageReceived:
		return "message_received"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is delivered to handlers on the tick goroutine. Payload is only
// valid for the duration of the handler call; copy it to keep it.
type Event struct {
	Type    EventType
	Conn    *Connection
	Reason  DisconnectReason
	Payload []byte
}

// ClientID is shorthand for the connection's ID.
func (e Event) ClientID() string {
	if e.Conn == nil {
		return ""
	}
	return e.Conn.ID()
}

// Handler receives events. Handlers may call Send, SendTo and Disconnect;
// the effects land on a later tick.
type Handler func(Event)
