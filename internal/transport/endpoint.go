package transport

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Endpoint is a remote address and port. It is comparable and is the
// identity of a Connection: two connections are equal when their endpoints
// are. IPv4-mapped IPv6 addresses are stored in their IPv4 form.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

// NewEndpoint normalises ap into an Endpoint.
func NewEndpoint(ap netip.AddrPort) Endpoint {
	return Endpoint{Addr: ap.Addr().Unmap(), Port: ap.Port()}
}

// EndpointFromAddr converts a socket address into an Endpoint.
func EndpointFromAddr(a net.Addr) (Endpoint, error) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return NewEndpoint(v.AddrPort()), nil
	case *net.UDPAddr:
		return NewEndpoint(v.AddrPort()), nil
	case nil:
		return Endpoint{}, fmt.Errorf("transport: nil address")
	}

	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return Endpoint{}, fmt.Errorf("transport: unsupported address %q: %w", a.String(), err)
	}
	return NewEndpoint(ap), nil
}

func (e Endpoint) AddrPort() netip.AddrPort { return netip.AddrPortFrom(e.Addr, e.Port) }

// Host is the address without the port, used for per-host accounting.
func (e Endpoint) Host() string { return e.Addr.String() }

func (e Endpoint) IsValid() bool { return e.Addr.IsValid() }

func (e Endpoint) String() string { return e.AddrPort().String() }

func (e Endpoint) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

// BindAddress builds a listen address. An empty host binds every interface.
func BindAddress(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
