// Package addr parses the transport endpoint syntax a l9p listener is
// configured with: a thin translation from a config string to the
// network/address arguments net.Listen wants.
package addr

import (
	"fmt"
	"strings"
)

// Endpoint is a parsed `<scheme>!<address>!<port>` transport endpoint.
// Network and Address are ready to pass directly to net.Listen.
type Endpoint struct {
	Network string
	Address string
}

// Parse decodes a `<scheme>!<address>!<port>` string. For scheme "tcp",
// address is an IPv4/IPv6 literal and port a TCP port number, joined as
// "address:port". For scheme "unix", address is a filesystem path and port
// a suffix appended as ":<port>" to that path, producing a stream-socket
// path.
func Parse(s string) (Endpoint, error) {
	parts := strings.Split(s, "!")
	if len(parts) != 3 {
		return Endpoint{}, fmt.Errorf("addr: %q is not <scheme>!<address>!<port>", s)
	}
	scheme, address, port := parts[0], parts[1], parts[2]
	if address == "" || port == "" {
		return Endpoint{}, fmt.Errorf("addr: %q has an empty address or port", s)
	}

	switch scheme {
	case "tcp":
		return Endpoint{Network: "tcp", Address: joinHostPort(address, port)}, nil
	case "unix":
		return Endpoint{Network: "unix", Address: address + ":" + port}, nil
	default:
		return Endpoint{}, fmt.Errorf("addr: unknown scheme %q, want tcp or unix", scheme)
	}
}

// joinHostPort mirrors net.JoinHostPort without forcing callers to import
// net just to parse a config string.
func joinHostPort(host, port string) string {
	if strings.Contains(host, ":") {
		return "[" + host + "]:" + port
	}
	return host + ":" + port
}
