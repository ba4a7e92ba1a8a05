package basicpaxos

import (
	"fmt"
	"strconv"
	"strings"
)

// Endpoint is the opaque identity of a peer: a host and a port. It is
// comparable and hashable, so it is used directly as a map key
// everywhere a stable peer identity is needed.
type Endpoint struct {
	Host string
	Port uint16
}

// NewEndpoint builds an Endpoint from a host and a port.
func NewEndpoint(host string, port uint16) Endpoint {
	return Endpoint{Host: host, Port: port}
}

// ParseEndpoint parses a "host:port" string.
func ParseEndpoint(s string) (Endpoint, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return Endpoint{}, fmt.Errorf("basicpaxos: invalid endpoint %q", s)
	}
	host, portStr := s[:idx], s[idx+1:]
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("basicpaxos: invalid endpoint %q: %w", s, err)
	}
	return Endpoint{Host: host, Port: uint16(port)}, nil
}

func (e Endpoint) String() string {
	return e.Host + ":" + strconv.FormatUint(uint64(e.Port), 10)
}

// Less gives Endpoint a total order: host lexicographic first, port as
// tie-break. Used by proposal-id comparison and by the election's
// highest-endpoint tie-break rule.
func (e Endpoint) Less(other Endpoint) bool {
	if e.Host != other.Host {
		return e.Host < other.Host
	}
	return e.Port < other.Port
}

// IsZero reports whether e is the zero Endpoint.
func (e Endpoint) IsZero() bool {
	return e.Host == "" && e.Port == 0
}
