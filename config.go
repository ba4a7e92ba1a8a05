package basicpaxos

import "time"

// Configuration holds the host-supplied construction options from
// spec §6. The zero value is not valid; use DefaultConfiguration and
// override individual fields, or call Configuration.withDefaults
// (applied automatically by NewServer/NewClient) to fill in anything
// left unset.
type Configuration struct {
	// HeartbeatInterval is the base unit of the heartbeat engine
	// (spec §4.3, §5). Default 3s.
	HeartbeatInterval time.Duration

	// RequestTimeout bounds how long a leader waits for a majority of
	// prepare/accept responses before aborting the round with timeout
	// (spec §4.5, §7). Default 2s.
	RequestTimeout time.Duration

	// RetryBackoff is how long the client request queue waits before
	// re-dispatching a failed request (spec §4.7, §9 Open Question
	// (a)). Default 500ms.
	RetryBackoff time.Duration

	// HandshakeTimeout bounds how long the heartbeat engine waits for
	// a handshake_response before marking a peer dead (spec §4.3).
	// Default is HeartbeatInterval / 2.
	HandshakeTimeout time.Duration

	// MaxMessageSize bounds the size prefix Connection.ReadNext will
	// honor (SPEC_FULL §6 supplement). Default 16 MiB.
	MaxMessageSize uint32

	// Strategy produces the per-request follower behavior. Production
	// code leaves this nil to get DefaultFollowerStrategy(); a test
	// can supply a fault-injecting strategy (spec §9).
	Strategy *FollowerStrategy
}

// DefaultConfiguration returns the configuration spec §6 describes as
// the default.
func DefaultConfiguration() Configuration {
	return Configuration{
		HeartbeatInterval: 3 * time.Second,
		RequestTimeout:    2 * time.Second,
		RetryBackoff:      500 * time.Millisecond,
		HandshakeTimeout:  0, // filled in by withDefaults
		MaxMessageSize:    defaultMaxMessageSize,
	}
}

func (c Configuration) withDefaults() Configuration {
	d := DefaultConfiguration()
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = c.HeartbeatInterval / 2
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}
