package basicpaxos

import (
	"errors"
	"sync"
	"time"
)

// Client is the host-embeddable handle described in spec §6: it knows
// the quorum's membership, tracks a believed leader, and exposes Send
// as a future-returning call that never throws synchronously (spec
// §4.7). It is grounded on the teacher's client/client_utils
// reconnect-on-redirect idiom (dyv-paxos client.go), generalized from
// net/rpc's single fixed server to Basic Paxos's "follow the
// not_leader redirect" rule.
type Client struct {
	mu      sync.Mutex
	peers   []Endpoint
	leader  Endpoint
	nextIdx int

	pool   *connectionPool
	config Configuration
	queue  *requestQueue
}

// NewClient constructs a Client with the given configuration. Peers
// must be added with Add before Start.
func NewClient(config Configuration) *Client {
	config = config.withDefaults()
	c := &Client{
		// onDial is nil: a Client reads its dialed connection
		// synchronously, one request at a time (see attemptOnce,
		// probeHandshake) and has no need of — and would race with —
		// a background reader.
		pool:   newConnectionPool(config.MaxMessageSize, nil),
		config: config,
	}
	c.queue = newRequestQueue(c)
	return c
}

// Add registers peer as a quorum member this client may contact.
func (c *Client) Add(peer Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.peers {
		if p == peer {
			return
		}
	}
	c.peers = append(c.peers, peer)
}

// Start validates that the client has at least one peer to contact.
// There is no background connection to open: every connection is
// opened lazily by the request queue's worker goroutine as it needs
// one (spec §4.1, §4.7).
func (c *Client) Start() error {
	c.mu.Lock()
	n := len(c.peers)
	c.mu.Unlock()
	if n == 0 {
		return errors.New("basicpaxos: client has no peers, call Add before Start")
	}
	return nil
}

// Stop cancels the request queue's worker and closes every pooled
// connection. Outstanding Send futures resolve with a connection_closed
// RequestError.
func (c *Client) Stop() {
	c.queue.stop()
	c.pool.closeAll()
}

// Send enqueues workload and returns a future that resolves once the
// request commits, is redirected and retried to exhaustion, or the
// quorum is observed not ready (spec §4.7, §7). retries bounds how
// many additional attempts follow the first.
func (c *Client) Send(workload []byte, retries uint16) <-chan Outcome {
	return c.queue.submit(workload, retries)
}

// WaitUntilQuorumReady blocks, polling with a handshake probe against
// every configured peer, until a strict majority answer or timeout
// elapses. The client protocol has no dedicated readiness query (spec
// §6 names none), so readiness is approximated by plain connectivity:
// a majority of reachable peers is the best a client can observe
// without already holding an open round.
func (c *Client) WaitUntilQuorumReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		peers := append([]Endpoint(nil), c.peers...)
		c.mu.Unlock()
		if len(peers) == 0 {
			return ErrNotReady
		}

		alive := 0
		for _, peer := range peers {
			if c.probeHandshake(peer) {
				alive++
			}
		}
		if alive >= len(peers)/2+1 {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrNotReady
		}
		time.Sleep(c.config.RetryBackoff)
	}
}

func (c *Client) probeHandshake(peer Endpoint) bool {
	conn, err := c.pool.get(peer)
	if err != nil {
		return false
	}
	if err := conn.Write(Command{Type: CommandHandshakeStart}); err != nil {
		c.pool.drop(peer, conn)
		return false
	}
	_ = conn.SetDeadline(time.Now().Add(c.config.HandshakeTimeout))
	reply, err := conn.ReadNext()
	conn.CancelTimeout()
	if err != nil {
		c.pool.drop(peer, conn)
		return false
	}
	return reply.Type == CommandHandshakeResponse
}

// isReady is the fast-path check the request queue makes before
// enqueuing a request at all (spec §4.7: fail immediately, no retry,
// when the quorum is not ready). It only reports whether any peer is
// configured; it does not look at the quorum's leader or liveness.
func (c *Client) isReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.peers) > 0
}

func (c *Client) currentTarget() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.leader.IsZero() {
		return c.leader
	}
	if len(c.peers) == 0 {
		return Endpoint{}
	}
	return c.peers[c.nextIdx%len(c.peers)]
}

func (c *Client) rotateTarget(failed Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leader == failed {
		c.leader = Endpoint{}
	}
	if len(c.peers) > 0 {
		c.nextIdx = (c.nextIdx + 1) % len(c.peers)
	}
}

func (c *Client) setLeader(peer Endpoint) {
	c.mu.Lock()
	c.leader = peer
	c.mu.Unlock()
}

// attemptOnce makes exactly one request_initiate/request_response
// round trip against the believed leader, following a not_leader
// redirect by updating the believed leader for the caller's next
// attempt (spec §4.5's client-visible half, §6).
func (c *Client) attemptOnce(workload []byte) ([]byte, error) {
	target := c.currentTarget()
	if target.IsZero() {
		return nil, &RequestError{Code: ErrorConnectionClosed, Err: errors.New("basicpaxos: client has no known peer")}
	}

	conn, err := c.pool.get(target)
	if err != nil {
		c.rotateTarget(target)
		return nil, &RequestError{Code: ErrorConnectionClosed, Err: err}
	}

	if err := conn.Write(Command{Type: CommandRequestInitiate, Workload: workload}); err != nil {
		c.pool.drop(target, conn)
		c.rotateTarget(target)
		return nil, &RequestError{Code: transportErrorCode(err), Err: err}
	}

	_ = conn.SetDeadline(time.Now().Add(c.config.RequestTimeout))
	reply, err := conn.ReadNext()
	conn.CancelTimeout()
	if err != nil {
		c.pool.drop(target, conn)
		c.rotateTarget(target)
		return nil, &RequestError{Code: transportErrorCode(err), Err: err}
	}

	if reply.ErrorCode != "" {
		if reply.ErrorCode == ErrorNotLeader && reply.LeaderEndpoint != nil && !reply.LeaderEndpoint.IsZero() {
			c.setLeader(*reply.LeaderEndpoint)
		} else {
			c.rotateTarget(target)
		}
		return nil, &RequestError{Code: reply.ErrorCode}
	}

	c.setLeader(target)
	return reply.Response, nil
}
