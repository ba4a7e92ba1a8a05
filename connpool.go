package basicpaxos

import (
	"fmt"
	"sync"
)

// connectionPool keeps at most one outgoing Connection per peer alive
// at a time, shared between the heartbeat engine and the round state
// machine (spec §4.3, §5, §9). It is a child of the Server/driver that
// owns it; every other component holds only a non-owning reference to
// the pool, breaking the protocol/quorum/pool reference cycle spec §9
// warns about.
type connectionPool struct {
	mu             sync.Mutex
	conns          map[Endpoint]*Connection
	maxMessageSize uint32

	// onDial, if non-nil, is invoked once for every connection this
	// pool dials fresh (never for one returned from cache or adopted
	// from an accepted socket). A Server passes its own read-loop
	// dispatcher here, since its pooled connections are long-lived and
	// shared by the heartbeat engine and the round state machine —
	// something has to keep reading a reply off a socket the Server
	// itself dialed out, for as long as that socket stays open. A
	// Client passes nil: it makes one synchronous dial/write/read per
	// request (see Client.attemptOnce/probeHandshake) and a background
	// reader would race with that read.
	onDial func(*Connection)
}

func newConnectionPool(maxMessageSize uint32, onDial func(*Connection)) *connectionPool {
	return &connectionPool{conns: make(map[Endpoint]*Connection), maxMessageSize: maxMessageSize, onDial: onDial}
}

// get returns the pooled connection to peer, dialing a new one if
// none is open or the pooled one has failed.
func (p *connectionPool) get(peer Endpoint) (*Connection, error) {
	p.mu.Lock()
	if c, ok := p.conns[peer]; ok && !c.isClosed() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	conn, err := Dial(peer, p.maxMessageSize)
	if err != nil {
		return nil, fmt.Errorf("basicpaxos: connect to %s: %w", peer, err)
	}

	p.mu.Lock()
	p.conns[peer] = conn
	p.mu.Unlock()

	if p.onDial != nil {
		p.onDial(conn)
	}
	return conn, nil
}

// adopt registers an inbound connection (accepted by the Server's
// listener) as the pooled outgoing channel to its peer too, so a
// reply to that peer reuses the same socket rather than opening a
// second one (spec §4.3's "ensuring each has an open outgoing
// connection to us").
func (p *connectionPool) adopt(peer Endpoint, conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.conns[peer]; ok && !existing.isClosed() && existing != conn {
		return
	}
	p.conns[peer] = conn
}

// drop removes peer's pooled connection, e.g. after it fails.
func (p *connectionPool) drop(peer Endpoint, conn *Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conns[peer] == conn {
		delete(p.conns, peer)
	}
}

// closeAll closes every pooled connection. Called when the Server
// stops (spec §5's cancellation rule).
func (p *connectionPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for peer, c := range p.conns {
		c.Close()
		delete(p.conns, peer)
	}
}
