package basicpaxos

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Callback is the host-supplied function invoked with a committed
// workload on every replica once a round reaches majority accept
// (spec §1, §4.5 step 5). It is external to the core by design; the
// core never inspects its return value beyond forwarding it to the
// client that submitted the workload.
type Callback func(workload []byte) []byte

// Server is the public handle a host embeds to participate in the
// quorum (spec §6's Server API).
type Server struct {
	self     Endpoint
	config   Configuration
	strategy FollowerStrategy
	callback Callback

	quorum *Quorum
	ctx    *PaxosContext
	pool   *connectionPool
	await  *awaiterRegistry

	listener net.Listener

	roundMu sync.Mutex // serializes Propose: one decree at a time, no batching (spec §1 non-goals)

	// lastCommitted is the highest proposal id this replica has personally
	// driven to a majority accept, as leader. Guarded by roundMu. A fresh
	// decree's prepare phase uses it to tell "a value this leader itself
	// just finished committing" apart from "a value some other, possibly
	// dead, leader left in doubt" when deciding whether to resurrect a
	// previously-accepted value (see runPrepare).
	lastCommitted ProposalID

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	monitor *monitor
}

// NewServer constructs a Server bound to host:port, with callback
// invoked on every committed workload. ctx may be nil to use a
// purely in-memory PaxosContext, or built with NewDurableContext for
// crash recovery (spec §9 Open Question (c)).
func NewServer(host string, port uint16, callback Callback, config Configuration, ctx *PaxosContext) *Server {
	self := NewEndpoint(host, port)
	config = config.withDefaults()
	strategy := DefaultFollowerStrategy()
	if config.Strategy != nil {
		strategy = *config.Strategy
	}
	if ctx == nil {
		ctx = NewContext()
	}
	s := &Server{
		self:     self,
		config:   config,
		strategy: strategy,
		callback: callback,
		quorum:   NewQuorum(self),
		ctx:      ctx,
		await:    newAwaiterRegistry(),
		stopCh:   make(chan struct{}),
	}
	s.pool = newConnectionPool(config.MaxMessageSize, s.dialedConnection)
	return s
}

// Self returns this replica's endpoint.
func (s *Server) Self() Endpoint { return s.self }

// Quorum exposes the read-only membership/liveness view, mainly for
// tests and the status monitor.
func (s *Server) Quorum() *Quorum { return s.quorum }

// Add registers peer as a static member of the quorum (spec §6).
func (s *Server) Add(peer Endpoint) {
	s.quorum.Add(peer)
}

// Start opens the listening socket and launches the accept loop and
// the heartbeat engine.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.self.String())
	if err != nil {
		return fmt.Errorf("basicpaxos: listen on %s: %w", s.self, err)
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop(l)

	s.wg.Add(1)
	go s.runHeartbeat()

	return nil
}

// Stop cancels all outstanding timers, closes all connections, and
// lets pending requests terminate with ErrConnectionClosed (spec §5).
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			s.listener.Close()
		}
		s.pool.closeAll()
		if s.monitor != nil {
			s.monitor.close()
		}
	})
	s.wg.Wait()
	s.ctx.Close()
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				logf("server", s.self, "accept error: %v", err)
				return
			}
		}
		s.wg.Add(1)
		go s.serveConnection(conn)
	}
}

// serveConnection reads commands from a freshly accepted connection
// until it identifies the peer (from the first command's From field),
// at which point it is adopted into the connection pool and further
// reads are dispatched normally. This mirrors spec §4.1: a Connection
// is framed and bidirectional from the moment it is accepted.
func (s *Server) serveConnection(raw net.Conn) {
	defer s.wg.Done()
	var conn *Connection
	for {
		if conn == nil {
			conn = NewConnection(Endpoint{}, raw, s.config.MaxMessageSize)
			done := make(chan struct{})
			defer close(done)
			go func(c *Connection) {
				select {
				case <-s.stopCh:
					c.Close()
				case <-done:
				}
			}(conn)
		}
		cmd, err := conn.ReadNext()
		if err != nil {
			if !conn.peer.IsZero() {
				s.quorum.MarkDead(conn.peer)
				s.pool.drop(conn.peer, conn)
			}
			return
		}
		conn.CancelTimeout()
		if conn.peer.IsZero() {
			conn.peer = cmd.From
			s.pool.adopt(cmd.From, conn)
		}
		s.handleCommand(conn, cmd)
	}
}

// dialedConnection is the connection pool's onDial hook: it starts a
// read loop over a freshly dialed outgoing connection and feeds every
// inbound frame into handleCommand, exactly like serveConnection does
// for an accepted one.
//
// Every reply a peer sends back to a prepare/accept/handshake_start/
// leader_claim this replica initiated — promise, accepted,
// handshake_response, leader_claim_ack — travels back over the very
// socket this replica dialed out, not a new one the peer opens in
// return. Without a reader on that socket, those replies are written
// by the peer and never picked up, and every awaiter waiting on them
// times out. A Client gets away with a synchronous read per request
// because it only ever has one request in flight at a time (spec
// §4.7); a Server's pooled connections are long-lived and shared
// across the heartbeat engine and the round state machine, so they
// need a dedicated, persistent reader.
func (s *Server) dialedConnection(conn *Connection) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			cmd, err := conn.ReadNext()
			if err != nil {
				s.quorum.MarkDead(conn.peer)
				s.pool.drop(conn.peer, conn)
				return
			}
			conn.CancelTimeout()
			s.handleCommand(conn, cmd)
		}
	}()
}

// handleCommand dispatches one incoming Command to the right
// subsystem. An unrecognized command type closes the offending
// connection and marks its peer suspect, per spec §9 Open Question
// (b) — it never panics the process.
func (s *Server) handleCommand(conn *Connection, cmd Command) {
	switch cmd.Type {
	case CommandHandshakeStart:
		s.handleHandshakeStart(conn, cmd)
	case CommandHandshakeResponse:
		s.await.deliver(keyHandshake(cmd.From), cmd)
	case CommandLeaderClaim:
		s.handleLeaderClaim(conn, cmd)
	case CommandLeaderClaimAck, CommandLeaderClaimReject:
		s.await.deliver(keyElection, cmd)
	case CommandLeaderAnnounce:
		s.handleLeaderAnnounce(cmd)
	case CommandRequestInitiate:
		s.handleRequestInitiate(conn, cmd)
	case CommandPrepare:
		s.handleFollowerPrepare(conn, cmd)
	case CommandPromise, CommandPrepareReject:
		s.await.deliver(keyPrepare(*cmd.ProposalID), cmd)
	case CommandAccept:
		s.handleFollowerAccept(conn, cmd)
	case CommandAccepted, CommandAcceptReject:
		s.await.deliver(keyAccept(*cmd.ProposalID), cmd)
	default:
		logf("server", s.self, "unrecognized command %q from %s: closing connection", cmd.Type, cmd.From)
		s.quorum.MarkDead(conn.peer)
		conn.Close()
	}
}

func (s *Server) handleHandshakeStart(conn *Connection, cmd Command) {
	_ = conn.Write(Command{Type: CommandHandshakeResponse, From: s.self})
}

func (s *Server) handleLeaderAnnounce(cmd Command) {
	s.quorum.RecordLeaderClaim(cmd.From, cmd.From)
	s.quorum.RecordLeaderClaim(cmd.From, s.self)
	s.quorum.MarkAlive(cmd.From)
}

// Monitor starts a read-only websocket status feed at addr, pushing a
// JSON snapshot of the quorum to each subscriber when it connects and
// then once every HeartbeatInterval, whether or not liveness changed
// (SPEC_FULL §6 supplement). Purely observational.
func (s *Server) Monitor(addr string) error {
	m, err := newMonitor(addr, s)
	if err != nil {
		return err
	}
	s.monitor = m
	return nil
}

// awaitReply blocks until a reply is delivered to key, or timeout
// elapses.
func (s *Server) awaitReply(key string, buf int, timeout time.Duration) (Command, bool) {
	ch := s.await.register(key, buf)
	select {
	case cmd := <-ch:
		return cmd, true
	case <-time.After(timeout):
		return Command{}, false
	}
}
