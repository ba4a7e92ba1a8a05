package basicpaxos

import "time"

func keyHandshake(peer Endpoint) string { return "handshake:" + peer.String() }

// runHeartbeat runs the periodic tick described in spec §4.3. Ticks
// never overlap on a given replica because this goroutine runs the
// whole tick body to completion before sleeping for the next
// interval, rather than using a time.Ticker (which would queue up a
// second tick while the first is still handshaking a slow peer).
func (s *Server) runHeartbeat() {
	defer s.wg.Done()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.heartbeatTick()
			timer.Reset(s.config.HeartbeatInterval)
		}
	}
}

func (s *Server) heartbeatTick() {
	s.handshakeAll()

	if s.quorum.NeedsNewLeader() {
		s.quorum.ResetState()
		s.runElection()
	}

	if s.quorum.WeAreTheLeader() {
		logf("heartbeat", s.self, "we are the leader, announcing")
		s.announceLeadership()
	}
}

// handshakeAll performs step 1 of spec §4.3: open or reuse a
// connection to every peer and exchange handshake_start/response.
// Peers that do not answer within HandshakeTimeout are marked dead;
// peers that do are marked alive. Handshakes run concurrently across
// peers but heartbeatTick does not return until all have settled, so
// two ticks on this replica never overlap.
func (s *Server) handshakeAll() {
	peers := s.quorum.Members()
	done := make(chan struct{}, len(peers))
	spawned := 0
	for _, peer := range peers {
		if peer == s.self {
			s.quorum.MarkAlive(s.self)
			continue
		}
		peer := peer
		spawned++
		go func() {
			s.handshakeOne(peer)
			done <- struct{}{}
		}()
	}
	for i := 0; i < spawned; i++ {
		select {
		case <-done:
		case <-s.stopCh:
			return
		}
	}
}

func (s *Server) handshakeOne(peer Endpoint) {
	conn, err := s.pool.get(peer)
	if err != nil {
		s.quorum.MarkDead(peer)
		return
	}
	key := keyHandshake(peer)
	ch := s.await.register(key, 1)
	defer s.await.stop(key)

	if err := conn.Write(Command{Type: CommandHandshakeStart, From: s.self}); err != nil {
		s.quorum.MarkDead(peer)
		s.pool.drop(peer, conn)
		return
	}

	select {
	case <-ch:
		s.quorum.MarkAlive(peer)
	case <-time.After(s.config.HandshakeTimeout):
		s.quorum.MarkDead(peer)
	}
}

// announceLeadership implements spec §4.3 step 3: broadcast
// leader_announce to every live peer, ensuring each has an open
// outgoing connection to us.
func (s *Server) announceLeadership() {
	for _, peer := range s.quorum.AlivePeers() {
		if peer == s.self {
			s.quorum.RecordLeaderClaim(s.self, s.self)
			continue
		}
		conn, err := s.pool.get(peer)
		if err != nil {
			s.quorum.MarkDead(peer)
			continue
		}
		if err := conn.Write(Command{Type: CommandLeaderAnnounce, From: s.self}); err != nil {
			s.quorum.MarkDead(peer)
			s.pool.drop(peer, conn)
		}
	}
}
