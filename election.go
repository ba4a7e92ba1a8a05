package basicpaxos

import "time"

const keyElection = "election"

// runElection implements spec §4.4: classical leader-by-highest-
// endpoint with a liveness filter. It is triggered by the heartbeat
// engine whenever the quorum needs a new leader (spec §4.3 step 2).
//
// The election is idempotent: re-running it with the same live set
// yields the same result, since TryAcceptClaim's tie-break is a pure
// function of the candidate set and ResetState starts every attempt
// from the same blank slate.
func (s *Server) runElection() {
	peers := s.quorum.AlivePeers()
	needed := s.quorum.majority()

	ch := s.await.register(keyElection, len(peers))
	defer s.await.stop(keyElection)

	acks := 0
	if accepted, _ := s.quorum.TryAcceptClaim(s.self); accepted {
		acks++
	}

	for _, peer := range peers {
		if peer == s.self {
			continue
		}
		peer := peer
		go s.sendLeaderClaim(peer)
	}

	deadline := time.After(s.config.RequestTimeout)
	for acks < needed {
		select {
		case reply := <-ch:
			if reply.Type == CommandLeaderClaimAck {
				acks++
				s.quorum.RecordLeaderClaim(s.self, reply.From)
			}
		case <-deadline:
			logf("election", s.self, "timed out with %d/%d acks", acks, needed)
			return
		case <-s.stopCh:
			return
		}
	}

	logf("election", s.self, "won election with %d/%d acks", acks, needed)
	s.quorum.RecordLeaderClaim(s.self, s.self)
}

func (s *Server) sendLeaderClaim(peer Endpoint) {
	conn, err := s.pool.get(peer)
	if err != nil {
		s.quorum.MarkDead(peer)
		return
	}
	if err := conn.Write(Command{Type: CommandLeaderClaim, From: s.self}); err != nil {
		s.quorum.MarkDead(peer)
		s.pool.drop(peer, conn)
	}
}

// handleLeaderClaim is the recipient side of spec §4.4 step 2.
func (s *Server) handleLeaderClaim(conn *Connection, cmd Command) {
	accepted, preferred := s.quorum.TryAcceptClaim(cmd.From)
	if accepted {
		_ = conn.Write(Command{Type: CommandLeaderClaimAck, From: s.self})
		return
	}
	_ = conn.Write(Command{
		Type:           CommandLeaderClaimReject,
		From:           s.self,
		LeaderEndpoint: &preferred,
	})
}
