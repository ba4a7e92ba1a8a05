package basicpaxos

import (
	"errors"
	"time"
)

func keyPrepare(id ProposalID) string { return "prepare:" + id.String() }
func keyAccept(id ProposalID) string  { return "accept:" + id.String() }

// maxProposeAttempts bounds how many times a single leader-side round
// will bump its proposal number in response to a conflict before
// giving up and surfacing conflict to the request queue, which decides
// whether to retry the whole request (spec §4.5 step 2, §7).
const maxProposeAttempts = 10

type acceptedPair struct {
	Proposal ProposalID
	Workload []byte
}

// Propose drives one Basic Paxos round to commit workload, invoked by
// the leader when a client request arrives (spec §4.5). Only one
// round runs at a time on this replica — no batching (spec §1
// non-goals) — enforced by roundMu.
func (s *Server) Propose(workload []byte) ([]byte, error) {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	floor := s.ctx.HighestPromised()
	var lastErr error

	for attempt := 0; attempt < maxProposeAttempts; attempt++ {
		proposal := nextProposalID(floor, s.self)

		chosen, rejected, err := s.runPrepare(proposal, workload)
		if err != nil {
			lastErr = err
			if advanced := s.advanceFloor(&floor, rejected, err); advanced {
				continue
			}
			return nil, err
		}

		rejected, err = s.runAccept(proposal, chosen)
		if err != nil {
			lastErr = err
			if advanced := s.advanceFloor(&floor, rejected, err); advanced {
				continue
			}
			return nil, err
		}

		s.lastCommitted = proposal
		return s.callback(chosen), nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, newRoundError(ErrorConflict, errors.New("exhausted propose attempts"))
}

// advanceFloor reports whether err was a conflict, and so worth
// another attempt; if the rejecting promise is above floor it bumps
// floor to it in place (spec §4.5 step 2: "the leader re-attempts with
// a fresh P whose sequence > promised'.sequence").
func (s *Server) advanceFloor(floor *ProposalID, rejected ProposalID, err error) bool {
	re, ok := err.(*roundError)
	if !ok || re.code != ErrorConflict {
		return false
	}
	if rejected.GreaterThan(*floor) {
		*floor = rejected
	}
	return true
}

// runPrepare implements spec §4.5 steps 2-3: send prepare(P) to every
// alive follower including self, await a majority of promise/reject
// responses or a timeout, then choose the value to propose.
func (s *Server) runPrepare(proposal ProposalID, workload []byte) (chosen []byte, rejected ProposalID, err error) {
	peers := s.quorum.AlivePeers()
	needed := s.quorum.majority()

	key := keyPrepare(proposal)
	ch := s.await.register(key, len(peers))
	defer s.await.stop(key)

	chosen = workload
	var bestAccepted ProposalID
	promises := 0

	selfReply := s.strategy.OnPrepare(s.ctx, s.self, proposal)
	if selfReply == nil {
		return nil, ProposalID{}, newRoundError(ErrorTimeout, errors.New("self dropped prepare"))
	}
	if pair, rej, isReject := evaluatePrepareReply(*selfReply); isReject {
		return nil, rej, newRoundError(ErrorConflict, nil)
	} else {
		promises++
		if s.acceptsPreviouslyAccepted(pair, bestAccepted) {
			bestAccepted, chosen = pair.Proposal, pair.Workload
		}
	}

	for _, peer := range peers {
		if peer == s.self {
			continue
		}
		go s.sendPrepare(peer, proposal)
	}

	deadline := time.After(s.config.RequestTimeout)
	for promises < needed {
		select {
		case reply := <-ch:
			pair, rej, isReject := evaluatePrepareReply(reply)
			if isReject {
				return nil, rej, newRoundError(ErrorConflict, nil)
			}
			promises++
			if s.acceptsPreviouslyAccepted(pair, bestAccepted) {
				bestAccepted, chosen = pair.Proposal, pair.Workload
			}
		case <-deadline:
			return nil, ProposalID{}, newRoundError(ErrorNoMajority, errors.New("prepare phase timed out"))
		case <-s.stopCh:
			return nil, ProposalID{}, newRoundError(ErrorConnectionClosed, nil)
		}
	}
	return chosen, ProposalID{}, nil
}

func evaluatePrepareReply(cmd Command) (*acceptedPair, ProposalID, bool) {
	if cmd.Type == CommandPrepareReject {
		var promised ProposalID
		if cmd.PromisedProposal != nil {
			promised = *cmd.PromisedProposal
		}
		return nil, promised, true
	}
	if cmd.PreviouslyAcceptedProposal != nil {
		return &acceptedPair{*cmd.PreviouslyAcceptedProposal, cmd.PreviouslyAcceptedWorkload}, ProposalID{}, false
	}
	return nil, ProposalID{}, false
}

// acceptsPreviouslyAccepted reports whether a promise's previously-accepted
// pair should override the value this leader is currently proposing.
//
// A pair at or below s.lastCommitted names a decree this very leader
// already drove to a majority accept and already returned to its
// client — resurrecting it here would silently replace the workload of
// every later decree with the first one ever chosen. It is only the
// pairs ABOVE lastCommitted — proposals some leader accepted but never
// confirmed committed, typically because that leader died mid-round —
// that the safety argument requires this leader to adopt rather than
// overwrite.
func (s *Server) acceptsPreviouslyAccepted(pair *acceptedPair, bestAccepted ProposalID) bool {
	if pair == nil {
		return false
	}
	if !pair.Proposal.GreaterThan(s.lastCommitted) {
		return false
	}
	return pair.Proposal.GreaterThan(bestAccepted)
}

func (s *Server) sendPrepare(peer Endpoint, proposal ProposalID) {
	conn, err := s.pool.get(peer)
	if err != nil {
		s.quorum.MarkDead(peer)
		return
	}
	if err := conn.Write(Command{Type: CommandPrepare, From: s.self, ProposalID: &proposal}); err != nil {
		s.quorum.MarkDead(peer)
		s.pool.drop(peer, conn)
	}
}

// runAccept implements spec §4.5 step 4: send accept(P, W) to the same
// majority, await accepted/accept_reject or a timeout.
func (s *Server) runAccept(proposal ProposalID, workload []byte) (rejected ProposalID, err error) {
	peers := s.quorum.AlivePeers()
	needed := s.quorum.majority()

	key := keyAccept(proposal)
	ch := s.await.register(key, len(peers))
	defer s.await.stop(key)

	accepts := 0

	selfReply := s.strategy.OnAccept(s.ctx, s.self, proposal, workload)
	if selfReply == nil {
		return ProposalID{}, newRoundError(ErrorTimeout, errors.New("self dropped accept"))
	}
	if selfReply.Type == CommandAcceptReject {
		var promised ProposalID
		if selfReply.PromisedProposal != nil {
			promised = *selfReply.PromisedProposal
		}
		return promised, newRoundError(ErrorConflict, nil)
	}
	accepts++

	for _, peer := range peers {
		if peer == s.self {
			continue
		}
		go s.sendAccept(peer, proposal, workload)
	}

	deadline := time.After(s.config.RequestTimeout)
	for accepts < needed {
		select {
		case reply := <-ch:
			if reply.Type == CommandAcceptReject {
				var promised ProposalID
				if reply.PromisedProposal != nil {
					promised = *reply.PromisedProposal
				}
				return promised, newRoundError(ErrorConflict, nil)
			}
			accepts++
		case <-deadline:
			return ProposalID{}, newRoundError(ErrorNoMajority, errors.New("accept phase timed out"))
		case <-s.stopCh:
			return ProposalID{}, newRoundError(ErrorConnectionClosed, nil)
		}
	}
	return ProposalID{}, nil
}

func (s *Server) sendAccept(peer Endpoint, proposal ProposalID, workload []byte) {
	conn, err := s.pool.get(peer)
	if err != nil {
		s.quorum.MarkDead(peer)
		return
	}
	cmd := Command{Type: CommandAccept, From: s.self, ProposalID: &proposal, Workload: workload}
	if err := conn.Write(cmd); err != nil {
		s.quorum.MarkDead(peer)
		s.pool.drop(peer, conn)
	}
}

// handleFollowerPrepare is the follower-side reaction to an incoming
// prepare, keyed on the strategy record (spec §4.6, §9). A strategy
// that returns nil is modeling a follower (or leader, since the
// leader prepares to itself too) that dies mid-prepare: closing the
// connection is what spec §8 scenario 2/3 actually observe.
func (s *Server) handleFollowerPrepare(conn *Connection, cmd Command) {
	if cmd.ProposalID == nil {
		s.protocolError(conn)
		return
	}
	reply := s.strategy.OnPrepare(s.ctx, s.self, *cmd.ProposalID)
	if reply == nil {
		conn.Close()
		return
	}
	_ = conn.Write(*reply)
}

func (s *Server) handleFollowerAccept(conn *Connection, cmd Command) {
	if cmd.ProposalID == nil {
		s.protocolError(conn)
		return
	}
	reply := s.strategy.OnAccept(s.ctx, s.self, *cmd.ProposalID, cmd.Workload)
	if reply == nil {
		conn.Close()
		return
	}
	// Every replica that actually accepts applies the workload to its
	// own host state, not just the leader that drives the round — the
	// point of replication (spec §1, §4.5 step 5). The leader applies
	// its own acceptance from Propose, once the round as a whole
	// reaches majority; this is the follower half of that rule.
	if reply.Type == CommandAccepted {
		s.callback(cmd.Workload)
	}
	_ = conn.Write(*reply)
}

func (s *Server) protocolError(conn *Connection) {
	logf("round", s.self, "protocol_error: malformed command, closing connection")
	if !conn.peer.IsZero() {
		s.quorum.MarkDead(conn.peer)
	}
	conn.Close()
}

// handleRequestInitiate is the leader's entry point for a client
// request (spec §4.5). A non-leader replica redirects with
// not_leader and, if known, the believed leader's endpoint.
func (s *Server) handleRequestInitiate(conn *Connection, cmd Command) {
	if !s.quorum.WeAreTheLeader() {
		resp := Command{Type: CommandRequestResponse, From: s.self, ErrorCode: ErrorNotLeader}
		if leader, ok := s.quorum.WhoIsOurLeader(); ok {
			resp.LeaderEndpoint = &leader
		}
		_ = conn.Write(resp)
		return
	}

	response, err := s.Propose(cmd.Workload)
	if err != nil {
		code := ErrorProtocolError
		if re, ok := err.(*roundError); ok {
			code = re.code
		}
		_ = conn.Write(Command{Type: CommandRequestResponse, From: s.self, ErrorCode: code})
		return
	}
	_ = conn.Write(Command{Type: CommandRequestResponse, From: s.self, Response: response})
}
