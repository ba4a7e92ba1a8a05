package basicpaxos

import (
	"sync"
	"time"

	"github.com/emirpasic/gods/maps/treemap"
)

// Liveness is this replica's local view of a peer's reachability.
type Liveness int

const (
	LivenessUnknown Liveness = iota
	LivenessAlive
	LivenessDead
)

func (l Liveness) String() string {
	switch l {
	case LivenessAlive:
		return "alive"
	case LivenessDead:
		return "dead"
	default:
		return "unknown"
	}
}

// PeerView is what the local replica currently believes about one
// member of the quorum (spec §3).
type PeerView struct {
	Liveness      Liveness
	LeaderClaim   Endpoint // zero value means "no claim known"
	LastRoundTrip time.Time
}

func endpointComparator(a, b interface{}) int {
	ea, eb := a.(Endpoint), b.(Endpoint)
	switch {
	case ea.Less(eb):
		return -1
	case eb.Less(ea):
		return 1
	default:
		return 0
	}
}

// Quorum holds the static membership and the dynamic liveness view
// described in spec §3 and §4.2. Membership is fixed once the replica
// starts. Liveness and leader claims are mutated by the heartbeat
// engine, and also by the election, the round state machine and the
// connection read loops: a failed send or read marks its peer dead,
// and a received leader_announce records claims and marks the sender
// alive. All of these go through the same mutex.
//
// Peers are kept in an endpoint-ordered map rather than a bare Go map
// so that every derived predicate (who_is_our_leader, the election's
// tie-break) iterates peers in the same deterministic order on every
// replica without any extra coordination.
type Quorum struct {
	mu           sync.Mutex
	self         Endpoint
	peers        *treemap.Map // Endpoint -> *PeerView
	bestClaimant Endpoint     // highest leader_claim endpoint accepted this election cycle
}

// NewQuorum creates a Quorum whose local replica is self. The local
// replica is seeded into its own view as alive, matching the
// intuition that a replica always trusts its own liveness.
func NewQuorum(self Endpoint) *Quorum {
	q := &Quorum{
		self:  self,
		peers: treemap.NewWith(endpointComparator),
	}
	q.peers.Put(self, &PeerView{Liveness: LivenessAlive})
	return q
}

// Self returns the local replica's own endpoint.
func (q *Quorum) Self() Endpoint { return q.self }

// Add registers a peer as a static member of the quorum. Pre-start
// only: spec §3 invariant (a) requires every node to see the same
// membership set, so Add is not safe to call once the heartbeat engine
// is running.
func (q *Quorum) Add(peer Endpoint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.peers.Get(peer); !ok {
		q.peers.Put(peer, &PeerView{Liveness: LivenessUnknown})
	}
}

// Members returns every endpoint in the quorum, self included, in
// deterministic endpoint order.
func (q *Quorum) Members() []Endpoint {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := q.peers.Keys()
	out := make([]Endpoint, len(keys))
	for i, k := range keys {
		out[i] = k.(Endpoint)
	}
	return out
}

// Size returns the static membership count.
func (q *Quorum) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peers.Size()
}

// majority returns the smallest strict majority of the membership.
func (q *Quorum) majority() int {
	return q.peers.Size()/2 + 1
}

// MarkAlive records that peer responded to a handshake, or announced
// its leadership. A no-op for any endpoint that was
// never Add()-ed: liveness tracking must never grow membership behind
// spec §3 invariant (a)'s back — this is how a client's own ephemeral
// connection, which is never a quorum member, is kept from polluting
// the membership map just by talking to a replica.
func (q *Quorum) MarkAlive(peer Endpoint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.existingLocked(peer)
	if !ok {
		return
	}
	v.Liveness = LivenessAlive
	v.LastRoundTrip = time.Now()
}

// MarkDead records that peer did not respond within the handshake
// timeout, or that a send to or read from peer failed. No-op for
// non-members, same reasoning as MarkAlive.
func (q *Quorum) MarkDead(peer Endpoint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v, ok := q.existingLocked(peer); ok {
		v.Liveness = LivenessDead
	}
}

// RecordLeaderClaim records that claimer asserts leader is the current
// leader. No-op for non-members.
func (q *Quorum) RecordLeaderClaim(leader, claimer Endpoint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if v, ok := q.existingLocked(claimer); ok {
		v.LeaderClaim = leader
	}
}

func (q *Quorum) existingLocked(peer Endpoint) (*PeerView, bool) {
	v, ok := q.peers.Get(peer)
	if !ok {
		return nil, false
	}
	return v.(*PeerView), true
}

func (q *Quorum) viewLocked(peer Endpoint) *PeerView {
	if v, ok := q.existingLocked(peer); ok {
		return v
	}
	view := &PeerView{}
	q.peers.Put(peer, view)
	return view
}

// View returns a copy of the local view of peer, or the zero PeerView
// if peer is not a member.
func (q *Quorum) View(peer Endpoint) PeerView {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.peers.Get(peer)
	if !ok {
		return PeerView{}
	}
	return *v.(*PeerView)
}

// AlivePeers returns every member currently believed alive, self
// included if self is alive, in deterministic endpoint order.
func (q *Quorum) AlivePeers() []Endpoint {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Endpoint
	q.peers.Each(func(key, value interface{}) {
		if value.(*PeerView).Liveness == LivenessAlive {
			out = append(out, key.(Endpoint))
		}
	})
	return out
}

// WhoIsOurLeader returns the endpoint named leader by a strict
// majority of alive peers (self's own claim counts), and true if such
// an endpoint exists. It is a pure function of the local PeerViews
// (spec §3 invariant (b)).
func (q *Quorum) WhoIsOurLeader() (Endpoint, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.leaderLocked()
}

func (q *Quorum) leaderLocked() (Endpoint, bool) {
	counts := make(map[Endpoint]int)
	q.peers.Each(func(key, value interface{}) {
		view := value.(*PeerView)
		if view.Liveness != LivenessAlive {
			return
		}
		if view.LeaderClaim.IsZero() {
			return
		}
		counts[view.LeaderClaim]++
	})
	needed := q.majority()
	var best Endpoint
	found := false
	for candidate, n := range counts {
		if n < needed {
			continue
		}
		if !found || candidate.Less(best) {
			best, found = candidate, true
		}
	}
	return best, found
}

// NeedsNewLeader reports whether the current leader is dead, unknown,
// or simply absent (spec §3 invariant (c)).
func (q *Quorum) NeedsNewLeader() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	leader, ok := q.leaderLocked()
	if !ok {
		return true
	}
	view := q.viewLocked(leader)
	return view.Liveness != LivenessAlive
}

// WeAreTheLeader reports whether a strict majority of alive peers
// (including self) list self as leader (spec §3 invariant (d)).
func (q *Quorum) WeAreTheLeader() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	leader, ok := q.leaderLocked()
	return ok && leader == q.self
}

// IsReady reports whether a stable leader exists and a strict majority
// of peers is alive (spec §4.2).
func (q *Quorum) IsReady() bool {
	q.mu.Lock()
	_, hasLeader := q.leaderLocked()
	aliveCount := 0
	q.peers.Each(func(_, value interface{}) {
		if value.(*PeerView).Liveness == LivenessAlive {
			aliveCount++
		}
	})
	needed := q.majority()
	q.mu.Unlock()
	return hasLeader && aliveCount >= needed
}

// ResetState clears every recorded leader claim and the election
// tie-break state, used by the heartbeat engine right before starting
// a fresh election (spec §4.3 step 2).
func (q *Quorum) ResetState() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.peers.Each(func(_, value interface{}) {
		value.(*PeerView).LeaderClaim = Endpoint{}
	})
	q.bestClaimant = Endpoint{}
}

// TryAcceptClaim implements spec §4.4 step 2: a recipient accepts a
// leader_claim iff the claimer's endpoint is greater than or equal to
// the best claim it has accepted so far this election cycle. Returns
// whether candidate was accepted and, either way, the endpoint the
// replica now prefers (useful for an informative reject).
func (q *Quorum) TryAcceptClaim(candidate Endpoint) (accepted bool, preferred Endpoint) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.bestClaimant.IsZero() || q.bestClaimant.Less(candidate) || q.bestClaimant == candidate {
		q.bestClaimant = candidate
		return true, candidate
	}
	return false, q.bestClaimant
}
