package basicpaxos

import "testing"

func threeNodeQuorum() (*Quorum, []Endpoint) {
	peers := []Endpoint{
		NewEndpoint("10.0.0.1", 9001),
		NewEndpoint("10.0.0.2", 9002),
		NewEndpoint("10.0.0.3", 9003),
	}
	q := NewQuorum(peers[0])
	q.Add(peers[1])
	q.Add(peers[2])
	return q, peers
}

func TestQuorumMajorityOfThree(t *testing.T) {
	q, _ := threeNodeQuorum()
	if got := q.majority(); got != 2 {
		t.Errorf("majority() = %d, want 2", got)
	}
}

func TestQuorumNotReadyBeforeLiveness(t *testing.T) {
	q, _ := threeNodeQuorum()
	if q.IsReady() {
		t.Errorf("fresh quorum with no recorded liveness should not be ready")
	}
}

func TestQuorumWeAreTheLeaderRequiresMajorityClaims(t *testing.T) {
	q, peers := threeNodeQuorum()
	q.MarkAlive(peers[0])
	q.MarkAlive(peers[1])
	q.MarkAlive(peers[2])

	q.RecordLeaderClaim(peers[0], peers[0])
	if q.WeAreTheLeader() {
		t.Errorf("one claim out of three should not be enough for WeAreTheLeader")
	}

	q.RecordLeaderClaim(peers[0], peers[1])
	if !q.WeAreTheLeader() {
		t.Errorf("two claims for self out of three alive peers should make WeAreTheLeader true")
	}
}

func TestQuorumNeedsNewLeaderWhenLeaderDies(t *testing.T) {
	q, peers := threeNodeQuorum()
	q.MarkAlive(peers[0])
	q.MarkAlive(peers[1])
	q.MarkAlive(peers[2])
	q.RecordLeaderClaim(peers[0], peers[0])
	q.RecordLeaderClaim(peers[0], peers[1])

	if q.NeedsNewLeader() {
		t.Errorf("quorum with a live majority-recognized leader should not need a new one")
	}

	q.MarkDead(peers[0])
	if !q.NeedsNewLeader() {
		t.Errorf("quorum whose leader just died should need a new one")
	}
}

func TestQuorumMarkLivenessIgnoresNonMembers(t *testing.T) {
	q, _ := threeNodeQuorum()
	stranger := NewEndpoint("10.0.0.9", 9009)
	q.MarkAlive(stranger)
	q.MarkDead(stranger)
	if q.Size() != 3 {
		t.Errorf("marking liveness for a non-member must not grow membership, got size %d", q.Size())
	}
}

func TestQuorumTryAcceptClaimTieBreaksOnHighestEndpoint(t *testing.T) {
	q, peers := threeNodeQuorum()

	accepted, preferred := q.TryAcceptClaim(peers[0])
	if !accepted || preferred != peers[0] {
		t.Fatalf("first claim should always be accepted, got accepted=%v preferred=%s", accepted, preferred)
	}

	accepted, preferred = q.TryAcceptClaim(peers[1])
	if !accepted || preferred != peers[1] {
		t.Errorf("higher-endpoint claim should be accepted, got accepted=%v preferred=%s", accepted, preferred)
	}

	accepted, preferred = q.TryAcceptClaim(peers[0])
	if accepted {
		t.Errorf("lower-endpoint claim should be rejected once a higher one is accepted")
	}
	if preferred != peers[1] {
		t.Errorf("rejected claim should report the preferred endpoint, got %s", preferred)
	}
}

func TestQuorumResetStateClearsClaimsAndTieBreak(t *testing.T) {
	q, peers := threeNodeQuorum()
	q.MarkAlive(peers[0])
	q.RecordLeaderClaim(peers[0], peers[0])
	q.TryAcceptClaim(peers[0])

	q.ResetState()

	if q.View(peers[0]).LeaderClaim != (Endpoint{}) {
		t.Errorf("ResetState should clear recorded leader claims")
	}
	accepted, preferred := q.TryAcceptClaim(peers[0])
	if !accepted || preferred != peers[0] {
		t.Errorf("after ResetState the next claim should be treated as the first of a fresh cycle")
	}
}
