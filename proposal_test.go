package basicpaxos

import "testing"

func TestProposalIDOrdering(t *testing.T) {
	low := ProposalID{Sequence: 1, Proposer: NewEndpoint("a", 1)}
	high := ProposalID{Sequence: 2, Proposer: NewEndpoint("a", 1)}
	if !low.Less(high) {
		t.Errorf("%s should be less than %s", low, high)
	}
	if !high.GreaterThan(low) {
		t.Errorf("%s should be greater than %s", high, low)
	}
}

func TestProposalIDTieBreakOnProposer(t *testing.T) {
	a := ProposalID{Sequence: 5, Proposer: NewEndpoint("a", 1)}
	b := ProposalID{Sequence: 5, Proposer: NewEndpoint("b", 1)}
	if !a.Less(b) {
		t.Errorf("%s should be less than %s on proposer tie-break", a, b)
	}
}

func TestNextProposalIDStrictlyExceedsFloor(t *testing.T) {
	self := NewEndpoint("self", 1)
	floor := ProposalID{Sequence: 7, Proposer: NewEndpoint("other", 2)}
	next := nextProposalID(floor, self)
	if !next.GreaterThan(floor) {
		t.Errorf("nextProposalID(%s) = %s, want something greater", floor, next)
	}
	if next.Proposer != self {
		t.Errorf("nextProposalID should be proposed by self, got %s", next.Proposer)
	}
}

func TestProposalIDZero(t *testing.T) {
	if !(ProposalID{}).IsZero() {
		t.Errorf("zero ProposalID should report IsZero")
	}
	any := ProposalID{Sequence: 1, Proposer: NewEndpoint("a", 1)}
	if any.IsZero() {
		t.Errorf("non-zero ProposalID should not report IsZero")
	}
	if !any.GreaterThan(ProposalID{}) {
		t.Errorf("any real proposal id should be greater than the zero value")
	}
}
