package basicpaxos

import "testing"

func TestDefaultFollowerStrategyPromiseThenReject(t *testing.T) {
	ctx := NewContext()
	self := NewEndpoint("a", 1)
	strategy := DefaultFollowerStrategy()

	high := ProposalID{Sequence: 5, Proposer: self}
	reply := strategy.OnPrepare(ctx, self, high)
	if reply == nil || reply.Type != CommandPromise {
		t.Fatalf("expected a promise reply, got %+v", reply)
	}
	if reply.PreviouslyAcceptedProposal != nil {
		t.Errorf("a follower with no prior accepted value should not report one")
	}

	low := ProposalID{Sequence: 3, Proposer: self}
	reply = strategy.OnPrepare(ctx, self, low)
	if reply == nil || reply.Type != CommandPrepareReject {
		t.Fatalf("expected a prepare_reject reply for a stale proposal, got %+v", reply)
	}
	if reply.PromisedProposal == nil || !reply.PromisedProposal.Equal(high) {
		t.Errorf("prepare_reject should name the currently promised id")
	}
}

func TestDefaultFollowerStrategyCarriesPreviouslyAccepted(t *testing.T) {
	ctx := NewContext()
	self := NewEndpoint("a", 1)
	strategy := DefaultFollowerStrategy()

	first := ProposalID{Sequence: 1, Proposer: self}
	strategy.OnPrepare(ctx, self, first)
	strategy.OnAccept(ctx, self, first, []byte("v1"))

	second := ProposalID{Sequence: 2, Proposer: self}
	reply := strategy.OnPrepare(ctx, self, second)
	if reply == nil || reply.Type != CommandPromise {
		t.Fatalf("expected a promise reply, got %+v", reply)
	}
	if reply.PreviouslyAcceptedProposal == nil || !reply.PreviouslyAcceptedProposal.Equal(first) {
		t.Errorf("promise should report the previously accepted proposal id")
	}
	if string(reply.PreviouslyAcceptedWorkload) != "v1" {
		t.Errorf("promise should report the previously accepted workload, got %q", reply.PreviouslyAcceptedWorkload)
	}
}

func TestDefaultFollowerStrategyAcceptRejectsBelowPromise(t *testing.T) {
	ctx := NewContext()
	self := NewEndpoint("a", 1)
	strategy := DefaultFollowerStrategy()

	strategy.OnPrepare(ctx, self, ProposalID{Sequence: 5, Proposer: self})

	stale := ProposalID{Sequence: 4, Proposer: self}
	reply := strategy.OnAccept(ctx, self, stale, []byte("late"))
	if reply == nil || reply.Type != CommandAcceptReject {
		t.Fatalf("expected accept_reject for a stale proposal, got %+v", reply)
	}
}
