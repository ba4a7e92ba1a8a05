package basicpaxos

// PrepareStrategy decides how a follower reacts to an incoming
// prepare(P). It builds the reply Command (type promise or
// prepare_reject) to send back, or returns nil to mean "do not reply
// at all" — the production default never does this, but a
// fault-injecting test strategy uses it to simulate a follower that
// dies mid-prepare (spec §8 scenario 2, §9).
type PrepareStrategy func(ctx *PaxosContext, self Endpoint, proposal ProposalID) *Command

// AcceptStrategy decides how a follower reacts to an incoming
// accept(P, W). Same nil-means-drop convention as PrepareStrategy.
type AcceptStrategy func(ctx *PaxosContext, self Endpoint, proposal ProposalID, workload []byte) *Command

// FollowerStrategy is the capability record spec §9 asks for: the
// follower-side transition table of §4.6 expressed as two functions
// supplied at Server construction. Production supplies
// DefaultFollowerStrategy(); a test can supply a strategy that drops
// or alters replies to exercise §8's failure scenarios.
type FollowerStrategy struct {
	OnPrepare PrepareStrategy
	OnAccept  AcceptStrategy
}

// DefaultFollowerStrategy implements spec §4.6's transition table
// exactly: promise if the incoming proposal is strictly higher than
// anything already promised, otherwise reject naming the higher
// promise; accept if the incoming proposal is not below what's been
// promised, otherwise reject the same way.
func DefaultFollowerStrategy() FollowerStrategy {
	return FollowerStrategy{
		OnPrepare: func(ctx *PaxosContext, self Endpoint, proposal ProposalID) *Command {
			if ctx.Promise(proposal) {
				acceptedID, acceptedWorkload := ctx.HighestAccepted()
				cmd := &Command{Type: CommandPromise, From: self, ProposalID: &proposal}
				if !acceptedID.IsZero() {
					cmd.PreviouslyAcceptedProposal = &acceptedID
					cmd.PreviouslyAcceptedWorkload = acceptedWorkload
				}
				return cmd
			}
			promised := ctx.HighestPromised()
			return &Command{
				Type:             CommandPrepareReject,
				From:             self,
				ProposalID:       &proposal,
				PromisedProposal: &promised,
			}
		},
		OnAccept: func(ctx *PaxosContext, self Endpoint, proposal ProposalID, workload []byte) *Command {
			if ctx.Accept(proposal, workload) {
				return &Command{Type: CommandAccepted, From: self, ProposalID: &proposal}
			}
			promised := ctx.HighestPromised()
			return &Command{
				Type:             CommandAcceptReject,
				From:             self,
				ProposalID:       &proposal,
				PromisedProposal: &promised,
			}
		},
	}
}
