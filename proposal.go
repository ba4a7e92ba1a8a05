package basicpaxos

import "fmt"

// ProposalID totally orders every Paxos round attempt in the system.
// Sequence is compared first; Proposer (lexicographic) is the
// tie-break, which is what lets two replicas generate proposal ids
// that are never equal without any coordination.
type ProposalID struct {
	Sequence uint64
	Proposer Endpoint
}

// Less reports whether id is strictly ordered before other.
func (id ProposalID) Less(other ProposalID) bool {
	if id.Sequence != other.Sequence {
		return id.Sequence < other.Sequence
	}
	return id.Proposer.Less(other.Proposer)
}

// GreaterThan reports whether id is strictly ordered after other.
func (id ProposalID) GreaterThan(other ProposalID) bool {
	return other.Less(id)
}

// Equal reports whether id and other identify the same round attempt.
func (id ProposalID) Equal(other ProposalID) bool {
	return id.Sequence == other.Sequence && id.Proposer == other.Proposer
}

// IsZero reports whether id is the zero ProposalID, which compares
// less than every real proposal id.
func (id ProposalID) IsZero() bool {
	return id.Sequence == 0 && id.Proposer.IsZero()
}

func (id ProposalID) String() string {
	return fmt.Sprintf("(%d, %s)", id.Sequence, id.Proposer)
}

// nextProposalID returns a ProposalID proposed by self whose sequence
// is one more than floor's, so it is strictly greater than floor
// whatever the proposers are. It is how a leader implements §4.5 step 1:
// "next_sequence strictly greater than any sequence locally observed".
func nextProposalID(floor ProposalID, self Endpoint) ProposalID {
	return ProposalID{Sequence: floor.Sequence + 1, Proposer: self}
}
