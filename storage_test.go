package basicpaxos

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPaxosContextPromiseMonotone(t *testing.T) {
	ctx := NewContext()
	self := NewEndpoint("a", 1)

	first := ProposalID{Sequence: 1, Proposer: self}
	if !ctx.Promise(first) {
		t.Fatalf("first promise should succeed")
	}
	if ctx.Promise(first) {
		t.Errorf("re-promising the same id should fail")
	}

	lower := ProposalID{Sequence: 0, Proposer: self}
	if ctx.Promise(lower) {
		t.Errorf("promising a lower id should fail")
	}

	higher := ProposalID{Sequence: 2, Proposer: self}
	if !ctx.Promise(higher) {
		t.Errorf("promising a strictly higher id should succeed")
	}
}

func TestPaxosContextAcceptRespectsPromise(t *testing.T) {
	ctx := NewContext()
	self := NewEndpoint("a", 1)

	promised := ProposalID{Sequence: 5, Proposer: self}
	ctx.Promise(promised)

	below := ProposalID{Sequence: 4, Proposer: self}
	if ctx.Accept(below, []byte("x")) {
		t.Errorf("accepting below the promised id should fail")
	}

	if !ctx.Accept(promised, []byte("y")) {
		t.Errorf("accepting exactly the promised id should succeed")
	}
	gotID, gotWorkload := ctx.HighestAccepted()
	if !gotID.Equal(promised) || string(gotWorkload) != "y" {
		t.Errorf("HighestAccepted() = (%s, %q), want (%s, %q)", gotID, gotWorkload, promised, "y")
	}
}

func TestDurableContextSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	self := NewEndpoint("a", 1)

	ctx, err := NewDurableContext(self, path)
	if err != nil {
		t.Fatalf("NewDurableContext: %v", err)
	}
	proposal := ProposalID{Sequence: 3, Proposer: self}
	if !ctx.Promise(proposal) {
		t.Fatalf("Promise failed")
	}
	if !ctx.Accept(proposal, []byte("committed")) {
		t.Fatalf("Accept failed")
	}
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restarted, err := NewDurableContext(self, path)
	if err != nil {
		t.Fatalf("NewDurableContext (restart): %v", err)
	}
	defer restarted.Close()

	if got := restarted.HighestPromised(); !got.Equal(proposal) {
		t.Errorf("HighestPromised() after restart = %s, want %s", got, proposal)
	}
	gotID, gotWorkload := restarted.HighestAccepted()
	if !gotID.Equal(proposal) || string(gotWorkload) != "committed" {
		t.Errorf("HighestAccepted() after restart = (%s, %q), want (%s, %q)", gotID, gotWorkload, proposal, "committed")
	}
}

func TestDurableContextRejectsCorruptWAL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.log")
	if err := os.WriteFile(path, []byte("not json\n"), 0o666); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := NewDurableContext(NewEndpoint("a", 1), path); err == nil {
		t.Errorf("NewDurableContext should reject a corrupt write-ahead log")
	}
}
