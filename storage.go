package basicpaxos

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// PaxosContext is the per-replica durable round state from spec §3:
// (highest_promised, highest_accepted, accepted_workload). It is
// written only by the round state machine's follower-side transitions
// (spec §4.6) and never rolls back.
type PaxosContext struct {
	mu sync.Mutex

	highestPromised  ProposalID
	highestAccepted  ProposalID
	acceptedWorkload []byte

	wal *contextWAL // nil for a purely in-memory context
}

// NewContext returns an in-memory PaxosContext. Its state does not
// survive a process restart; use NewDurableContext when that matters.
func NewContext() *PaxosContext {
	return &PaxosContext{}
}

// HighestPromised returns the highest proposal id this replica has
// promised not to undercut.
func (c *PaxosContext) HighestPromised() ProposalID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestPromised
}

// HighestAccepted returns the highest proposal id this replica has
// accepted, and the workload accepted at that id.
func (c *PaxosContext) HighestAccepted() (ProposalID, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestAccepted, c.acceptedWorkload
}

// Promise records that this replica will not accept any proposal
// numbered below id. Returns false (and makes no change) if id is not
// strictly greater than the currently promised id — the caller is
// expected to reply prepare_reject in that case (spec §4.6).
func (c *PaxosContext) Promise(id ProposalID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !id.GreaterThan(c.highestPromised) {
		return false
	}
	c.highestPromised = id
	c.persist(walRecord{Kind: walKindPromise, ProposalID: id})
	return true
}

// Accept records that this replica has accepted workload at id.
// Returns false (and makes no change) if id is strictly less than the
// currently promised id — the caller is expected to reply
// accept_reject in that case (spec §4.6).
func (c *PaxosContext) Accept(id ProposalID, workload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id.Less(c.highestPromised) {
		return false
	}
	c.highestAccepted = id
	c.acceptedWorkload = workload
	c.persist(walRecord{Kind: walKindAccept, ProposalID: id, Workload: workload})
	return true
}

func (c *PaxosContext) persist(rec walRecord) {
	if c.wal == nil {
		return
	}
	if err := c.wal.append(rec); err != nil {
		// The context is still correct in memory; persistence failing
		// only threatens durability across a crash, which is already
		// best-effort. Surfacing it would turn a disk hiccup into a
		// protocol-fatal error, which spec §7 reserves for framing and
		// transition failures.
		logf("storage", c.wal.self, "failed to persist %s: %v", rec.Kind, err)
	}
}

// walRecordKind distinguishes the two mutations a PaxosContext ever
// makes.
type walRecordKind string

const (
	walKindPromise walRecordKind = "promise"
	walKindAccept  walRecordKind = "accept"
)

type walRecord struct {
	Kind       walRecordKind `json:"kind"`
	ProposalID ProposalID    `json:"proposal_id"`
	Workload   []byte        `json:"workload,omitempty"`
}

// contextWAL is an append-only write-ahead file backing a
// PaxosContext, grounded on the teacher's MsgLog (dyv-paxos
// paxos/log.go): one JSON record per line, fsynced after every write,
// replayed from the start on recovery. It resolves spec §9 Open
// Question (c): a replica that forgets highest_promised on restart can
// re-promise a number it already promised, violating Basic Paxos
// safety, so this module chooses durability.
type contextWAL struct {
	self Endpoint
	mu   sync.Mutex
	file *os.File
}

// NewDurableContext opens (creating if necessary) a write-ahead file
// at path, replays any records already in it into a fresh
// PaxosContext, and returns that context wired to keep appending to
// the same file.
func NewDurableContext(self Endpoint, path string) (*PaxosContext, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return nil, fmt.Errorf("basicpaxos: create wal dir: %w", err)
		}
	}
	ctx := &PaxosContext{}
	if err := replayWAL(path, ctx); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o666)
	if err != nil {
		return nil, fmt.Errorf("basicpaxos: open wal: %w", err)
	}
	ctx.wal = &contextWAL{self: self, file: f}
	return ctx, nil
}

func replayWAL(path string, ctx *PaxosContext) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("basicpaxos: open wal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("basicpaxos: corrupt wal record: %w", err)
		}
		switch rec.Kind {
		case walKindPromise:
			if rec.ProposalID.GreaterThan(ctx.highestPromised) {
				ctx.highestPromised = rec.ProposalID
			}
		case walKindAccept:
			if !rec.ProposalID.Less(ctx.highestAccepted) {
				ctx.highestAccepted = rec.ProposalID
				ctx.acceptedWorkload = rec.Workload
			}
		}
	}
	return scanner.Err()
}

func (w *contextWAL) append(rec walRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	body, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	body = append(body, '\n')
	if _, err := w.file.Write(body); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close releases the underlying write-ahead file, if any.
func (c *PaxosContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.wal == nil {
		return nil
	}
	return c.wal.file.Close()
}
