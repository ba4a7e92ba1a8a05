// basicpaxos is a replicated state-machine library implementing Basic
// Paxos consensus over TCP. A fixed quorum of peer processes agrees on
// a totally ordered sequence of opaque workloads submitted by clients;
// each committed workload is handed to a host-supplied callback on
// every replica so that side effects stay deterministic across the
// quorum.
//
// The library is embedded in a host process. It exposes a Client
// handle for request submission and a Server handle for participation
// in the quorum.
//
// Four subsystems do the interesting work:
//
//   - Quorum membership & liveness: who is alive, who is leader.
//   - Heartbeat & election: periodic handshake and leader-claim
//     arbitration.
//   - The Paxos round state machine: prepare/promise/accept/accepted.
//   - The client request queue: a single-flight pipeline with
//     retry-on-failure.
//
// Out of scope, by design: the host callback that executes committed
// workloads, process-launching CLIs, and any logging sink beyond the
// small leveled logger in logging.go.
//
// References:
//
// - Paxos Made Simple - Lamport
// - Paxos Made Live - Chandra, Griesemer, Redstone
// - The Part-Time Parliament - Lamport
package basicpaxos
