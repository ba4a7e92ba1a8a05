package basicpaxos

// CommandType is the closed set of wire message tags from spec §6.
type CommandType string

const (
	CommandHandshakeStart    CommandType = "handshake_start"
	CommandHandshakeResponse CommandType = "handshake_response"
	CommandLeaderClaim       CommandType = "leader_claim"
	CommandLeaderClaimAck    CommandType = "leader_claim_ack"
	CommandLeaderClaimReject CommandType = "leader_claim_reject"
	CommandLeaderAnnounce    CommandType = "leader_announce"
	CommandRequestInitiate   CommandType = "request_initiate"
	CommandRequestResponse   CommandType = "request_response"
	CommandPrepare           CommandType = "prepare"
	CommandPromise           CommandType = "promise"
	CommandPrepareReject     CommandType = "prepare_reject"
	CommandAccept            CommandType = "accept"
	CommandAccepted          CommandType = "accepted"
	CommandAcceptReject      CommandType = "accept_reject"
)

// ErrorCode is the closed error enum carried on the wire and at the
// client API (spec §6, §7).
type ErrorCode string

const (
	ErrorNoMajority       ErrorCode = "no_majority"
	ErrorConflict         ErrorCode = "conflict"
	ErrorTimeout          ErrorCode = "timeout"
	ErrorConnectionClosed ErrorCode = "connection_closed"
	ErrorNotLeader        ErrorCode = "not_leader"
	ErrorProtocolError    ErrorCode = "protocol_error"
)

// Command is the wire record exchanged between peers and between a
// client and the leader. All fields besides Type are optional; the
// zero value of a field means "not present" for that command type.
type Command struct {
	Type CommandType `json:"type"`

	ProposalID       *ProposalID `json:"proposal_id,omitempty"`
	Workload         []byte      `json:"workload,omitempty"`
	Response         []byte      `json:"response,omitempty"`
	LeaderEndpoint   *Endpoint   `json:"leader_endpoint,omitempty"`
	PromisedProposal *ProposalID `json:"promised_proposal_id,omitempty"`

	PreviouslyAcceptedProposal *ProposalID `json:"previously_accepted_proposal_id,omitempty"`
	PreviouslyAcceptedWorkload []byte      `json:"previously_accepted_workload,omitempty"`

	ErrorCode ErrorCode `json:"error_code,omitempty"`

	// From identifies the sender. It is not part of spec §6's field
	// set, but every message needs a return address and the protocol
	// layer (not the transport) is where that address belongs — see
	// spec §4.1's remark that Connection framing carries only Command
	// bytes.
	From Endpoint `json:"from"`
}
