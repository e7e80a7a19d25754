package raft

// LogEntry is one slot in the replicated log. Term and Index are
// maintained by the log store; Command is opaque bytes handed to the
// state machine on apply.
type LogEntry struct {
	Index   uint64
	Term    uint64
	Command []byte
}

// RequestVoteRequest is sent by a candidate to every peer at the start
// of an election.
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  string
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteResponse is a peer's reply to RequestVoteRequest.
type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest carries a heartbeat (Entries empty) or a batch of
// log entries from the leader to a follower.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesResponse is a follower's reply. MatchIndex is only
// meaningful when Success is true, and is the only place next_index /
// match_index updates may come from (O-4).
type AppendEntriesResponse struct {
	Term       uint64
	Success    bool
	MatchIndex uint64
	// ConflictIndex/ConflictTerm let the leader back up next_index by
	// more than one entry per round trip on a log mismatch, instead of
	// decrementing one at a time.
	ConflictIndex uint64
	ConflictTerm  uint64
}

// Message is the envelope exchanged over a Transport. Exactly one of
// the typed fields is populated, selected by Kind.
type Message struct {
	Kind MessageKind

	VoteRequest    *RequestVoteRequest
	VoteResponse   *RequestVoteResponse
	AppendRequest  *AppendEntriesRequest
	AppendResponse *AppendEntriesResponse
}

// MessageKind discriminates the Message envelope's payload.
type MessageKind uint8

const (
	KindVoteRequest MessageKind = iota + 1
	KindVoteResponse
	KindAppendRequest
	KindAppendResponse
)
