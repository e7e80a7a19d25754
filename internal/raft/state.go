// Package raft implements the Raft consensus core: election and
// heartbeat timing, log replication, and a replicated state machine
// wrapper. It sits above the internal/raft/logstore abstraction and an
// internal/raft/transport abstraction, and knows nothing about what
// command bytes mean — that is the state machine's job.
package raft

import (
	"math/rand"
	"sync"
	"time"
)

// Role is a node's position in the Raft state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Default election and heartbeat timing, per the spec's source.
const (
	DefaultElectionMin = 150 * time.Millisecond
	DefaultElectionMax = 300 * time.Millisecond
	DefaultHeartbeat   = 50 * time.Millisecond
)

// State tracks a node's current term, vote, role, and election/heartbeat
// deadlines. It holds no knowledge of log entries; State and the log
// store are kept in lockstep by Consensus.
type State struct {
	mu sync.Mutex

	currentTerm uint64
	votedFor    string
	role        Role

	electionMin time.Duration
	electionMax time.Duration
	heartbeat   time.Duration

	electionDeadline  time.Time
	heartbeatDeadline time.Time

	votesReceived int

	// now is overridable in tests.
	now func() time.Time
	// rand is overridable in tests for deterministic election timeouts.
	rand *rand.Rand
}

// NewState creates a Follower with the default timing, starting
// immediately eligible for election (deadline in the past).
func NewState() *State {
	s := &State{
		role:        Follower,
		electionMin: DefaultElectionMin,
		electionMax: DefaultElectionMax,
		heartbeat:   DefaultHeartbeat,
		now:         time.Now,
		rand:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	s.electionDeadline = s.now()
	return s
}

// Term returns the current term.
func (s *State) Term() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTerm
}

// Role returns the current role.
func (s *State) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// VotedFor returns who this node voted for in the current term ("" if
// nobody yet).
func (s *State) VotedFor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votedFor
}

func (s *State) randomElectionTimeout() time.Duration {
	span := s.electionMax - s.electionMin
	if span <= 0 {
		return s.electionMin
	}
	return s.electionMin + time.Duration(s.rand.Int63n(int64(span)))
}

// updateTermLocked, on strict increase of term, resets voted_for and
// downgrades to Follower. Must be called with the lock held.
func (s *State) updateTermLocked(term uint64) {
	if term > s.currentTerm {
		s.currentTerm = term
		s.votedFor = ""
		s.role = Follower
	}
}

// UpdateTerm is the exported form, used by callers (Consensus) that
// observe a higher term on an incoming message or response.
func (s *State) UpdateTerm(term uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateTermLocked(term)
}

// ElectionDeadlinePassed reports whether the election timer has expired.
func (s *State) ElectionDeadlinePassed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.electionDeadline)
}

// HeartbeatDeadlinePassed reports whether the heartbeat timer has
// expired.
func (s *State) HeartbeatDeadlinePassed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.now().Before(s.heartbeatDeadline)
}

func (s *State) resetElectionTimerLocked() {
	s.electionDeadline = s.now().Add(s.randomElectionTimeout())
}

func (s *State) resetHeartbeatTimerLocked() {
	s.heartbeatDeadline = s.now().Add(s.heartbeat)
}

// ResetElectionTimer resets the election deadline to a fresh random
// value. Called whenever the node hears from a legitimate leader or
// candidate.
func (s *State) ResetElectionTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetElectionTimerLocked()
}

// BeginElection transitions Follower/Candidate to Candidate, increments
// the term, votes for self, and resets the election timer. Returns the
// new term.
func (s *State) BeginElection(selfID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.role = Candidate
	s.currentTerm++
	s.votedFor = selfID
	s.votesReceived = 1
	s.resetElectionTimerLocked()
	return s.currentTerm
}

// VoteRequest carries the fields needed for the up-to-date log check and
// term comparison.
type VoteRequest struct {
	CandidateID  string
	Term         uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

// HandleVoteRequest implements the standard Raft RequestVote handler,
// including the up-to-date log check: a candidate's log is at least as
// up-to-date as ours if its last term is higher, or terms are equal and
// its last index is not smaller.
func (s *State) HandleVoteRequest(req VoteRequest, selfLastLogIndex, selfLastLogTerm uint64) (granted bool, term uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Term < s.currentTerm {
		return false, s.currentTerm
	}
	s.updateTermLocked(req.Term)

	upToDate := req.LastLogTerm > selfLastLogTerm ||
		(req.LastLogTerm == selfLastLogTerm && req.LastLogIndex >= selfLastLogIndex)

	canVote := s.votedFor == "" || s.votedFor == req.CandidateID
	if canVote && upToDate {
		s.votedFor = req.CandidateID
		s.resetElectionTimerLocked()
		return true, s.currentTerm
	}
	return false, s.currentTerm
}

// RecordVoteGranted tallies a vote received while still a Candidate in
// the same term. Returns false if the vote is stale (role changed or
// term advanced since the election began).
func (s *State) RecordVoteGranted(term uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != Candidate || term != s.currentTerm {
		return false
	}
	s.votesReceived++
	return true
}

// CheckElectionWon reports strict majority of a cluster of the given
// size.
func (s *State) CheckElectionWon(clusterSize int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.votesReceived > clusterSize/2
}

// BecomeLeader transitions Candidate to Leader and resets the heartbeat
// timer. No-op (returns false) if not currently Candidate.
func (s *State) BecomeLeader() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != Candidate {
		return false
	}
	s.role = Leader
	s.resetHeartbeatTimerLocked()
	return true
}

// BecomeFollower downgrades to Follower and resets the election timer,
// used when a legitimate AppendEntries arrives.
func (s *State) BecomeFollower() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.role = Follower
	s.resetElectionTimerLocked()
}

// ResetHeartbeatTimer resets the heartbeat deadline, called after the
// leader sends a round of AppendEntries.
func (s *State) ResetHeartbeatTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetHeartbeatTimerLocked()
}
