package raft

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tokvault/tokvaultd/internal/raft/logstore"
)

// Transport is the subset of internal/raft/transport.Transport that
// Consensus depends on, kept here to avoid an import cycle between raft
// and raft/transport (which imports raft for message types).
type Transport interface {
	SendVoteRequest(ctx context.Context, peer string, req *RequestVoteRequest) (*RequestVoteResponse, error)
	SendAppendEntries(ctx context.Context, peer string, req *AppendEntriesRequest) (*AppendEntriesResponse, error)
}

// ConsensusConfig configures a Consensus instance.
type ConsensusConfig struct {
	ID             string
	Peers          []string
	Log            logstore.Store
	Transport      Transport
	Logger         *slog.Logger
	ElectionTick   time.Duration
	HeartbeatTick  time.Duration
	RequestTimeout time.Duration
}

func (c ConsensusConfig) withDefaults() ConsensusConfig {
	if c.ElectionTick <= 0 {
		c.ElectionTick = 100 * time.Millisecond
	}
	if c.HeartbeatTick <= 0 {
		c.HeartbeatTick = 50 * time.Millisecond
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 200 * time.Millisecond
	}
	return c
}

// Consensus drives Raft leader election and log replication for one
// node. It owns the per-peer next_index/match_index tables and enforces
// the commit-advancement rule (O-3) and response-gated match_index
// update rule (O-4).
type Consensus struct {
	id     string
	peers  []string
	state  *State
	log    logstore.Store
	trans  Transport
	logger *slog.Logger
	cfg    ConsensusConfig

	// replMu guards nextIndex/matchIndex. Lock order throughout this
	// type is: state -> replMu -> log store.
	replMu     sync.Mutex
	nextIndex  map[string]uint64
	matchIndex map[string]uint64

	leaderID string
	leaderMu sync.RWMutex

	commitSignal chan struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewConsensus builds a Consensus for a node with the given peer IDs
// (not including itself).
func NewConsensus(cfg ConsensusConfig) *Consensus {
	cfg = cfg.withDefaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Consensus{
		id:           cfg.ID,
		peers:        cfg.Peers,
		state:        NewState(),
		log:          cfg.Log,
		trans:        cfg.Transport,
		logger:       cfg.Logger,
		cfg:          cfg,
		nextIndex:    make(map[string]uint64),
		matchIndex:   make(map[string]uint64),
		commitSignal: make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

// State returns the underlying election/term state.
func (c *Consensus) State() *State { return c.state }

// IsLeader reports whether this node currently believes itself leader.
func (c *Consensus) IsLeader() bool { return c.state.Role() == Leader }

// Leader returns the ID of the last known leader, or "" if unknown.
func (c *Consensus) Leader() string {
	c.leaderMu.RLock()
	defer c.leaderMu.RUnlock()
	return c.leaderID
}

func (c *Consensus) setLeader(id string) {
	c.leaderMu.Lock()
	c.leaderID = id
	c.leaderMu.Unlock()
}

// CommitSignal fires (non-blocking, best-effort) whenever the committed
// index may have advanced, for a state machine apply loop to watch.
func (c *Consensus) CommitSignal() <-chan struct{} { return c.commitSignal }

func (c *Consensus) notifyCommit() {
	select {
	case c.commitSignal <- struct{}{}:
	default:
	}
}

// Run starts the election and heartbeat loops. It returns immediately;
// call Stop to shut down.
func (c *Consensus) Run() {
	c.wg.Add(2)
	go c.electionLoop()
	go c.heartbeatLoop()
}

// Stop halts the background loops.
func (c *Consensus) Stop() {
	close(c.stopCh)
	c.wg.Wait()
}

func (c *Consensus) electionLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.ElectionTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.state.Role() == Leader {
				continue
			}
			if c.state.ElectionDeadlinePassed() {
				c.runElection()
			}
		}
	}
}

func (c *Consensus) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.HeartbeatTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if c.state.Role() != Leader {
				continue
			}
			c.replicateToAll()
			c.state.ResetHeartbeatTimer()
		}
	}
}

// Propose appends command as a new log entry if this node is leader.
// Returns the entry's index. Callers (the replicated node) must then
// wait for the log store's committed index to reach that index.
func (c *Consensus) Propose(command []byte) (uint64, error) {
	if c.state.Role() != Leader {
		return 0, ErrNotLeader
	}
	term := c.state.Term()
	index := c.log.LastIndex() + 1
	entry := logstore.Entry{Index: index, Term: term, Data: command, Timestamp: time.Now()}
	if err := c.log.Append([]logstore.Entry{entry}); err != nil {
		return 0, fmt.Errorf("raft: append proposed entry: %w", err)
	}

	c.replMu.Lock()
	c.matchIndex[c.id] = index
	c.replMu.Unlock()

	// Kick an immediate replication round rather than waiting for the
	// next heartbeat tick, so single-node clusters (and fast acks in
	// multi-node ones) commit promptly.
	go c.replicateToAll()

	if len(c.peers) == 0 {
		c.maybeAdvanceCommit()
	}
	return index, nil
}

// ErrNotLeader is returned by Propose when called on a non-leader node.
var ErrNotLeader = fmt.Errorf("raft: not leader")

func (c *Consensus) runElection() {
	term := c.state.BeginElection(c.id)
	c.logger.Info("raft starting election", "term", term, "node", c.id)

	lastIndex := c.log.LastIndex()
	lastTerm := c.log.LastTerm()

	if len(c.peers) == 0 {
		if c.state.CheckElectionWon(1) && c.state.BecomeLeader() {
			c.becomeLeaderLocked()
		}
		return
	}

	var mu sync.Mutex
	for _, peer := range c.peers {
		peer := peer
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
			defer cancel()
			resp, err := c.trans.SendVoteRequest(ctx, peer, &RequestVoteRequest{
				Term:         term,
				CandidateID:  c.id,
				LastLogIndex: lastIndex,
				LastLogTerm:  lastTerm,
			})
			if err != nil {
				return
			}
			if resp.Term > c.state.Term() {
				c.state.UpdateTerm(resp.Term)
				return
			}
			if !resp.VoteGranted {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if !c.state.RecordVoteGranted(term) {
				return
			}
			if c.state.CheckElectionWon(len(c.peers) + 1) {
				if c.state.BecomeLeader() {
					c.becomeLeaderLocked()
				}
			}
		}()
	}
}

// becomeLeaderLocked initializes per-peer replication state and
// announces leadership with an immediate heartbeat round. Must be
// called right after state.BecomeLeader() succeeds.
func (c *Consensus) becomeLeaderLocked() {
	c.setLeader(c.id)
	next := c.log.LastIndex() + 1

	c.replMu.Lock()
	c.nextIndex = make(map[string]uint64, len(c.peers))
	c.matchIndex = make(map[string]uint64, len(c.peers))
	for _, peer := range c.peers {
		c.nextIndex[peer] = next
		c.matchIndex[peer] = 0
	}
	c.matchIndex[c.id] = c.log.LastIndex()
	c.replMu.Unlock()

	c.logger.Info("raft became leader", "term", c.state.Term(), "node", c.id)
	go c.replicateToAll()
}

func (c *Consensus) replicateToAll() {
	if c.state.Role() != Leader {
		return
	}
	for _, peer := range c.peers {
		peer := peer
		go c.replicateTo(peer)
	}
}

// replicateTo sends one AppendEntries round to peer and, on a genuine
// response, updates next_index/match_index (O-4: never updated
// optimistically at send time).
func (c *Consensus) replicateTo(peer string) {
	if c.state.Role() != Leader {
		return
	}
	term := c.state.Term()

	c.replMu.Lock()
	next := c.nextIndex[peer]
	if next == 0 {
		next = c.log.LastIndex() + 1
	}
	c.replMu.Unlock()

	prevIndex := next - 1
	prevTerm := c.termAt(prevIndex)

	entries, err := c.log.GetRange(next, c.log.LastIndex())
	if err != nil {
		c.logger.Error("raft read log range failed", "error", err, "peer", peer)
		return
	}

	msgEntries := make([]LogEntry, len(entries))
	for i, e := range entries {
		msgEntries[i] = LogEntry{Index: e.Index, Term: e.Term, Command: e.Data}
	}

	req := &AppendEntriesRequest{
		Term:         term,
		LeaderID:     c.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      msgEntries,
		LeaderCommit: c.log.CommittedIndex(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	resp, err := c.trans.SendAppendEntries(ctx, peer, req)
	cancel()
	if err != nil {
		return
	}

	if resp.Term > term {
		c.state.UpdateTerm(resp.Term)
		return
	}
	if c.state.Role() != Leader || c.state.Term() != term {
		return
	}

	if !resp.Success {
		c.replMu.Lock()
		backoff := resp.ConflictIndex
		if backoff == 0 {
			if c.nextIndex[peer] > 1 {
				backoff = c.nextIndex[peer] - 1
			} else {
				backoff = 1
			}
		}
		if backoff < 1 {
			backoff = 1
		}
		c.nextIndex[peer] = backoff
		c.replMu.Unlock()
		return
	}

	// O-4: match_index/next_index only move forward here, gated on the
	// response actually reporting success.
	c.replMu.Lock()
	if resp.MatchIndex > c.matchIndex[peer] {
		c.matchIndex[peer] = resp.MatchIndex
	}
	if resp.MatchIndex+1 > c.nextIndex[peer] {
		c.nextIndex[peer] = resp.MatchIndex + 1
	}
	c.replMu.Unlock()

	c.maybeAdvanceCommit()
}

// maybeAdvanceCommit implements O-3: the canonical upward scan for the
// largest N > committed_index such that a majority of match_index values
// (including the leader's own, which is always its last log index) are
// >= N, and log[N].term == current term. Scanning strictly upward (never
// downward from last_index) is what makes this canonical: it finds the
// smallest such N first only incidentally — the loop keeps going to find
// the LARGEST qualifying N, never stopping at the first match.
func (c *Consensus) maybeAdvanceCommit() {
	if c.state.Role() != Leader {
		return
	}
	term := c.state.Term()
	committed := c.log.CommittedIndex()
	last := c.log.LastIndex()

	c.replMu.Lock()
	match := make(map[string]uint64, len(c.matchIndex)+1)
	for k, v := range c.matchIndex {
		match[k] = v
	}
	match[c.id] = last
	clusterSize := len(c.peers) + 1
	c.replMu.Unlock()

	largest := committed
	for n := committed + 1; n <= last; n++ {
		if c.termAt(n) != term {
			continue
		}
		count := 0
		for _, mi := range match {
			if mi >= n {
				count++
			}
		}
		if count*2 > clusterSize {
			largest = n
		}
	}

	if largest > committed {
		if err := c.log.Commit(largest); err != nil {
			c.logger.Error("raft commit advance failed", "error", err, "index", largest)
			return
		}
		c.notifyCommit()
	}
}

// termAt returns the term of the entry at index, including the boundary
// case where index is exactly the log's (possibly compacted) last index.
func (c *Consensus) termAt(index uint64) uint64 {
	if index == 0 {
		return 0
	}
	if entry, ok, err := c.log.Get(index); err == nil && ok {
		return entry.Term
	}
	if index == c.log.LastIndex() {
		return c.log.LastTerm()
	}
	return 0
}

// HandleVoteRequest answers an inbound RequestVote RPC.
func (c *Consensus) HandleVoteRequest(ctx context.Context, req *RequestVoteRequest) (*RequestVoteResponse, error) {
	granted, term := c.state.HandleVoteRequest(VoteRequest{
		CandidateID:  req.CandidateID,
		Term:         req.Term,
		LastLogIndex: req.LastLogIndex,
		LastLogTerm:  req.LastLogTerm,
	}, c.log.LastIndex(), c.log.LastTerm())
	return &RequestVoteResponse{Term: term, VoteGranted: granted}, nil
}

// HandleAppendEntries answers an inbound AppendEntries RPC: term check,
// log-match check, conflict truncation, append, and commit-index
// advancement on the follower side.
func (c *Consensus) HandleAppendEntries(ctx context.Context, req *AppendEntriesRequest) (*AppendEntriesResponse, error) {
	currentTerm := c.state.Term()
	if req.Term < currentTerm {
		return &AppendEntriesResponse{Term: currentTerm, Success: false}, nil
	}
	c.state.UpdateTerm(req.Term)
	c.state.BecomeFollower()
	c.setLeader(req.LeaderID)

	if req.PrevLogIndex > 0 {
		entry, ok, err := c.log.Get(req.PrevLogIndex)
		if err != nil {
			return nil, err
		}
		var prevTerm uint64
		var have bool
		if ok {
			prevTerm, have = entry.Term, true
		} else if req.PrevLogIndex == c.log.LastIndex() {
			prevTerm, have = c.log.LastTerm(), true
		}
		if !have || prevTerm != req.PrevLogTerm {
			conflictIndex := req.PrevLogIndex
			if have {
				for conflictIndex > 1 {
					e, ok, err := c.log.Get(conflictIndex - 1)
					if err != nil || !ok || e.Term != prevTerm {
						break
					}
					conflictIndex--
				}
			}
			return &AppendEntriesResponse{
				Term:          c.state.Term(),
				Success:       false,
				ConflictIndex: conflictIndex,
				ConflictTerm:  prevTerm,
			}, nil
		}
	}

	if len(req.Entries) > 0 {
		entries := make([]logstore.Entry, len(req.Entries))
		for i, e := range req.Entries {
			entries[i] = logstore.Entry{Index: e.Index, Term: e.Term, Data: e.Command, Timestamp: time.Now()}
		}
		if err := c.log.Append(entries); err != nil {
			return nil, fmt.Errorf("raft: follower append failed: %w", err)
		}
	}

	if req.LeaderCommit > c.log.CommittedIndex() {
		newCommit := req.LeaderCommit
		if last := c.log.LastIndex(); newCommit > last {
			newCommit = last
		}
		if newCommit > c.log.CommittedIndex() {
			if err := c.log.Commit(newCommit); err != nil {
				return nil, err
			}
			c.notifyCommit()
		}
	}

	return &AppendEntriesResponse{
		Term:       c.state.Term(),
		Success:    true,
		MatchIndex: req.PrevLogIndex + uint64(len(req.Entries)),
	}, nil
}
