package raft_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tokvault/tokvaultd/internal/raft"
	"github.com/tokvault/tokvaultd/internal/raft/logstore"
	"github.com/tokvault/tokvaultd/internal/raft/transport"
)

// cluster wires up N consensus nodes over a shared in-memory transport
// network, so elections and replication can run without sockets.
type cluster struct {
	nodes []*raft.Consensus
	logs  []logstore.Store
	net   *transport.Network
}

func newCluster(t *testing.T, n int) *cluster {
	t.Helper()
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a' + i))
	}

	c := &cluster{net: transport.NewNetwork()}
	logs := make([]logstore.Store, n)
	for i := range ids {
		logs[i] = logstore.NewMemory()
	}
	c.logs = logs

	// Register a handlerSlot for every peer up front (Network.Register
	// needs a Handler immediately), then fill in the real Consensus once
	// constructed, and finally point each node's slot at itself.
	slots := make([]*handlerSlot, n)
	mts := make([]*transport.Memory, n)
	for i, id := range ids {
		slots[i] = &handlerSlot{}
		mts[i] = c.net.Register(id, slots[i])
	}

	nodes := make([]*raft.Consensus, n)
	for i, id := range ids {
		peers := make([]string, 0, n-1)
		for j, other := range ids {
			if j != i {
				peers = append(peers, other)
			}
		}
		nodes[i] = raft.NewConsensus(raft.ConsensusConfig{
			ID:             id,
			Peers:          peers,
			Log:            logs[i],
			Transport:      mts[i],
			ElectionTick:   10 * time.Millisecond,
			HeartbeatTick:  5 * time.Millisecond,
			RequestTimeout: 50 * time.Millisecond,
		})
		slots[i].set(nodes[i])
	}
	c.nodes = nodes

	t.Cleanup(func() {
		for _, node := range c.nodes {
			node.Stop()
		}
	})
	return c
}

// handlerSlot is a Handler whose target is filled in after registration,
// letting a Network be wired up before every node's Consensus exists.
type handlerSlot struct {
	mu     sync.RWMutex
	target transport.Handler
}

func (h *handlerSlot) set(target transport.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.target = target
}

func (h *handlerSlot) HandleVoteRequest(ctx context.Context, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.target.HandleVoteRequest(ctx, req)
}

func (h *handlerSlot) HandleAppendEntries(ctx context.Context, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.target.HandleAppendEntries(ctx, req)
}

func (c *cluster) start() {
	for _, n := range c.nodes {
		n.Run()
	}
}

func (c *cluster) awaitLeader(t *testing.T, timeout time.Duration) *raft.Consensus {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		for _, n := range c.nodes {
			if n.IsLeader() {
				return n
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no leader elected within timeout")
	return nil
}

func TestConsensus_ElectsLeader(t *testing.T) {
	c := newCluster(t, 3)
	c.start()
	c.awaitLeader(t, 2*time.Second)
}

func TestConsensus_ReplicatesCommand(t *testing.T) {
	c := newCluster(t, 3)
	c.start()
	leader := c.awaitLeader(t, 2*time.Second)

	index, err := leader.Propose([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for _, log := range c.logs {
		for time.Now().Before(deadline) && log.CommittedIndex() < index {
			time.Sleep(5 * time.Millisecond)
		}
		if log.CommittedIndex() < index {
			t.Errorf("log did not commit index %d within timeout", index)
		}
	}
}

func TestConsensus_SingleNodeCommitsImmediately(t *testing.T) {
	c := newCluster(t, 1)
	c.start()
	leader := c.awaitLeader(t, time.Second)

	index, err := leader.Propose([]byte("solo"))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && c.logs[0].CommittedIndex() < index {
		time.Sleep(2 * time.Millisecond)
	}
	if c.logs[0].CommittedIndex() < index {
		t.Fatal("single-node cluster failed to self-commit")
	}
}
