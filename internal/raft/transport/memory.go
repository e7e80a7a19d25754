package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/tokvault/tokvaultd/internal/raft"
)

// Memory is an in-process Transport that dispatches directly to peer
// Handlers registered in a shared Network. It is used for tests and for
// exercising the consensus module without sockets.
type Memory struct {
	net  *Network
	self string
}

// Network is the shared registry backing a set of Memory transports. All
// peers in a simulated cluster must share one Network.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	// partitioned peers are dropped: sends to or from a partitioned peer
	// fail immediately, simulating a network split for tests.
	partitioned map[string]bool
}

// NewNetwork creates an empty peer registry.
func NewNetwork() *Network {
	return &Network{
		handlers:    make(map[string]Handler),
		partitioned: make(map[string]bool),
	}
}

// Register binds a peer ID to the Handler that answers its RPCs, and
// returns a Memory transport that peer can use to call others.
func (n *Network) Register(peer string, h Handler) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[peer] = h
	return &Memory{net: n, self: peer}
}

// SetPartitioned marks a peer as unreachable (both inbound and outbound)
// until cleared, for simulating network partitions in tests.
func (n *Network) SetPartitioned(peer string, partitioned bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[peer] = partitioned
}

func (n *Network) reachable(a, b string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return !n.partitioned[a] && !n.partitioned[b]
}

func (n *Network) handlerFor(peer string) (Handler, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	h, ok := n.handlers[peer]
	return h, ok
}

func (m *Memory) SendVoteRequest(ctx context.Context, peer string, req *raft.RequestVoteRequest) (*raft.RequestVoteResponse, error) {
	if !m.net.reachable(m.self, peer) {
		return nil, fmt.Errorf("transport: peer %s unreachable", peer)
	}
	h, ok := m.net.handlerFor(peer)
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %s", peer)
	}
	return h.HandleVoteRequest(ctx, req)
}

func (m *Memory) SendAppendEntries(ctx context.Context, peer string, req *raft.AppendEntriesRequest) (*raft.AppendEntriesResponse, error) {
	if !m.net.reachable(m.self, peer) {
		return nil, fmt.Errorf("transport: peer %s unreachable", peer)
	}
	h, ok := m.net.handlerFor(peer)
	if !ok {
		return nil, fmt.Errorf("transport: unknown peer %s", peer)
	}
	return h.HandleAppendEntries(ctx, req)
}

func (m *Memory) Close() error { return nil }
