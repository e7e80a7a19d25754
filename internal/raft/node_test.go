package raft_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tokvault/tokvaultd/internal/raft"
	"github.com/tokvault/tokvaultd/internal/raft/logstore"
)

type fakeStateMachine struct {
	mu      sync.Mutex
	applied [][]byte
}

func (f *fakeStateMachine) Apply(command []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, append([]byte(nil), command...))
	return nil
}

func (f *fakeStateMachine) Snapshot() ([]byte, error) { return []byte("snap"), nil }
func (f *fakeStateMachine) Restore(data []byte) error { return nil }

func (f *fakeStateMachine) appliedCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.applied))
	for i, c := range f.applied {
		out[i] = string(c)
	}
	return out
}

func newSoloNode(t *testing.T) (*raft.Node, *fakeStateMachine) {
	t.Helper()
	log := logstore.NewMemory()
	consensus := raft.NewConsensus(raft.ConsensusConfig{
		ID:             "solo",
		Log:            log,
		ElectionTick:   10 * time.Millisecond,
		HeartbeatTick:  5 * time.Millisecond,
		RequestTimeout: 50 * time.Millisecond,
	})
	sm := &fakeStateMachine{}
	node, err := raft.NewNode(raft.NodeConfig{
		Consensus:      consensus,
		Log:            log,
		StateMachine:   sm,
		CommandTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	consensus.Run()
	node.Run()
	t.Cleanup(func() {
		node.Stop()
		consensus.Stop()
	})
	return node, sm
}

func TestNode_ProcessCommandAppliesInOrder(t *testing.T) {
	node, sm := newSoloNode(t)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := node.ProcessCommand(context.Background(), []byte("noop")); err == nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for _, cmd := range []string{"a", "b", "c"} {
		if _, err := node.ProcessCommand(context.Background(), []byte(cmd)); err != nil {
			t.Fatalf("ProcessCommand(%q) error = %v", cmd, err)
		}
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sm.appliedCommands()) < 4 {
		time.Sleep(5 * time.Millisecond)
	}

	got := sm.appliedCommands()
	if len(got) != 4 || got[1] != "a" || got[2] != "b" || got[3] != "c" {
		t.Errorf("applied = %v, want [noop a b c]", got)
	}
}

func TestNode_EncodeDecodeCommand(t *testing.T) {
	payload := map[string]string{"key": "k", "value": "v"}
	cmd, err := raft.EncodeCommand("set", payload)
	if err != nil {
		t.Fatal(err)
	}
	kind, raw, err := raft.DecodeCommand(cmd)
	if err != nil {
		t.Fatal(err)
	}
	if kind != "set" {
		t.Errorf("kind = %q, want set", kind)
	}
	if len(raw) == 0 {
		t.Error("expected non-empty payload")
	}
}
