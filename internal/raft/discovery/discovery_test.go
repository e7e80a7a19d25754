package discovery

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/hashicorp/memberlist"
)

func TestNew(t *testing.T) {
	cfg := Config{
		NodeID:   "test-node",
		BindAddr: "127.0.0.1",
		BindPort: 0,
		RaftAddr: "127.0.0.1:7000",
		Logger:   slog.New(slog.NewTextHandler(os.Stdout, nil)),
	}

	d, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Shutdown()

	members := d.Members()
	if len(members) < 1 {
		t.Fatalf("expected at least 1 member, got %d", len(members))
	}
	if members[0].Name != "test-node" {
		t.Errorf("local member name = %q, want test-node", members[0].Name)
	}

	var meta nodeMetadata
	if err := json.Unmarshal(members[0].Meta, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.RaftAddr != "127.0.0.1:7000" {
		t.Errorf("metadata RaftAddr = %q, want 127.0.0.1:7000", meta.RaftAddr)
	}
}

func TestNew_WithoutLogger(t *testing.T) {
	d, err := New(Config{
		NodeID:   "test-node-2",
		BindAddr: "127.0.0.1",
		BindPort: 0,
		RaftAddr: "127.0.0.1:7001",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Shutdown()
}

func TestDiscovery_LeaveAndShutdown(t *testing.T) {
	d, err := New(Config{
		NodeID:   "test-leave",
		BindAddr: "127.0.0.1",
		BindPort: 0,
		RaftAddr: "127.0.0.1:7030",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := d.Leave(); err != nil {
		t.Errorf("Leave() error = %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	// Shutdown must be idempotent.
	if err := d.Shutdown(); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

// TestDiscovery_Callbacks drives the event delegate directly, the way
// a gossip join/leave would, and checks the callbacks registered via
// OnJoin/OnLeave fire with the right arguments.
func TestDiscovery_Callbacks(t *testing.T) {
	d, err := New(Config{
		NodeID:   "test-callbacks",
		BindAddr: "127.0.0.1",
		BindPort: 0,
		RaftAddr: "127.0.0.1:7040",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Shutdown()

	var joinedID, joinedAddr, leftID string
	d.OnJoin(func(nodeID, raftAddr string) {
		joinedID, joinedAddr = nodeID, raftAddr
	})
	d.OnLeave(func(nodeID string) {
		leftID = nodeID
	})

	ed := &eventDelegate{discovery: d}

	meta, err := json.Marshal(nodeMetadata{RaftAddr: "127.0.0.1:9000"})
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	mockNode := &memberlist.Node{
		Name: "peer-1",
		Addr: []byte{127, 0, 0, 1},
		Port: 8000,
		Meta: meta,
	}

	ed.NotifyJoin(mockNode)
	if joinedID != "peer-1" || joinedAddr != "127.0.0.1:9000" {
		t.Errorf("OnJoin callback got (%q, %q), want (peer-1, 127.0.0.1:9000)", joinedID, joinedAddr)
	}

	ed.NotifyLeave(mockNode)
	if leftID != "peer-1" {
		t.Errorf("OnLeave callback got %q, want peer-1", leftID)
	}
}

func TestEventDelegate_RejectsClusterIDMismatch(t *testing.T) {
	d, err := New(Config{
		NodeID:    "test-cluster-id",
		ClusterID: "prod",
		BindAddr:  "127.0.0.1",
		BindPort:  0,
		RaftAddr:  "127.0.0.1:7041",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer d.Shutdown()

	var joined bool
	d.OnJoin(func(string, string) { joined = true })

	meta, _ := json.Marshal(nodeMetadata{RaftAddr: "127.0.0.1:9001", ClusterID: "staging"})
	ed := &eventDelegate{discovery: d}
	ed.NotifyJoin(&memberlist.Node{Name: "peer-2", Addr: []byte{127, 0, 0, 1}, Port: 8001, Meta: meta})

	if joined {
		t.Error("OnJoin fired for a node advertising a different cluster ID")
	}
}

func TestMetadataDelegate(t *testing.T) {
	delegate := &metadataDelegate{metadata: nodeMetadata{RaftAddr: "127.0.0.1:7000", ClusterID: "c1"}}

	meta := delegate.NodeMeta(512)
	if len(meta) == 0 {
		t.Fatal("expected non-empty metadata")
	}
	if s := string(meta); !strings.Contains(s, "127.0.0.1:7000") || !strings.Contains(s, "c1") {
		t.Errorf("metadata = %s, missing expected fields", s)
	}

	// Other delegate methods are no-ops; just confirm they don't panic.
	delegate.NotifyMsg(nil)
	delegate.GetBroadcasts(0, 0)
	delegate.LocalState(false)
	delegate.MergeRemoteState(nil, false)
}

func TestSlogWriter(t *testing.T) {
	w := &slogWriter{logger: slog.New(slog.NewTextHandler(os.Stdout, nil))}
	n, err := w.Write([]byte("gossip debug line"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != len("gossip debug line") {
		t.Errorf("Write() n = %d, want %d", n, len("gossip debug line"))
	}
}
