// Package discovery provides gossip-based peer address discovery for
// tokvaultd's Raft transport, using memberlist.
//
// Discovery only answers "where is node X reachable" — it updates the
// dial addresses a transport.TCP uses, not the Consensus module's fixed
// voting set. Cluster membership (who gets a vote) stays config-driven,
// per internal/server/config.RaftSection.Peers; this package exists so
// a restarted peer that comes back on a different address is still
// reachable without an operator editing config.toml on every node.
package discovery

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/hashicorp/memberlist"
)

// Discovery gossips node membership and Raft dial addresses.
type Discovery struct {
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	shutdown   atomic.Bool

	clusterID string

	onJoin  func(nodeID, raftAddr string)
	onLeave func(nodeID string)
}

// Config configures the discovery mechanism.
type Config struct {
	// NodeID is this node's Raft node ID, reused as the gossip name.
	NodeID string

	// ClusterID rejects gossip traffic from a differently-named cluster
	// that happens to share a seed address.
	ClusterID string

	// BindAddr/BindPort is the local gossip listen address.
	BindAddr string
	BindPort int

	// RaftAddr is this node's Raft transport dial address, advertised
	// to peers via gossip metadata.
	RaftAddr string

	// SeedNodes are gossip addresses ("host:port") to join at startup.
	SeedNodes []string

	Logger *slog.Logger
}

// New creates and starts a Discovery instance, joining cfg.SeedNodes if
// any are configured.
func New(cfg Config) (*Discovery, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	d := &Discovery{
		logger:    cfg.Logger,
		clusterID: cfg.ClusterID,
	}

	mlConfig.Delegate = &metadataDelegate{metadata: nodeMetadata{
		RaftAddr:  cfg.RaftAddr,
		ClusterID: cfg.ClusterID,
	}}
	mlConfig.Events = &eventDelegate{discovery: d}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("discovery: create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.SeedNodes) > 0 {
		n, err := ml.Join(cfg.SeedNodes)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("discovery: join seed nodes: %w", err)
		}
		cfg.Logger.Info("discovery joined cluster", "node_id", cfg.NodeID, "joined_count", n)
	} else {
		cfg.Logger.Info("discovery started in bootstrap mode", "node_id", cfg.NodeID)
	}

	return d, nil
}

// OnJoin registers fn to run when a node joins the gossip cluster,
// carrying its advertised Raft dial address.
func (d *Discovery) OnJoin(fn func(nodeID, raftAddr string)) {
	d.onJoin = fn
}

// OnLeave registers fn to run when a node leaves the gossip cluster.
func (d *Discovery) OnLeave(fn func(nodeID string)) {
	d.onLeave = fn
}

// Members returns the current gossip membership.
func (d *Discovery) Members() []*memberlist.Node {
	if d.memberList == nil {
		return nil
	}
	return d.memberList.Members()
}

// Leave broadcasts a graceful departure from the cluster.
func (d *Discovery) Leave() error {
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Leave(0); err != nil {
		return fmt.Errorf("discovery: leave: %w", err)
	}
	return nil
}

// Shutdown stops the gossip mechanism. Safe to call more than once.
func (d *Discovery) Shutdown() error {
	if !d.shutdown.CompareAndSwap(false, true) {
		return nil
	}
	if d.memberList == nil {
		return nil
	}
	if err := d.memberList.Shutdown(); err != nil {
		return fmt.Errorf("discovery: shutdown memberlist: %w", err)
	}
	return nil
}

type nodeMetadata struct {
	RaftAddr  string `json:"raft_addr"`
	ClusterID string `json:"cluster_id"`
}

type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) NotifyJoin(node *memberlist.Node) {
	gossipAddr := net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))

	var meta nodeMetadata
	if len(node.Meta) > 0 {
		if err := json.Unmarshal(node.Meta, &meta); err != nil {
			e.discovery.logger.Error("discovery: invalid node metadata, rejecting", "node_id", node.Name, "error", err)
			return
		}
	}

	if e.discovery.clusterID != "" && meta.ClusterID != "" && meta.ClusterID != e.discovery.clusterID {
		e.discovery.logger.Error("discovery: cluster ID mismatch, rejecting node",
			"node_id", node.Name, "expected", e.discovery.clusterID, "actual", meta.ClusterID)
		return
	}

	raftAddr := meta.RaftAddr
	if raftAddr == "" {
		e.discovery.logger.Warn("discovery: node joined without raft address, using gossip address",
			"node_id", node.Name, "gossip_addr", gossipAddr)
		raftAddr = gossipAddr
	}

	e.discovery.logger.Info("discovery: node joined", "node_id", node.Name, "raft_addr", raftAddr)
	if e.discovery.onJoin != nil {
		e.discovery.onJoin(node.Name, raftAddr)
	}
}

func (e *eventDelegate) NotifyLeave(node *memberlist.Node) {
	e.discovery.logger.Info("discovery: node left", "node_id", node.Name)
	if e.discovery.onLeave != nil {
		e.discovery.onLeave(node.Name)
	}
}

func (e *eventDelegate) NotifyUpdate(node *memberlist.Node) {
	e.discovery.logger.Debug("discovery: node updated", "node_id", node.Name)
}

type metadataDelegate struct {
	metadata nodeMetadata
}

func (m *metadataDelegate) NodeMeta(limit int) []byte {
	data, err := json.Marshal(m.metadata)
	if err != nil {
		return nil
	}
	if len(data) > limit {
		return data[:limit]
	}
	return data
}

func (m *metadataDelegate) NotifyMsg([]byte) {}

func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (m *metadataDelegate) LocalState(join bool) []byte { return nil }

func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}

// slogWriter adapts slog.Logger to io.Writer for memberlist's own
// internal logging.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (int, error) {
	w.logger.Debug(string(p))
	return len(p), nil
}
