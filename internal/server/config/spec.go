// Package config defines the server configuration structure.
//
// @req RQ-0502
// @design DS-0502
package config

import "time"

// ServerConfig is the root configuration for tokvaultd-server.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	Storage StorageSection `koanf:"storage"`
	Raft    RaftSection    `koanf:"raft"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures the listeners tokvaultd-server exposes.
type ServerSection struct {
	// Host and Port address the line-protocol listener, per spec.md §6
	// (`config.toml` fields `host`/`port`).
	Host string `koanf:"host"`
	Port uint16 `koanf:"port"`

	// MaxConnections bounds the fixed-size worker pool.
	MaxConnections int `koanf:"max_connections"`

	// MaxMemory is advisory only; nothing in this design enforces it
	// (O-5). It is parsed, stored, and surfaced by the admin status
	// endpoint for operational visibility.
	MaxMemory uint64 `koanf:"max_memory"`

	HTTP  HTTPConfig  `koanf:"http"`
	Admin AdminConfig `koanf:"admin"`
}

// HTTPConfig configures the metrics/health HTTP server.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// AdminConfig configures the local management Unix socket.
type AdminConfig struct {
	Path string `koanf:"path"`
}

// StorageSection configures the storage engine's snapshot behavior.
type StorageSection struct {
	DataDir          string        `koanf:"data_dir"`
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`
	CacheCapacity    int           `koanf:"cache_capacity"`
	CacheTTL         time.Duration `koanf:"cache_ttl"`
}

// RaftSection configures the replication core. A single-node cluster
// (Peers empty) runs with replication disabled but the same consensus
// and log-store machinery, committing every entry to itself.
type RaftSection struct {
	NodeID     string            `koanf:"node_id"`
	ListenAddr string            `koanf:"listen_addr"`
	Peers      map[string]string `koanf:"peers"`
	DataDir    string            `koanf:"data_dir"`

	Discovery DiscoverySection `koanf:"discovery"`
}

// DiscoverySection configures gossip-based discovery of peer dial
// addresses. Voting membership always comes from RaftSection.Peers;
// discovery only keeps the transport's dial addresses for those peers
// current as nodes rejoin under new addresses. Leaving BindPort at 0
// disables discovery, so a cluster with static, stable peer addresses
// never needs it.
type DiscoverySection struct {
	ClusterID string   `koanf:"cluster_id"`
	BindAddr  string   `koanf:"bind_addr"`
	BindPort  int      `koanf:"bind_port"`
	SeedNodes []string `koanf:"seed_nodes"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
