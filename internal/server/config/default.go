package config

import "time"

// Default configuration values, per spec.md §6.
const (
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 6379
	DefaultMaxConnections = 1000
	DefaultMaxMemory      = 0 // 0 = unbounded (advisory only)

	DefaultHTTPAddr    = "127.0.0.1:5080"
	DefaultAdminSocket = "/var/run/tokvaultd/tokvaultd.sock"

	DefaultDataDir          = "/var/lib/tokvaultd/data"
	DefaultSnapshotInterval = 5 * time.Minute
	DefaultCacheCapacity    = 10000
	DefaultCacheTTL         = 30 * time.Second

	DefaultRaftDataDir = "/var/lib/tokvaultd/raft"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Host:           DefaultHost,
			Port:           DefaultPort,
			MaxConnections: DefaultMaxConnections,
			MaxMemory:      DefaultMaxMemory,
			HTTP:           HTTPConfig{Addr: DefaultHTTPAddr},
			Admin:          AdminConfig{Path: DefaultAdminSocket},
		},
		Storage: StorageSection{
			DataDir:          DefaultDataDir,
			SnapshotInterval: DefaultSnapshotInterval,
			CacheCapacity:    DefaultCacheCapacity,
			CacheTTL:         DefaultCacheTTL,
		},
		Raft: RaftSection{
			DataDir: DefaultRaftDataDir,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
