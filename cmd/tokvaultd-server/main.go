package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokvault/tokvaultd/internal/infra/buildinfo"
	"github.com/tokvault/tokvaultd/internal/infra/confloader"
	"github.com/tokvault/tokvaultd/internal/infra/shutdown"
	"github.com/tokvault/tokvaultd/internal/raft"
	"github.com/tokvault/tokvaultd/internal/raft/discovery"
	"github.com/tokvault/tokvaultd/internal/raft/fsm"
	"github.com/tokvault/tokvaultd/internal/raft/logstore"
	"github.com/tokvault/tokvaultd/internal/raft/transport"
	"github.com/tokvault/tokvaultd/internal/server/adminserver"
	"github.com/tokvault/tokvaultd/internal/server/config"
	"github.com/tokvault/tokvaultd/internal/server/httpserver"
	"github.com/tokvault/tokvaultd/internal/server/redisserver"
	"github.com/tokvault/tokvaultd/internal/storage"
	"github.com/tokvault/tokvaultd/internal/telemetry/logger"
	"github.com/tokvault/tokvaultd/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(buildinfo.String())
		return nil
	}

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, slogLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if loadErr := loader.FileLoadError(); loadErr != nil {
		log.Warn("config file unreadable, falling back to defaults", "error", loadErr)
	}

	log.Info("starting tokvaultd-server", "version", buildinfo.Version, "config", *configFile)

	storageEngine, err := initStorage(cfg, slogLogger)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	ctx := context.Background()
	if err := storageEngine.Recover(ctx); err != nil {
		return fmt.Errorf("storage recovery: %w", err)
	}

	node, consensus, logStore, disc, err := initRaft(cfg, storageEngine, slogLogger)
	if err != nil {
		return fmt.Errorf("init raft: %w", err)
	}

	lineServer := redisserver.New(&redisserver.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		MaxConnections: cfg.Server.MaxConnections,
	}, storageEngine, slogLogger)

	metric.Register(prometheus.DefaultRegisterer, storageEngine, lineServer.ActiveConnections)

	status := newStatusProvider(cfg, consensus, node, lineServer)

	httpRouterCfg := httpserver.DefaultRouterConfig()
	httpRouterCfg.Logger = slogLogger
	httpRouterCfg.Status = status
	httpHandler := httpserver.NewRouter(httpRouterCfg)
	httpAddr := cfg.Server.HTTP.Addr
	if httpAddr == "" {
		httpAddr = config.DefaultHTTPAddr
	}
	httpSrv := httpserver.New(httpAddr, httpHandler)

	adminPath := cfg.Server.Admin.Path
	if adminPath == "" {
		adminPath = config.DefaultAdminSocket
	}
	if err := os.MkdirAll(filepath.Dir(adminPath), 0o755); err != nil {
		return fmt.Errorf("create admin socket dir: %w", err)
	}

	triggerShutdown := func() {
		if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
			log.Error("failed to raise shutdown signal", "error", err)
		}
	}
	adminHandler := adminserver.NewHandler(status, triggerShutdown)
	adminSrv := adminserver.New(adminPath, adminHandler)

	shutdownHandler := shutdown.NewHandler(30 * time.Second)
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down line protocol server")
		return lineServer.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down admin server")
		return adminSrv.Shutdown(ctx)
	})
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return httpSrv.Shutdown(ctx)
	})
	if node != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("stopping raft node")
			node.Stop()
			consensus.Stop()
			return nil
		})
	}
	if logStore != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			return logStore.Close()
		})
	}
	if disc != nil {
		shutdownHandler.OnShutdown(func(ctx context.Context) error {
			log.Info("leaving discovery cluster")
			disc.Leave()
			return disc.Shutdown()
		})
	}
	shutdownHandler.OnShutdown(func(ctx context.Context) error {
		log.Info("shutting down storage engine")
		return storageEngine.Close()
	})

	if consensus != nil {
		consensus.Run()
	}
	if node != nil {
		node.Run()
	}

	if err := lineServer.Start(ctx); err != nil {
		return fmt.Errorf("start line protocol server: %w", err)
	}

	go func() {
		log.Info("admin server listening", "path", adminPath)
		if err := adminSrv.ListenAndServe(); err != nil {
			log.Debug("admin server stopped", "error", err)
		}
	}()

	go func() {
		log.Info("HTTP server listening", "addr", httpAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
		}
	}()

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("server stopped gracefully")
	return nil
}

// loadConfig loads configuration from file and environment. An
// unreadable or malformed file falls back silently to defaults per
// spec.md §6; the caller logs loader.FileLoadError() once a logger
// exists.
func loadConfig(configFile string) (*config.ServerConfig, *confloader.Loader, error) {
	cfg := config.Default()

	var opts []confloader.Option
	if configFile != "" {
		opts = append(opts, confloader.WithConfigFile(configFile))
	}
	opts = append(opts, confloader.WithEnvPrefix(confloader.DefaultEnvPrefix))

	loader := confloader.NewLoader(opts...)
	if err := loader.Load(cfg); err != nil {
		return nil, nil, err
	}

	if err := config.Verify(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, loader, nil
}

func initLogger(cfg *config.ServerConfig) (logger.Logger, *slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.SetDefault(log)
	return log, slog.Default(), nil
}

func initStorage(cfg *config.ServerConfig, log *slog.Logger) (*storage.Engine, error) {
	storageCfg := storage.DefaultConfig()
	storageCfg.Logger = log
	if cfg.Storage.DataDir != "" {
		storageCfg.SnapshotPath = filepath.Join(cfg.Storage.DataDir, "snapshot.db")
	}
	if cfg.Storage.SnapshotInterval > 0 {
		storageCfg.SnapshotInterval = cfg.Storage.SnapshotInterval
	}
	if cfg.Storage.CacheCapacity > 0 {
		storageCfg.CacheCapacity = cfg.Storage.CacheCapacity
	}
	if cfg.Storage.CacheTTL > 0 {
		storageCfg.CacheTTL = cfg.Storage.CacheTTL
	}
	return storage.New(storageCfg)
}

// initRaft builds the replication core: a log store, a Consensus bound
// to a TCP transport, and a Node wiring the storage engine in as the
// state machine. A deployment with no configured peers still runs the
// full machinery; it just always holds a majority of one.
//
// When cfg.Raft.Discovery.BindPort is set, a gossip-based Discovery is
// also started. It never changes consensus's voting peer set (that
// stays fixed at the config.PeerIDs() list for this node's lifetime);
// it only keeps the transport's dial addresses for those peer IDs
// current as nodes rejoin the cluster under new addresses.
func initRaft(cfg *config.ServerConfig, engine *storage.Engine, log *slog.Logger) (*raft.Node, *raft.Consensus, logstore.Store, *discovery.Discovery, error) {
	nodeID, err := config.ResolveNodeID(&cfg.Raft)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	logStore, err := buildLogStore(cfg, log)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	slot := raft.NewHandlerSlot()

	listenAddr := cfg.Raft.ListenAddr
	if listenAddr == "" {
		listenAddr = "127.0.0.1:0"
	}
	trans, err := transport.NewTCP(transport.TCPConfig{ListenAddr: listenAddr}, cfg.Raft.Peers, slot, log)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("start raft transport: %w", err)
	}

	consensus := raft.NewConsensus(raft.ConsensusConfig{
		ID:        nodeID,
		Peers:     config.PeerIDs(&cfg.Raft),
		Log:       logStore,
		Transport: trans,
		Logger:    log,
	})
	slot.Set(consensus)

	machine := fsm.New(engine)
	node, err := raft.NewNode(raft.NodeConfig{
		Consensus:    consensus,
		Log:          logStore,
		StateMachine: machine,
		Logger:       log,
	})
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("build raft node: %w", err)
	}

	disc, err := initDiscovery(cfg, nodeID, listenAddr, trans, log)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("start discovery: %w", err)
	}

	return node, consensus, logStore, disc, nil
}

// initDiscovery starts gossip-based peer address discovery if
// configured. Discovery is optional: a cluster whose peer addresses
// never change can leave Discovery.BindPort at 0 and rely solely on
// cfg.Raft.Peers.
func initDiscovery(cfg *config.ServerConfig, nodeID, raftAddr string, trans *transport.TCP, log *slog.Logger) (*discovery.Discovery, error) {
	dc := cfg.Raft.Discovery
	if dc.BindPort == 0 {
		return nil, nil
	}

	disc, err := discovery.New(discovery.Config{
		NodeID:    nodeID,
		ClusterID: dc.ClusterID,
		BindAddr:  dc.BindAddr,
		BindPort:  dc.BindPort,
		RaftAddr:  raftAddr,
		SeedNodes: dc.SeedNodes,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	disc.OnJoin(func(peerID, peerRaftAddr string) {
		if peerID == nodeID {
			return
		}
		trans.UpdatePeer(peerID, peerRaftAddr)
	})
	disc.OnLeave(func(peerID string) {
		if peerID == nodeID {
			return
		}
		trans.RemovePeer(peerID)
	})

	return disc, nil
}

func buildLogStore(cfg *config.ServerConfig, log *slog.Logger) (logstore.Store, error) {
	if cfg.Raft.DataDir == "" {
		return logstore.NewMemory(), nil
	}
	return logstore.NewBadger(logstore.DefaultBadgerConfig(cfg.Raft.DataDir), log)
}

// nodeStatusProvider implements httpserver.StatusProvider and
// adminserver.StatusProvider with the node's operational snapshot.
type nodeStatusProvider struct {
	cfg       *config.ServerConfig
	consensus *raft.Consensus
	node      *raft.Node
	server    *redisserver.Server
}

func newStatusProvider(cfg *config.ServerConfig, consensus *raft.Consensus, node *raft.Node, server *redisserver.Server) *nodeStatusProvider {
	return &nodeStatusProvider{cfg: cfg, consensus: consensus, node: node, server: server}
}

func (p *nodeStatusProvider) Status(ctx context.Context) map[string]any {
	status := map[string]any{
		"version":            buildinfo.Version,
		"active_connections": p.server.ActiveConnections(),
		"max_connections":    p.cfg.Server.MaxConnections,
		"max_memory":         p.cfg.Server.MaxMemory,
	}
	if p.consensus != nil {
		status["raft_role"] = p.consensus.State().Role().String()
		status["raft_term"] = p.consensus.State().Term()
		status["raft_leader"] = p.consensus.Leader()
	}
	if p.node != nil {
		status["applied_index"] = p.node.AppliedIndex()
	}
	return status
}
