package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
)

// ResolveNodeID returns cfg's configured node ID, generating and
// returning a fresh one if it was left blank.
func ResolveNodeID(cfg *RaftSection) (string, error) {
	if cfg.NodeID != "" {
		return cfg.NodeID, nil
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate node id: %w", err)
	}
	return "tvnode-" + hex.EncodeToString(buf), nil
}

// PeerIDs returns the configured peer IDs (excluding self), in a stable
// order, for wiring into raft.ConsensusConfig.Peers.
func PeerIDs(cfg *RaftSection) []string {
	ids := make([]string, 0, len(cfg.Peers))
	for id := range cfg.Peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
