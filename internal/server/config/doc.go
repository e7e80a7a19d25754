// Package config provides server configuration for tokvaultd.
//
// This package defines the server configuration structure and
// validation:
//
//   - spec.go: ServerConfig struct definition
//   - default.go: default configuration values
//   - verify.go: validation (required fields, path existence)
//   - raft.go: node ID resolution and peer-list helpers for the
//     replication core
//
// Configuration is loaded via internal/infra/confloader from two
// sources: a TOML file and environment variables. No configuration
// value is read from command-line flags.
//
// @req RQ-0502
// @design DS-0502
package config
