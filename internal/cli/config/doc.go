// Package config provides CLI configuration for tokvaultd-cli.
//
// This package defines CLI-specific configuration:
//
//   - spec.go: CLIConfig struct (~/.tokvaultd/cli.yaml)
//   - loader.go: Configuration loading, saving, and merging
//
// Configuration includes:
//
//   - Default connection target (line-protocol address, admin socket)
//   - Output format preferences
//   - Saved connection profiles
//
// @design DS-0601
package config
