// Package main provides the entry point for tokvaultd-server.
//
// The server is the core tokvaultd service process: it serves the
// line-oriented key-value protocol described in §6, runs the Raft
// replication core over its configured peers, exposes a read-only status
// and metrics surface over HTTP and a local admin socket.
//
// Usage:
//
//	tokvaultd-server [flags]
//	tokvaultd-server --config /path/to/config.toml
//
// The server loads configuration, initializes infrastructure components,
// and starts all configured listeners.
//
// @design DS-0501
package main
