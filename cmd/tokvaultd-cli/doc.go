// Package main provides the entry point for tokvaultd-cli.
//
// The CLI tool provides command-line access to a tokvaultd node for:
//
//   - Key-value operations (set, get, del, incr, lists, transactions)
//   - Connection management (connect, disconnect, use)
//   - System administration over the local admin socket (status, shutdown)
//   - CLI and server configuration management
//
// Usage:
//
//	tokvaultd-cli [command] [flags]
//	tokvaultd-cli connect localhost:6379
//	tokvaultd-cli system status
//
// The CLI supports both single-command mode and interactive REPL mode.
//
// @design DS-0601
package main
