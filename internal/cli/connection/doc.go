// Package connection provides connection management for tokvaultd-cli.
//
// This package manages the CLI's two connections to a tokvaultd node:
//
//   - manager.go: saved-connection lifecycle (connect/disconnect/use)
//   - tcp.go: line-protocol client (SET/GET/... against the key-value port)
//   - socket.go: Unix socket client for local admin commands (status/shutdown)
//
// @design DS-0602
package connection
