// Package command provides CLI command definitions for tokvaultd-cli.
//
// This package defines all CLI commands using urfave/cli/v2:
//
//   - root.go: Root command, global flags, REPL entry point
//   - connect.go: Connection management commands
//   - system.go: System status / shutdown commands (admin socket)
//   - config.go: CLI and server configuration subcommands
//
// Commands follow a consistent pattern of parsing flags,
// calling the appropriate client, and formatting output.
//
// @req RQ-0602
// @design DS-0601
package command
