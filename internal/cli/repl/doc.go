// Package repl provides interactive mode for tokvaultd-cli.
//
// This package implements the Read-Eval-Print Loop for interactive sessions:
//
//   - repl.go: Main REPL loop and command dispatch
//   - completer.go: Prefix completion of command names
//   - history.go: Command history, with Save/Load to a file
//
// Run reads one line at a time, adds each non-empty line to an
// in-memory History, and prints the executor's response lines as plain
// text. Run does not call the Completer or save or load history, and it
// has no multi-line input or colored output.
//
// @design DS-0602
package repl
