// Package repl provides the interactive REPL mode for tokvaultd-cli.
package repl

import "strings"

// Completer provides command completion for the REPL.
type Completer struct {
	commands []string
}

// NewCompleter creates a new Completer.
func NewCompleter() *Completer {
	return &Completer{
		commands: []string{
			"set", "get", "del",
			"incr", "decr",
			"lpush", "rpush", "lpop", "rpop", "llen",
			"multi", "exec", "discard",
			"status", "shutdown",
			"connect", "disconnect", "use",
			"help", "exit", "quit",
		},
	}
}

// Complete returns completion suggestions for the given prefix.
func (c *Completer) Complete(prefix string) []string {
	var suggestions []string
	lower := strings.ToLower(prefix)
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, lower) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}
