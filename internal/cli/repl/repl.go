// Package repl provides the interactive REPL mode for tokvaultd-cli.
package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Executor runs one line-protocol command against a connected node and
// returns its response lines, per §6's response table.
type Executor interface {
	Execute(line string) ([]string, error)
}

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	completer *Completer
	history   *History
	executor  Executor
}

// New creates a new REPL instance bound to executor. executor may be
// nil, in which case typed commands are echoed as "not connected"
// rather than attempted.
func New(executor Executor) *REPL {
	return &REPL{
		input:     os.Stdin,
		output:    os.Stdout,
		completer: NewCompleter(),
		history:   NewHistory(),
		executor:  executor,
	}
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	reader := bufio.NewReader(r.input)

	for {
		fmt.Fprint(r.output, "tokvaultd> ")

		line, err := reader.ReadString('\n')
		if err == io.EOF {
			fmt.Fprintln(r.output)
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		r.history.Add(line)

		if line == "exit" || line == "quit" {
			return nil
		}

		if err := r.execute(line); err != nil {
			fmt.Fprintf(r.output, "Error: %v\n", err)
		}
	}
}

func (r *REPL) execute(line string) error {
	if r.executor == nil {
		fmt.Fprintln(r.output, "not connected")
		return nil
	}

	lines, err := r.executor.Execute(line)
	if err != nil {
		return err
	}
	for _, l := range lines {
		fmt.Fprintln(r.output, l)
	}
	return nil
}
