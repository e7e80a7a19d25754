// Package main provides the entry point for tokvaultd-cli.
//
// tokvaultd-cli is the command-line management tool for tokvaultd,
// supporting both single-command mode and interactive REPL mode.
package main

import (
	"fmt"
	"os"

	"github.com/tokvault/tokvaultd/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
