// Package command provides CLI command definitions for tokvaultd-cli.
package command

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tokvault/tokvaultd/internal/cli/output"
)

// SystemCommand returns the system subcommand group, backed by the
// node's local admin unix socket (no authentication, local-only).
func SystemCommand() *cli.Command {
	return &cli.Command{
		Name:    "system",
		Aliases: []string{"sys"},
		Usage:   "System management commands",
		Subcommands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "Show node status summary",
				Action: systemStatus,
			},
			{
				Name:   "shutdown",
				Usage:  "Gracefully shut down the node",
				Action: systemShutdown,
			},
		},
	}
}

func systemStatus(c *cli.Context) error {
	client, err := EnsureAdmin(c)
	if err != nil {
		return err
	}
	defer client.Close()

	resp, err := client.Execute("status")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp)), &result); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		return (&output.JSONFormatter{}).Format(os.Stdout, result)
	default:
		fmt.Printf("Node Status\n")
		fmt.Printf("===========\n\n")
		if v, ok := result["version"].(string); ok {
			fmt.Printf("Version:            %s\n", v)
		}
		if v, ok := result["active_connections"].(float64); ok {
			fmt.Printf("Active connections: %.0f\n", v)
		}
		if v, ok := result["raft_role"]; ok {
			fmt.Printf("Raft role:          %v\n", v)
		}
		if v, ok := result["raft_term"]; ok {
			fmt.Printf("Raft term:          %v\n", v)
		}
		if v, ok := result["raft_leader"]; ok {
			fmt.Printf("Raft leader:        %v\n", v)
		}
		if v, ok := result["applied_index"]; ok {
			fmt.Printf("Applied index:      %v\n", v)
		}
		return nil
	}
}

func systemShutdown(c *cli.Context) error {
	client, err := EnsureAdmin(c)
	if err != nil {
		return err
	}
	defer client.Close()

	fmt.Println("Requesting graceful shutdown...")

	resp, err := client.Execute("shutdown")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	if strings.TrimSpace(resp) != "OK" {
		return fmt.Errorf("unexpected response: %s", strings.TrimSpace(resp))
	}

	fmt.Println("Shutdown requested.")
	return nil
}
