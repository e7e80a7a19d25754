// Package command provides CLI command definitions for tokvaultd-cli.
//
// It uses urfave/cli/v2 for command parsing and supports both
// single-command mode and interactive REPL mode.
package command

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tokvault/tokvaultd/internal/cli/connection"
	"github.com/tokvault/tokvaultd/internal/cli/repl"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// App creates the CLI application.
func App() *cli.App {
	app := &cli.App{
		Name:    "tokvaultd-cli",
		Usage:   "tokvaultd command-line management tool",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ConnectCommand(),
			DisconnectCommand(),
			UseCommand(),
			SystemCommand(),
			ConfigCommand(),
		},
		Before: func(c *cli.Context) error {
			mgr := connection.NewManager()
			c.App.Metadata["connMgr"] = mgr
			return nil
		},
		// With a bare line-protocol command, run it once and exit; with
		// no arguments at all, drop into the interactive REPL.
		Action: func(c *cli.Context) error {
			flags := ParseGlobalFlags(c)
			client := connection.NewTCPClient(flags.Server)
			if err := client.Connect(); err != nil {
				PrintError("connect to %s: %v", flags.Server, err)
				return err
			}
			defer client.Close()

			if c.Args().Len() > 0 {
				lines, err := client.Execute(strings.Join(c.Args().Slice(), " "))
				if err != nil {
					return err
				}
				for _, l := range lines {
					fmt.Println(l)
				}
				return nil
			}

			return repl.New(client).Run()
		},
	}

	return app
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "tokvaultd line-protocol address (e.g., localhost:6379)",
			EnvVars: []string{"TOKVAULTD_SERVER"},
			Value:   "localhost:6379",
		},
		&cli.StringFlag{
			Name:    "admin-socket",
			Aliases: []string{"a"},
			Usage:   "tokvaultd admin unix socket path",
			EnvVars: []string{"TOKVAULTD_ADMIN_SOCKET"},
			Value:   "/var/run/tokvaultd/tokvaultd.sock",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"V"},
			Usage:   "Enable verbose output",
		},
	}
}

// GlobalFlags defines flags available to all commands.
type GlobalFlags struct {
	Server      string
	AdminSocket string

	Output string // table, json, yaml
	Wide   bool

	Verbose bool
}

// ParseGlobalFlags extracts global flags from context.
func ParseGlobalFlags(c *cli.Context) *GlobalFlags {
	return &GlobalFlags{
		Server:      c.String("server"),
		AdminSocket: c.String("admin-socket"),
		Output:      c.String("output"),
		Wide:        c.Bool("wide"),
		Verbose:     c.Bool("verbose"),
	}
}

// GetConnectionManager retrieves the connection manager from context.
func GetConnectionManager(c *cli.Context) *connection.Manager {
	if mgr, ok := c.App.Metadata["connMgr"].(*connection.Manager); ok {
		return mgr
	}
	return nil
}

// EnsureAdmin returns a connected admin-socket client for the current
// global flags, preferring an active saved connection's admin path.
func EnsureAdmin(c *cli.Context) (*connection.SocketClient, error) {
	flags := ParseGlobalFlags(c)
	path := flags.AdminSocket

	if mgr := GetConnectionManager(c); mgr != nil && mgr.IsConnected() {
		if admin := mgr.Current().Admin; admin != "" {
			path = admin
		}
	}

	client := connection.NewSocketClient(path)
	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect to admin socket %s: %w", path, err)
	}
	return client, nil
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
