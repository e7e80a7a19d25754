// Package command provides CLI command definitions for tokvaultd-cli.
package command

import (
	"fmt"
	"net"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/tokvault/tokvaultd/internal/cli/connection"
)

// ConnectCommand returns the connect command.
func ConnectCommand() *cli.Command {
	return &cli.Command{
		Name:      "connect",
		Usage:     "Connect to a tokvaultd node",
		ArgsUsage: "[SERVER]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "name",
				Aliases: []string{"n"},
				Usage:   "Connection name (for saved connections)",
				Value:   "default",
			},
			&cli.StringFlag{
				Name:  "admin-socket",
				Usage: "Admin socket path for this connection",
			},
			&cli.BoolFlag{
				Name:  "tls",
				Usage: "Mark this connection as TLS-secured",
			},
		},
		Action: connectAction,
	}
}

func connectAction(c *cli.Context) error {
	flags := ParseGlobalFlags(c)
	server := c.Args().First()
	if server == "" {
		server = flags.Server
	}

	admin := c.String("admin-socket")
	if admin == "" {
		admin = flags.AdminSocket
	}

	mgr := GetConnectionManager(c)
	if mgr == nil {
		return fmt.Errorf("connection manager not initialized")
	}

	if err := reachable(server); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	conn := &connection.Connection{
		Name:   c.String("name"),
		Server: server,
		Admin:  admin,
		TLS:    c.Bool("tls"),
	}

	if err := mgr.Connect(conn); err != nil {
		return fmt.Errorf("connect failed: %w", err)
	}

	fmt.Printf("Connected to %s\n", server)
	return nil
}

// reachable performs a short dial to confirm a tokvaultd node is
// listening before the connection is recorded as current.
func reachable(addr string) error {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return err
	}
	return conn.Close()
}

// DisconnectCommand returns the disconnect command.
func DisconnectCommand() *cli.Command {
	return &cli.Command{
		Name:   "disconnect",
		Usage:  "Disconnect from the current server",
		Action: disconnectAction,
	}
}

func disconnectAction(c *cli.Context) error {
	mgr := GetConnectionManager(c)
	if mgr == nil {
		return fmt.Errorf("connection manager not initialized")
	}

	if !mgr.IsConnected() {
		fmt.Println("Not connected to any server")
		return nil
	}

	mgr.Disconnect()
	fmt.Println("Disconnected")
	return nil
}

// UseCommand returns the use command for switching connections.
func UseCommand() *cli.Command {
	return &cli.Command{
		Name:      "use",
		Usage:     "Switch to a saved connection",
		ArgsUsage: "CONNECTION_NAME",
		Action: func(c *cli.Context) error {
			name := c.Args().First()
			if name == "" {
				return fmt.Errorf("connection name required")
			}

			mgr := GetConnectionManager(c)
			if mgr == nil {
				return fmt.Errorf("connection manager not initialized")
			}

			cfg, err := loadCLIConfig(c)
			if err != nil {
				return err
			}
			saved, ok := cfg.Connections[name]
			if !ok {
				return fmt.Errorf("no saved connection named %q", name)
			}

			if err := mgr.Connect(&connection.Connection{
				Name:   name,
				Server: saved.Server,
				Admin:  saved.Admin,
				TLS:    saved.TLS,
			}); err != nil {
				return err
			}

			fmt.Printf("Switched to connection: %s (%s)\n", name, saved.Server)
			return nil
		},
	}
}
