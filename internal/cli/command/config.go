// Package command provides CLI command definitions for tokvaultd-cli.
package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	clicfg "github.com/tokvault/tokvaultd/internal/cli/config"
	"github.com/tokvault/tokvaultd/internal/cli/output"
	"github.com/tokvault/tokvaultd/internal/infra/confloader"
	serverconfig "github.com/tokvault/tokvaultd/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Configuration management",
		Subcommands: []*cli.Command{
			{
				Name:  "cli",
				Usage: "CLI local configuration",
				Subcommands: []*cli.Command{
					{
						Name:   "show",
						Usage:  "Show CLI configuration",
						Action: configCLIShow,
					},
					{
						Name:      "set-server",
						Usage:     "Set and persist the default server address",
						ArgsUsage: "ADDRESS",
						Action:    configCLISetServer,
					},
				},
			},
			{
				Name:    "server",
				Aliases: []string{"cfg"},
				Usage:   "Server configuration management",
				Subcommands: []*cli.Command{
					{
						Name:      "test",
						Usage:     "Validate a tokvaultd server configuration file",
						ArgsUsage: "FILE",
						Action:    configServerTest,
					},
				},
			},
		},
	}
}

func loadCLIConfig(c *cli.Context) (*clicfg.CLIConfig, error) {
	cfg, err := clicfg.Load("")
	if err != nil {
		return nil, fmt.Errorf("load CLI config: %w", err)
	}
	return cfg, nil
}

func configCLIShow(c *cli.Context) error {
	cfg, err := loadCLIConfig(c)
	if err != nil {
		return err
	}

	flags := ParseGlobalFlags(c)
	switch output.Format(flags.Output) {
	case output.FormatJSON:
		return (&output.JSONFormatter{}).Format(os.Stdout, cfg)
	default:
		fmt.Printf("CLI Configuration\n")
		fmt.Printf("=================\n\n")
		fmt.Printf("Config file:   %s\n", clicfg.DefaultConfigPath())
		fmt.Printf("Default server: %s\n", cfg.DefaultServer)
		fmt.Printf("Default admin:  %s\n", cfg.DefaultAdmin)
		fmt.Printf("Output format:  %s\n", cfg.DefaultOutput)
		if cfg.CurrentConnection != "" {
			fmt.Printf("Current:        %s\n", cfg.CurrentConnection)
		}
		if len(cfg.Connections) > 0 {
			fmt.Printf("\nSaved connections:\n")
			for name, conn := range cfg.Connections {
				fmt.Printf("  %s: %s (admin: %s, tls: %v)\n", name, conn.Server, conn.Admin, conn.TLS)
			}
		}
		return nil
	}
}

func configCLISetServer(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return fmt.Errorf("server address required")
	}

	cfg, err := loadCLIConfig(c)
	if err != nil {
		return err
	}
	cfg.DefaultServer = addr

	if err := clicfg.Save(cfg, ""); err != nil {
		return fmt.Errorf("save CLI config: %w", err)
	}

	fmt.Printf("Default server set to %s\n", addr)
	return nil
}

// configServerTest validates a server configuration file locally using
// the same loader and invariant checks the server applies at startup.
func configServerTest(c *cli.Context) error {
	filePath := c.Args().First()
	if filePath == "" {
		return fmt.Errorf("configuration file path required")
	}

	cfg := serverconfig.Default()
	loader := confloader.NewLoader(confloader.WithConfigFile(filePath))
	if err := loader.Load(cfg); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if loadErr := loader.FileLoadError(); loadErr != nil {
		return fmt.Errorf("read config: %w", loadErr)
	}

	if err := serverconfig.Verify(cfg); err != nil {
		fmt.Printf("invalid: %v\n", err)
		return fmt.Errorf("configuration is invalid")
	}

	fmt.Printf("valid: %s\n", filePath)
	return nil
}
