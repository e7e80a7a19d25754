// Package config defines the CLI configuration structure.
package config

import (
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPath returns the default CLI config file path.
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".tokvaultd", "cli.yaml")
}

// Load loads CLI configuration from file. A missing, unreadable, or
// malformed file falls back silently to defaults, matching the
// server-side loader's convention for config.toml.
func Load(path string) (*CLIConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return cfg, nil
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return cfg, nil
	}

	return cfg, nil
}

// Save writes cfg to path as YAML, creating parent directories as
// needed. The file is created with owner-only permissions.
func Save(cfg *CLIConfig, path string) error {
	if path == "" {
		path = DefaultConfigPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return err
	}

	b, err := k.Marshal(yaml.Parser())
	if err != nil {
		return err
	}

	return os.WriteFile(path, b, 0o600)
}

// Merge overlays environment variables and flags onto cfg, in that
// order, so a flag always wins over an environment default.
func Merge(cfg *CLIConfig, env map[string]string, flags map[string]string) *CLIConfig {
	if v := env["TOKVAULTD_SERVER"]; v != "" {
		cfg.DefaultServer = v
	}
	if v := flags["server"]; v != "" {
		cfg.DefaultServer = v
	}
	if v := flags["output"]; v != "" {
		cfg.DefaultOutput = v
	}
	return cfg
}
