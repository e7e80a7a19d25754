package config

import (
	"errors"
	"os"
)

// Verify validates the configuration after loading and defaulting.
func Verify(cfg *ServerConfig) error {
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	return verifyStorage(&cfg.Storage)
}

func verifyServer(cfg *ServerSection) error {
	if cfg.Host == "" {
		return errors.New("server.host is required")
	}
	if cfg.Port == 0 {
		return errors.New("server.port must be nonzero")
	}
	if cfg.MaxConnections < 1 {
		return errors.New("server.max_connections must be at least 1")
	}
	return nil
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	return nil
}
