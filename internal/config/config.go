// Package config loads server configuration from an optional YAML file
// with LEASESERVER_* environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr    string        `yaml:"listen_addr"`
	DBPath        string        `yaml:"db_path"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	CatalogPath   string        `yaml:"catalog_path"`
}

func Default() Config {
	return Config{
		ListenAddr:    ":8080",
		DBPath:        "./leaseserver.db",
		SweepInterval: 30 * time.Second,
	}
}

// Load layers defaults, then the YAML file (if path is non-empty), then
// environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("LEASESERVER_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("LEASESERVER_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEASESERVER_CATALOG"); v != "" {
		cfg.CatalogPath = v
	}
	if v := os.Getenv("LEASESERVER_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse LEASESERVER_SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}

	if cfg.DBPath == "" {
		return Config{}, fmt.Errorf("db_path is required")
	}
	return cfg, nil
}
