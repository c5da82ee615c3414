// Package config loads the Engram configuration from YAML with environment
// overrides. The result is an immutable value handed to the store at
// construction.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	// DataDir holds the SQLite database. Overridden by ENGRAM_DATA_DIR.
	DataDir string `yaml:"data_dir"`

	// Domains is the writable domain allow-list. The system domain is
	// built in and never writable.
	Domains []string `yaml:"domains"`

	// BootURIs are concatenated by system://boot, in priority order.
	BootURIs []string `yaml:"boot_uris"`

	// RecentLimit is the default N for system://recent.
	RecentLimit int `yaml:"recent_limit"`

	// APIAddr is the listen address for the review API server.
	APIAddr string `yaml:"api_addr"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Domains:     []string{"core", "projects", "people", "journal"},
		BootURIs:    []string{"core://identity", "core://instructions"},
		RecentLimit: 10,
		APIAddr:     "127.0.0.1:8377",
	}
}

// Load reads config.yaml from the data directory, falling back to defaults
// when the file does not exist. ENGRAM_DATA_DIR wins over both the file and
// the default location.
func Load() (Config, error) {
	cfg := Default()

	dataDir := os.Getenv("ENGRAM_DATA_DIR")
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("failed to get home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".engram")
	}
	cfg.DataDir = dataDir

	path := filepath.Join(dataDir, "config.yaml")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// The env override outranks a data_dir set inside the file.
	if env := os.Getenv("ENGRAM_DATA_DIR"); env != "" {
		cfg.DataDir = env
	} else if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = Default().RecentLimit
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = Default().APIAddr
	}
	return cfg, nil
}
