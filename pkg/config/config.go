// Package config loads wardend's startup configuration from a YAML file
// (§6 "Configuration"): node id and bind address, the data directory,
// cache sizing, the purge cadence and retention horizons, and logging and
// metrics settings. It has no storage pool size and no schema index
// version option. It is a yaml.v3 file rather than a flag-only surface,
// since everything here is meant to be checked into an operator's deploy
// repo.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is wardend's full startup configuration.
type Config struct {
	NodeID   string `yaml:"nodeId"`
	BindAddr string `yaml:"bindAddr"`
	DataDir  string `yaml:"dataDir"`

	Cache CacheConfig `yaml:"cache"`
	Purge PurgeConfig `yaml:"purge"`

	LogLevel  string `yaml:"logLevel"`
	LogJSON   bool   `yaml:"logJson"`
	MetricsAddr string `yaml:"metricsAddr"`
}

// CacheConfig sizes pkg/cache's entry and IDL caches.
type CacheConfig struct {
	EntryCacheTarget int `yaml:"entryCacheTarget"`
	IDLCacheRatio    int `yaml:"idlCacheRatio"`
}

// PurgeConfig holds §6's PURGE_FREQUENCY, RECYCLEBIN_MAX_AGE, and
// CHANGELOG_MAX_AGE, expressed as YAML durations ("720h", "15m") rather
// than raw seconds so an operator's config file reads naturally.
type PurgeConfig struct {
	Frequency        time.Duration `yaml:"frequency"`
	RecycleBinMaxAge time.Duration `yaml:"recycleBinMaxAge"`
	ChangelogMaxAge  time.Duration `yaml:"changelogMaxAge"`
}

// Default returns the configuration a fresh single-node deployment starts
// from absent a config file: a week-long recycle bin, a 90-day changelog
// horizon, and an hourly purge cycle.
func Default() Config {
	return Config{
		NodeID:      "warden-1",
		BindAddr:    "127.0.0.1:7946",
		DataDir:     "./warden-data",
		LogLevel:    "info",
		MetricsAddr: "127.0.0.1:9090",
		Cache: CacheConfig{
			EntryCacheTarget: 4096,
			IDLCacheRatio:    16,
		},
		Purge: PurgeConfig{
			Frequency:        time.Hour,
			RecycleBinMaxAge: 7 * 24 * time.Hour,
			ChangelogMaxAge:  90 * 24 * time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, layering it over Default() so
// a file only needs to name the fields it overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
