// Package config provides configuration management for flowatlas.
//
// Config file locations (priority order):
//  1. $FLOWATLAS_CONFIG
//  2. ./flowatlas.yaml
//  3. $XDG_CONFIG_HOME/flowatlas/config.yaml
//  4. ~/.config/flowatlas/config.yaml
//  5. /etc/flowatlas/config.yaml
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, path, err
	}

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a new installation
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Database.Path == "" {
		c.Database.Path = "./flowatlas.db"
	}
	if c.Input.Dir == "" {
		c.Input.Dir = "./input"
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "./checkpoints"
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = 10
	}
	if c.Checkpoint.Retain == 0 {
		c.Checkpoint.Retain = 3
	}
	if c.Processing.FileTimeout == 0 {
		c.Processing.FileTimeout = Duration(30e9) // 30s
	}
	if c.Processing.WatchInterval == 0 {
		c.Processing.WatchInterval = Duration(10e9) // 10s
	}
	if c.Processing.MaxConcurrentApps == 0 {
		c.Processing.MaxConcurrentApps = 4
	}
	if c.Ensemble.Weights == nil {
		c.Ensemble.Weights = map[string]float64{
			"structural": 1.0,
			"sequence":   0.8,
			"behavioral": 0.7,
			"transition": 0.6,
			"semantic":   0.4,
		}
	}
}

// validate rejects configurations the engine cannot run with
func (c *Config) validate() error {
	if c.Checkpoint.Interval < 1 {
		return fmt.Errorf("checkpoint interval must be at least 1, got %d", c.Checkpoint.Interval)
	}
	for id, w := range c.Ensemble.Weights {
		if w < 0 {
			return fmt.Errorf("ensemble weight for %s must not be negative, got %f", id, w)
		}
	}
	return nil
}
