package config

import (
	"time"
)

// Config is the root configuration structure
type Config struct {
	Version    int              `yaml:"version"`
	Database   DatabaseConfig   `yaml:"database"`
	Input      InputConfig      `yaml:"input"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Processing ProcessingConfig `yaml:"processing"`
	Ensemble   EnsembleConfig   `yaml:"ensemble"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DatabaseConfig holds topology store settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InputConfig points at the parsing collaborator's output directory
type InputConfig struct {
	Dir string `yaml:"dir"`
}

// CheckpointConfig controls checkpoint cadence and retention
type CheckpointConfig struct {
	Dir      string `yaml:"dir"`
	Interval int    `yaml:"interval"` // checkpoint after every N processed files
	Retain   int    `yaml:"retain"`   // checkpoints kept on disk
}

// ProcessingConfig controls the update coordinator
type ProcessingConfig struct {
	FileTimeout       Duration `yaml:"file_timeout"`
	WatchInterval     Duration `yaml:"watch_interval"`
	MaxConcurrentApps int      `yaml:"max_concurrent_apps"`
}

// EnsembleConfig holds the tunable predictor weight table
type EnsembleConfig struct {
	Weights map[string]float64 `yaml:"weights,omitempty"`
}

// MetricsConfig controls the optional Prometheus listener; an empty
// address disables it
type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
