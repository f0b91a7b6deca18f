package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("expected version 1, got %d", cfg.Version)
	}
	if cfg.Database.Path == "" {
		t.Error("expected default database path")
	}
	if cfg.Checkpoint.Interval != 10 {
		t.Errorf("expected checkpoint interval 10, got %d", cfg.Checkpoint.Interval)
	}
	if cfg.Processing.FileTimeout.Duration() != 30*time.Second {
		t.Errorf("expected 30s file timeout, got %s", cfg.Processing.FileTimeout.Duration())
	}
	if len(cfg.Ensemble.Weights) != 5 {
		t.Errorf("expected 5 default weights, got %d", len(cfg.Ensemble.Weights))
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Run("partial config gets defaults applied", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		content := `
version: 1
input:
  dir: /var/lib/flowatlas/batches
processing:
  file_timeout: 45s
`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}

		cfg, loadedPath, err := LoadFromPath(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loadedPath != path {
			t.Errorf("expected path %s, got %s", path, loadedPath)
		}
		if cfg.Input.Dir != "/var/lib/flowatlas/batches" {
			t.Errorf("explicit value lost: %s", cfg.Input.Dir)
		}
		if cfg.Processing.FileTimeout.Duration() != 45*time.Second {
			t.Errorf("expected 45s, got %s", cfg.Processing.FileTimeout.Duration())
		}
		if cfg.Checkpoint.Interval != 10 {
			t.Errorf("default not applied: %d", cfg.Checkpoint.Interval)
		}
	})

	t.Run("invalid yaml is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		os.WriteFile(path, []byte("version: [broken"), 0o644)

		if _, _, err := LoadFromPath(path); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("negative weight is rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		os.WriteFile(path, []byte("ensemble:\n  weights:\n    structural: -1\n"), 0o644)

		if _, _, err := LoadFromPath(path); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Metrics.Addr = ":9091"
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := cfg.Save(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, _, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Metrics.Addr != ":9091" {
		t.Errorf("metrics addr lost: %s", loaded.Metrics.Addr)
	}
	if loaded.Processing.WatchInterval.Duration() != cfg.Processing.WatchInterval.Duration() {
		t.Error("durations diverged across save/load")
	}
}

func TestDuration(t *testing.T) {
	d := Duration(5 * time.Minute)

	if d.Duration() != 5*time.Minute {
		t.Errorf("Duration() = %s, want 5m", d.Duration())
	}

	marshaled, err := d.MarshalYAML()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if marshaled != "5m0s" {
		t.Errorf("expected 5m0s, got %v", marshaled)
	}
}
