package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json5"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Cluster.Transport != "local" {
		t.Errorf("transport = %q, want local", cfg.Cluster.Transport)
	}
	if got := cfg.ExecutionThreshold(); got != 150*time.Millisecond {
		t.Errorf("execution threshold = %s, want 150ms", got)
	}
	if got := cfg.ReclaimWindow(); got != time.Hour {
		t.Errorf("reclaim window = %s, want 1h", got)
	}
}

func TestLoadParsesJSON5(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candleclock.json5")
	body := `{
		// cluster deployment
		database: {driver: "postgres", url: "postgres://clock:secret@db/clock"},
		cluster: {transport: "postgres"},
		worker: {execution_threshold_ms: 300, orphan_reclaim_window_sec: 600},
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %q, want postgres", cfg.Database.Driver)
	}
	if got := cfg.ExecutionThreshold(); got != 300*time.Millisecond {
		t.Errorf("execution threshold = %s, want 300ms", got)
	}
	if got := cfg.ReclaimWindow(); got != 10*time.Minute {
		t.Errorf("reclaim window = %s, want 10m", got)
	}
}

func TestValidateRejectsBadCombinations(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"unknown transport", func(c *Config) { c.Cluster.Transport = "carrier-pigeon" }},
		{"pg transport on sqlite", func(c *Config) { c.Cluster.Transport = "postgres" }},
		{"redis without addr", func(c *Config) { c.Cluster.Transport = "redis" }},
		{"negative threshold", func(c *Config) { c.Worker.ExecutionThresholdMs = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestRedactedURLMasksPassword(t *testing.T) {
	cfg := Default()
	cfg.Database.URL = "postgres://clock:hunter2@db:5432/clock"
	if got := cfg.RedactedURL(); got != "postgres://clock:***@db:5432/clock" {
		t.Errorf("RedactedURL() = %q", got)
	}

	cfg.Database.URL = "candleclock.db"
	if got := cfg.RedactedURL(); got != "candleclock.db" {
		t.Errorf("plain path changed: %q", got)
	}
}
