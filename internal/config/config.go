// Package config loads the daemon configuration. The file is JSON5 so
// deployments can keep comments and trailing commas in their configs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/titanous/json5"
)

// Config is the daemon configuration tree.
type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Cluster   ClusterConfig   `json:"cluster"`
	Worker    WorkerConfig    `json:"worker"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

type DatabaseConfig struct {
	// Driver selects the store: "postgres" or "sqlite".
	Driver string `json:"driver"`
	// URL is the Postgres DSN, or the database file path for sqlite.
	URL string `json:"url"`
	// Table overrides the Postgres timers table name.
	Table string `json:"table"`
}

type ClusterConfig struct {
	// Transport selects the hint fan-out: "local", "postgres" or "redis".
	Transport string `json:"transport"`

	RedisAddr    string `json:"redis_addr"`
	RedisChannel string `json:"redis_channel"`
	PGChannel    string `json:"pg_channel"`
}

type WorkerConfig struct {
	ExecutionThresholdMs   int `json:"execution_threshold_ms"`
	OrphanReclaimWindowSec int `json:"orphan_reclaim_window_sec"`
}

type TelemetryConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
	// Protocol is "http" or "grpc".
	Protocol string `json:"protocol"`
}

// Default returns the single-node configuration: sqlite beside the
// process, in-process hints, stock worker policy.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver: "sqlite",
			URL:    "candleclock.db",
		},
		Cluster: ClusterConfig{
			Transport: "local",
		},
		Worker: WorkerConfig{
			ExecutionThresholdMs:   150,
			OrphanReclaimWindowSec: 3600,
		},
		Telemetry: TelemetryConfig{
			Protocol: "http",
		},
	}
}

// Load reads path over the defaults. A missing file is not an error;
// the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides lets the environment win over the file, which is how
// container deployments inject the DSN without templating the config.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CANDLECLOCK_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("CANDLECLOCK_DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("CANDLECLOCK_REDIS_ADDR"); v != "" {
		c.Cluster.RedisAddr = v
	}
	if v := os.Getenv("CANDLECLOCK_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Endpoint = v
		c.Telemetry.Enabled = true
	}
}

// Validate rejects combinations the daemon cannot serve.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	switch c.Cluster.Transport {
	case "local", "postgres", "redis":
	default:
		return fmt.Errorf("config: unknown cluster transport %q", c.Cluster.Transport)
	}
	if c.Cluster.Transport == "postgres" && c.Database.Driver != "postgres" {
		return fmt.Errorf("config: postgres transport requires the postgres driver")
	}
	if c.Cluster.Transport == "redis" && c.Cluster.RedisAddr == "" {
		return fmt.Errorf("config: redis transport requires redis_addr")
	}
	if c.Worker.ExecutionThresholdMs < 0 || c.Worker.OrphanReclaimWindowSec < 0 {
		return fmt.Errorf("config: worker thresholds must not be negative")
	}
	return nil
}

// ExecutionThreshold returns the worker threshold as a duration, zero
// meaning "keep the default".
func (c *Config) ExecutionThreshold() time.Duration {
	return time.Duration(c.Worker.ExecutionThresholdMs) * time.Millisecond
}

// ReclaimWindow returns the orphan recovery window as a duration, zero
// meaning "keep the default".
func (c *Config) ReclaimWindow() time.Duration {
	return time.Duration(c.Worker.OrphanReclaimWindowSec) * time.Second
}
