// Package config provides configuration loading for recalld.
package config

import (
	"fmt"
	"time"
)

// Config is the full recalld configuration.
type Config struct {
	Log        LogConfig        `koanf:"log"`
	Store      StoreConfig      `koanf:"store"`
	Lifecycle  LifecycleConfig  `koanf:"lifecycle"`
	Buffer     BufferConfig     `koanf:"buffer"`
	Correlator CorrelatorConfig `koanf:"correlator"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Metrics    MetricsConfig    `koanf:"metrics"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" (production) or "console" (development).
	Format string `koanf:"format"`
}

// StoreConfig locates the durable SQLite store.
type StoreConfig struct {
	// Path is the SQLite database file, or ":memory:" for ephemeral runs.
	Path string `koanf:"path"`
}

// LifecycleConfig controls the promotion/TTL/garbage scheduler.
type LifecycleConfig struct {
	Interval     time.Duration `koanf:"interval"`
	CycleTimeout time.Duration `koanf:"cycle_timeout"`
	BatchSize    int           `koanf:"batch_size"`

	// PromoteEvery is the per-user message-count stride between on-demand
	// lifecycle runs. Zero disables the trigger.
	PromoteEvery int64 `koanf:"promote_every"`
}

// BufferConfig controls the knowledge-graph write buffer.
type BufferConfig struct {
	FlushInterval time.Duration `koanf:"flush_interval"`
	StoreTimeout  time.Duration `koanf:"store_timeout"`
}

// CorrelatorConfig controls the surfaced-memory store.
type CorrelatorConfig struct {
	// Backend is "ristretto" (in-process, default) or "redis"
	// (shared across backend instances).
	Backend string `koanf:"backend"`

	TTL time.Duration `koanf:"ttl"`

	// RedisAddr is required when Backend is "redis".
	RedisAddr string `koanf:"redis_addr"`
}

// QdrantConfig controls the vector-index payload mirror.
type QdrantConfig struct {
	// Enabled turns the mirror on. When off, lifecycle transitions update
	// the durable store only.
	Enabled    bool   `koanf:"enabled"`
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint, e.g. ":9091".
	// Empty disables the endpoint.
	Addr string `koanf:"addr"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}

	if cfg.Store.Path == "" {
		cfg.Store.Path = "recalld.db"
	}

	if cfg.Lifecycle.Interval == 0 {
		cfg.Lifecycle.Interval = 30 * time.Minute
	}
	if cfg.Lifecycle.CycleTimeout == 0 {
		cfg.Lifecycle.CycleTimeout = 10 * time.Minute
	}
	if cfg.Lifecycle.BatchSize == 0 {
		cfg.Lifecycle.BatchSize = 256
	}
	if cfg.Lifecycle.PromoteEvery == 0 {
		cfg.Lifecycle.PromoteEvery = 10
	}

	if cfg.Buffer.FlushInterval == 0 {
		cfg.Buffer.FlushInterval = 15 * time.Second
	}
	if cfg.Buffer.StoreTimeout == 0 {
		cfg.Buffer.StoreTimeout = 30 * time.Second
	}

	if cfg.Correlator.Backend == "" {
		cfg.Correlator.Backend = "ristretto"
	}
	if cfg.Correlator.TTL == 0 {
		cfg.Correlator.TTL = time.Hour
	}

	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.Collection == "" {
		cfg.Qdrant.Collection = "recalld_memories"
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	switch c.Correlator.Backend {
	case "ristretto":
	case "redis":
		if c.Correlator.RedisAddr == "" {
			return fmt.Errorf("correlator.redis_addr is required with the redis backend")
		}
	default:
		return fmt.Errorf("invalid correlator backend %q", c.Correlator.Backend)
	}

	if c.Lifecycle.Interval < time.Second {
		return fmt.Errorf("lifecycle.interval must be at least 1s")
	}
	if c.Buffer.FlushInterval < 100*time.Millisecond {
		return fmt.Errorf("buffer.flush_interval must be at least 100ms")
	}
	if c.Lifecycle.BatchSize < 1 {
		return fmt.Errorf("lifecycle.batch_size must be positive")
	}
	return nil
}
