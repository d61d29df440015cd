package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "recalld.db", cfg.Store.Path)
	assert.Equal(t, 30*time.Minute, cfg.Lifecycle.Interval)
	assert.Equal(t, 256, cfg.Lifecycle.BatchSize)
	assert.Equal(t, int64(10), cfg.Lifecycle.PromoteEvery)
	assert.Equal(t, 15*time.Second, cfg.Buffer.FlushInterval)
	assert.Equal(t, "ristretto", cfg.Correlator.Backend)
	assert.Equal(t, time.Hour, cfg.Correlator.TTL)
	assert.Equal(t, "localhost", cfg.Qdrant.Host)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.False(t, cfg.Qdrant.Enabled)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
  format: console
store:
  path: /var/lib/recalld/data.db
lifecycle:
  interval: 5m
  promote_every: 25
correlator:
  backend: redis
  redis_addr: localhost:6379
  ttl: 30m
qdrant:
  enabled: true
  collection: memories
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "/var/lib/recalld/data.db", cfg.Store.Path)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.Interval)
	assert.Equal(t, int64(25), cfg.Lifecycle.PromoteEvery)
	assert.Equal(t, "redis", cfg.Correlator.Backend)
	assert.Equal(t, "localhost:6379", cfg.Correlator.RedisAddr)
	assert.Equal(t, 30*time.Minute, cfg.Correlator.TTL)
	assert.True(t, cfg.Qdrant.Enabled)
	assert.Equal(t, "memories", cfg.Qdrant.Collection)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0600))

	t.Setenv("RECALLD_LOG_LEVEL", "warn")
	t.Setenv("RECALLD_STORE_PATH", ":memory:")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":memory:", cfg.Store.Path)
}

func TestLoad_MissingFileIsFine(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"bad correlator backend", func(c *Config) { c.Correlator.Backend = "memcached" }},
		{"redis without addr", func(c *Config) {
			c.Correlator.Backend = "redis"
			c.Correlator.RedisAddr = ""
		}},
		{"tiny lifecycle interval", func(c *Config) { c.Lifecycle.Interval = time.Millisecond }},
		{"tiny flush interval", func(c *Config) { c.Buffer.FlushInterval = time.Millisecond }},
		{"negative batch size", func(c *Config) { c.Lifecycle.BatchSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_RejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}
