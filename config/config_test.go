package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flownet/errors"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flownet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
engine:
  conversion_tick_interval: 100ms
  optimize_interval: 10s
optimizer:
  parallel_offload: true
  workers: 8
  batch_threshold: 50
cache:
  ttl: 2s
nats:
  enabled: true
  urls:
    - nats://broker-1:4222
    - nats://broker-2:4222
  subject_prefix: colony
logging:
  level: debug
  format: text
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 100*time.Millisecond, cfg.Engine.ConversionTickInterval.Std())
	assert.Equal(t, 10*time.Second, cfg.Engine.OptimizeInterval.Std())
	assert.True(t, cfg.Optimizer.ParallelOffload)
	assert.Equal(t, 8, cfg.Optimizer.Workers)
	assert.Equal(t, 50, cfg.Optimizer.BatchThreshold)
	assert.Equal(t, 2*time.Second, cfg.Cache.TTL.Std())
	assert.Equal(t, []string{"nats://broker-1:4222", "nats://broker-2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "colony", cfg.NATS.SubjectPrefix)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	assert.Equal(t, 1000, cfg.Optimizer.HistoryCapacity)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadInvalidYAMLFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine: [not a map"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestEnvOverridesWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flownet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: 2s\n"), 0o600))

	t.Setenv("FLOWNET_CACHE_TTL", "7s")
	t.Setenv("FLOWNET_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("FLOWNET_OPTIMIZER_PARALLEL_OFFLOAD", "true")
	t.Setenv("FLOWNET_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Cache.TTL.Std())
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.True(t, cfg.Optimizer.ParallelOffload)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero tick interval", func(c *Config) { c.Engine.ConversionTickInterval = 0 }},
		{"negative optimize interval", func(c *Config) { c.Engine.OptimizeInterval = Duration(-time.Second) }},
		{"zero cache ttl", func(c *Config) { c.Cache.TTL = 0 }},
		{"zero history capacity", func(c *Config) { c.Optimizer.HistoryCapacity = 0 }},
		{"offload without workers", func(c *Config) { c.Optimizer.ParallelOffload = true; c.Optimizer.Workers = 0 }},
		{"partitioning without region size", func(c *Config) { c.Optimizer.SpatialPartitioning = true; c.Optimizer.RegionSize = 0 }},
		{"nats enabled without urls", func(c *Config) { c.NATS.Enabled = true; c.NATS.URLs = nil }},
		{"metrics enabled without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err))
		})
	}
}
