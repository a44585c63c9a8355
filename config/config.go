// Package config defines the application configuration: engine tick
// intervals, optimizer capability flags, cache TTLs, NATS connectivity and
// observability settings. Configuration loads from a YAML file with
// FLOWNET_* environment overrides on top.
package config

import (
	"fmt"
	"time"

	"github.com/c360/flownet/errors"
)

// Config is the complete application configuration.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Cache     CacheConfig     `yaml:"cache"`
	NATS      NATSConfig      `yaml:"nats"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EngineConfig sets the engine's timer-driven task intervals.
type EngineConfig struct {
	// ConversionTickInterval is how often active processes advance.
	ConversionTickInterval Duration `yaml:"conversion_tick_interval"`
	// OptimizeInterval is how often a flow optimization pass is scheduled.
	// Zero disables periodic optimization; passes then run on demand only.
	OptimizeInterval Duration `yaml:"optimize_interval"`
}

// OptimizerConfig tunes the flow optimizer and its capability flags.
type OptimizerConfig struct {
	ParallelOffload bool     `yaml:"parallel_offload"`
	Workers         int      `yaml:"workers"`
	QueueSize       int      `yaml:"queue_size"`
	BatchThreshold  int      `yaml:"batch_threshold"`
	OffloadTimeout  Duration `yaml:"offload_timeout"`

	SpatialPartitioning bool    `yaml:"spatial_partitioning"`
	RegionSize          float64 `yaml:"region_size"`

	HistoryCapacity int `yaml:"history_capacity"`
}

// CacheConfig tunes the resource state cache.
type CacheConfig struct {
	TTL Duration `yaml:"ttl"`
}

// NATSConfig configures the optional NATS bridge.
type NATSConfig struct {
	Enabled       bool     `yaml:"enabled"`
	URLs          []string `yaml:"urls"`
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	Token         string   `yaml:"token,omitempty"`
	MaxReconnects int      `yaml:"max_reconnects"`
	ReconnectWait Duration `yaml:"reconnect_wait"`
	SubjectPrefix string   `yaml:"subject_prefix"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			ConversionTickInterval: Duration(250 * time.Millisecond),
			OptimizeInterval:       Duration(5 * time.Second),
		},
		Optimizer: OptimizerConfig{
			Workers:         4,
			QueueSize:       16,
			BatchThreshold:  100,
			OffloadTimeout:  Duration(5 * time.Second),
			RegionSize:      250,
			HistoryCapacity: 1000,
		},
		Cache: CacheConfig{
			TTL: Duration(3 * time.Second),
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: Duration(2 * time.Second),
			SubjectPrefix: "flownet",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	fail := func(msg string, args ...any) error {
		return errors.WrapInvalid(
			fmt.Errorf(msg+": %w", append(args, errors.ErrValidation)...),
			"config", "Validate", "validation")
	}

	if c.Engine.ConversionTickInterval <= 0 {
		return fail("engine.conversion_tick_interval must be positive, got %v", c.Engine.ConversionTickInterval)
	}
	if c.Engine.OptimizeInterval < 0 {
		return fail("engine.optimize_interval cannot be negative, got %v", c.Engine.OptimizeInterval)
	}
	if c.Cache.TTL <= 0 {
		return fail("cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	if c.Optimizer.HistoryCapacity <= 0 {
		return fail("optimizer.history_capacity must be positive, got %d", c.Optimizer.HistoryCapacity)
	}
	if c.Optimizer.ParallelOffload {
		if c.Optimizer.Workers <= 0 {
			return fail("optimizer.workers must be positive with parallel offload, got %d", c.Optimizer.Workers)
		}
		if c.Optimizer.BatchThreshold <= 0 {
			return fail("optimizer.batch_threshold must be positive with parallel offload, got %d", c.Optimizer.BatchThreshold)
		}
	}
	if c.Optimizer.SpatialPartitioning && c.Optimizer.RegionSize <= 0 {
		return fail("optimizer.region_size must be positive with spatial partitioning, got %v", c.Optimizer.RegionSize)
	}
	if c.NATS.Enabled && len(c.NATS.URLs) == 0 {
		return fail("nats.urls cannot be empty when the bridge is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fail("metrics.addr cannot be empty when metrics are enabled")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fail("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fail("logging.format %q is not json or text", c.Logging.Format)
	}
	return nil
}
