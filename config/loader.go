package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/flownet/errors"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// FLOWNET_NATS_URLS.
const EnvPrefix = "FLOWNET"

// Load reads configuration in three layers: defaults, then the YAML file at
// path (skipped when path is empty), then FLOWNET_* environment overrides.
// The merged result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "config", "Load", "read file")
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("parse %s: %v: %w", path, err, errors.ErrValidation),
				"config", "Load", "parse YAML")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := getenv("ENGINE_CONVERSION_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ConversionTickInterval = Duration(d)
		}
	}
	if v := getenv("ENGINE_OPTIMIZE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.OptimizeInterval = Duration(d)
		}
	}

	if v := getenv("OPTIMIZER_PARALLEL_OFFLOAD"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Optimizer.ParallelOffload = b
		}
	}
	if v := getenv("OPTIMIZER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Optimizer.Workers = n
		}
	}
	if v := getenv("OPTIMIZER_BATCH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Optimizer.BatchThreshold = n
		}
	}
	if v := getenv("OPTIMIZER_SPATIAL_PARTITIONING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Optimizer.SpatialPartitioning = b
		}
	}
	if v := getenv("OPTIMIZER_REGION_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Optimizer.RegionSize = f
		}
	}

	if v := getenv("CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TTL = Duration(d)
		}
	}

	if v := getenv("NATS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.NATS.Enabled = b
		}
	}
	if v := getenv("NATS_URLS"); v != "" {
		cfg.NATS.URLs = strings.Split(v, ",")
	}
	if v := getenv("NATS_USERNAME"); v != "" {
		cfg.NATS.Username = v
	}
	if v := getenv("NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
	if v := getenv("NATS_TOKEN"); v != "" {
		cfg.NATS.Token = v
	}
	if v := getenv("NATS_SUBJECT_PREFIX"); v != "" {
		cfg.NATS.SubjectPrefix = v
	}

	if v := getenv("METRICS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if v := getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + "_" + key)
}
