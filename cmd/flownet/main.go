// Package main implements the entry point for the flownet engine: a live
// resource-flow network of producers, consumers, storage and converters with
// a periodic flow optimizer. External collaborators drive the node graph over
// NATS module-lifecycle subjects when the bridge is enabled.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/c360/flownet/config"
	"github.com/c360/flownet/engine"
	"github.com/c360/flownet/metric"
	"github.com/c360/flownet/natsbridge"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "flownet"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Logging.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Logging.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	slog.Info("Starting flownet engine",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	ctx := context.Background()

	registry := metric.NewMetricsRegistry()

	eng, err := engine.New(ctx, cfg, logger, registry.CoreMetrics())
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer func() {
		if stopErr := eng.Stop(cliCfg.ShutdownTimeout); stopErr != nil {
			slog.Warn("Engine shutdown failed", "error", stopErr)
		}
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metric.NewServer(metricsPort(cfg.Metrics.Addr), "/metrics", registry)
		go func() {
			if serveErr := metricsServer.Start(); serveErr != nil {
				slog.Warn("Metrics server stopped", "error", serveErr)
			}
		}()
		defer func() {
			if stopErr := metricsServer.Stop(); stopErr != nil {
				slog.Warn("Metrics server shutdown failed", "error", stopErr)
			}
		}()
		slog.Info("Metrics server listening", "addr", cfg.Metrics.Addr)
	}

	if cfg.NATS.Enabled {
		bridge, bridgeErr := natsbridge.New(cfg.NATS, eng, logger)
		if bridgeErr != nil {
			return fmt.Errorf("create NATS bridge: %w", bridgeErr)
		}
		if bridgeErr = bridge.Start(ctx); bridgeErr != nil {
			return fmt.Errorf("start NATS bridge: %w", bridgeErr)
		}
		defer func() {
			if stopErr := bridge.Stop(cliCfg.ShutdownTimeout); stopErr != nil {
				slog.Warn("NATS bridge shutdown failed", "error", stopErr)
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	slog.Info("Shutdown signal received", "signal", received.String())
	return nil
}

// metricsPort extracts the port number from a listen address like ":9090".
// Zero falls back to the metrics server default.
func metricsPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0
	}
	return port
}
