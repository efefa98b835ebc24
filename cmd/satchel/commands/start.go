package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/satchel-edu/satchel/internal/logger"
	"github.com/satchel-edu/satchel/internal/opsserver"
	"github.com/satchel-edu/satchel/internal/telemetry"
	"github.com/satchel-edu/satchel/pkg/cache"
	cachesync "github.com/satchel-edu/satchel/pkg/cache/sync"
	"github.com/satchel-edu/satchel/pkg/config"
	"github.com/satchel-edu/satchel/pkg/metrics"
	promstats "github.com/satchel-edu/satchel/pkg/metrics/prometheus"
	"github.com/satchel-edu/satchel/pkg/registry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Satchel cache daemon",
	Long: `Start the Satchel cache daemon with the specified configuration.

The daemon keeps the content store open, sweeps expired content on a fixed
interval, and exposes an optional ops endpoint with health checks and
Prometheus metrics.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/satchel/config.yaml.

Examples:
  # Start with default config location
  satchel start

  # Start with custom config file
  satchel start --config /etc/satchel/config.yaml

  # Start with environment variable overrides
  SATCHEL_LOGGING_LEVEL=DEBUG satchel start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "satchel",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:         cfg.Telemetry.Profiling.Enabled,
		ApplicationName: cfg.Telemetry.Profiling.ApplicationName,
		ServiceVersion:  Version,
		Endpoint:        cfg.Telemetry.Profiling.Endpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", "error", err)
		}
	}()

	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	// Metrics must be initialized before the collectors are built, so that
	// promstats.New* see an enabled registry.
	if cfg.Ops.Enabled {
		metrics.InitRegistry()
	}

	st, err := config.OpenStore(cfg.Store)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close error", "error", err)
		}
	}()
	logger.Info("Store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	owners := registry.New(registry.Options{})

	service := cache.NewService(st, owners, cache.Config{
		MaxBytes:   cfg.Cache.MaxBytes.Int64(),
		DefaultTTL: cfg.Cache.DefaultTTL,
	}, cache.WithMetrics(promstats.NewCacheMetrics()))
	logger.Info("Cache configured", "max_bytes", cfg.Cache.MaxBytes.String(), "default_ttl", cfg.Cache.DefaultTTL)

	// The daemon runs without a remote; queued operations accumulate until a
	// remote-aware embedder reconciles them. Expiry sweeps still run.
	manager := cachesync.NewManager(st, owners, nil, cachesync.Config{
		MaxAttempts:    cfg.Sync.MaxRetryAttempts,
		BatchSize:      cfg.Sync.BatchSize,
		AttemptTimeout: cfg.Sync.AttemptTimeout,
	}, cachesync.WithMetrics(promstats.NewSyncMetrics()))

	driver := cachesync.NewDriver(service, manager, cachesync.DriverConfig{
		SweepInterval: cfg.Sync.SweepInterval,
	})
	driver.Start(ctx)

	serverDone := make(chan error, 1)
	if cfg.Ops.Enabled {
		ops := opsserver.New(cfg.Ops.ListenAddr, st)
		go func() {
			serverDone <- ops.Start(ctx)
		}()
	}

	// Wait for interrupt signal or ops server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Satchel is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		stopped := make(chan struct{})
		go func() {
			driver.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("Shutdown timeout exceeded, exiting", "timeout", cfg.ShutdownTimeout)
		}

		if cfg.Ops.Enabled {
			if err := <-serverDone; err != nil {
				logger.Error("Ops server shutdown error", "error", err)
				return err
			}
		}
		logger.Info("Satchel stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		driver.Stop()
		if err != nil {
			logger.Error("Ops server error", "error", err)
			return err
		}
		logger.Info("Satchel stopped")
	}

	return nil
}
