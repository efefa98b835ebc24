package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/satchel-edu/satchel/internal/bytesize"
)

// Default policy values. They match the profile the cache was designed
// around: a student device that must survive a multi-day outage within a
// modest storage allowance.
const (
	DefaultMaxBytes         = bytesize.ByteSize(500 * 1024 * 1024)
	DefaultTTL              = 72 * time.Hour
	DefaultMaxRetryAttempts = 3
	DefaultBatchSize        = 20
	DefaultAttemptTimeout   = 30 * time.Second
	DefaultSweepInterval    = 5 * time.Minute
	DefaultShutdownTimeout  = 30 * time.Second
	DefaultOpsListenAddr    = ":9464"
)

// ApplyDefaults fills unspecified configuration fields. Zero values are
// replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	applyStoreDefaults(&cfg.Store)
	applyCacheDefaults(&cfg.Cache)
	applySyncDefaults(&cfg.Sync)
	applyOpsDefaults(&cfg.Ops)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = "satchel"
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "badger"
	}
	if cfg.Path == "" {
		switch cfg.Backend {
		case "badger":
			cfg.Path = filepath.Join(getDataDir(), "store")
		case "sqlite":
			cfg.Path = filepath.Join(getDataDir(), "satchel.db")
		}
	}
	if cfg.Backend == "postgres" {
		if cfg.Postgres.Host == "" {
			cfg.Postgres.Host = "localhost"
		}
		if cfg.Postgres.Port == 0 {
			cfg.Postgres.Port = 5432
		}
		if cfg.Postgres.SSLMode == "" {
			cfg.Postgres.SSLMode = "disable"
		}
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = DefaultTTL
	}
}

func applySyncDefaults(cfg *SyncConfig) {
	if cfg.MaxRetryAttempts == 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
}

func applyOpsDefaults(cfg *OpsConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultOpsListenAddr
	}
}

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
