package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satchel-edu/satchel/internal/bytesize"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, DefaultMaxBytes, cfg.Cache.MaxBytes)
	assert.Equal(t, DefaultTTL, cfg.Cache.DefaultTTL)
	assert.Equal(t, DefaultMaxRetryAttempts, cfg.Sync.MaxRetryAttempts)
	assert.Equal(t, DefaultBatchSize, cfg.Sync.BatchSize)
	assert.Equal(t, DefaultShutdownTimeout, cfg.ShutdownTimeout)
}

func TestLoadParsesHumanReadableValues(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
store:
  backend: sqlite
  path: /tmp/satchel-test.db
cache:
  max_bytes: 100MB
  default_ttl: 48h
sync:
  max_retry_attempts: 5
  batch_size: 10
  attempt_timeout: 10s
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, "/tmp/satchel-test.db", cfg.Store.Path)
	assert.Equal(t, bytesize.ByteSize(100*1000*1000), cfg.Cache.MaxBytes)
	assert.Equal(t, 48*time.Hour, cfg.Cache.DefaultTTL)
	assert.Equal(t, 5, cfg.Sync.MaxRetryAttempts)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Sync.AttemptTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeConfig(t, `
store:
  backend: cassandra
`)
	_, err = Load(path)
	assert.Error(t, err)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
`)

	t.Setenv("SATCHEL_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestSaveAndReloadRoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Cache.DefaultTTL = 24 * time.Hour
	cfg.Store.Backend = "sqlite"
	cfg.Store.Path = "/tmp/satchel-roundtrip.db"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Logging.Level, loaded.Logging.Level)
	assert.Equal(t, cfg.Cache.DefaultTTL, loaded.Cache.DefaultTTL)
	assert.Equal(t, cfg.Store.Backend, loaded.Store.Backend)
	assert.Equal(t, cfg.Store.Path, loaded.Store.Path)
}

func TestOpenStoreMemoryBackend(t *testing.T) {
	st, err := OpenStore(StoreConfig{Backend: "memory"})
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.NoError(t, st.Close())

	_, err = OpenStore(StoreConfig{Backend: "cassandra"})
	assert.Error(t, err)
}
