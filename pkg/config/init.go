package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// sampleConfig is the commented starter configuration written by
// `satchel init`.
const sampleConfig = `# Satchel configuration file
#
# Every value can be overridden with a SATCHEL_* environment variable,
# e.g. SATCHEL_LOGGING_LEVEL=DEBUG or SATCHEL_CACHE_MAX_BYTES=1Gi.

logging:
  level: INFO        # DEBUG, INFO, WARN, ERROR
  format: text       # text, json
  output: stdout     # stdout, stderr, or a file path

store:
  backend: badger    # badger, sqlite, postgres, memory
  # path: /var/lib/satchel/store
  # postgres:
  #   host: localhost
  #   port: 5432
  #   database: satchel
  #   user: satchel
  #   password: ""
  #   ssl_mode: disable

cache:
  max_bytes: 500MB   # per-student cache ceiling
  default_ttl: 72h   # expiry when a submission has no explicit TTL

sync:
  max_retry_attempts: 3
  batch_size: 20
  attempt_timeout: 30s
  sweep_interval: 5m

ops:
  enabled: false     # health and Prometheus metrics endpoint
  listen_addr: ":9464"

telemetry:
  enabled: false
  endpoint: localhost:4317
  insecure: true
  sample_rate: 1.0
  profiling:
    enabled: false
    endpoint: http://localhost:4040

shutdown_timeout: 30s
`

// InitConfig writes the sample configuration to the default location and
// returns the path. Refuses to overwrite unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the sample configuration to the given path.
func InitConfigToPath(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
