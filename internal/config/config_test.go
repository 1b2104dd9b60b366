package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./addresses.txt", cfg.Input.File)
	assert.Equal(t, "./addresses.tar.gz", cfg.Input.Archive)
	assert.Empty(t, cfg.Schema.Path)
	assert.True(t, cfg.Geocode.Enabled)
	assert.InDelta(t, 25.0, cfg.Geocode.RateLimit, 0.001)
	assert.Equal(t, 10, cfg.Geocode.TimeoutSecs)
	assert.Equal(t, 8, cfg.Geocode.Concurrency)
	assert.Equal(t, 9, cfg.Geocode.H3Resolution)
	assert.True(t, cfg.Geocode.CacheEnabled)
	assert.Equal(t, 30*24*time.Hour, cfg.Geocode.CacheTTL())
	assert.Equal(t, 3, cfg.Geocode.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.Geocode.Retry.InitialBackoffMs)
	assert.Equal(t, 5, cfg.Geocode.Circuit.FailureThreshold)
	assert.Equal(t, 30, cfg.Geocode.Circuit.ResetTimeoutSecs)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "address-cli.db", cfg.Store.DatabaseURL)
	assert.Equal(t, 3030, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
input:
  file: /data/addresses.txt
geocode:
  enabled: false
  concurrency: 2
  retry:
    max_attempts: 5
store:
  driver: postgres
  database_url: postgres://localhost/addresses
log:
  level: debug
  format: console
server:
  port: 9090
pricing:
  geocode:
    - up_to: 1000
      per_1000: 7.5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/addresses.txt", cfg.Input.File)
	require.Len(t, cfg.Pricing.Geocode, 1)
	assert.Equal(t, int64(1000), cfg.Pricing.Geocode[0].UpTo)
	assert.InDelta(t, 7.5, cfg.Pricing.Geocode[0].Per1000, 0.001)
	assert.False(t, cfg.Geocode.Enabled)
	assert.Equal(t, 2, cfg.Geocode.Concurrency)
	assert.Equal(t, 5, cfg.Geocode.Retry.MaxAttempts)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	// Defaults still apply for unset values
	assert.Equal(t, 500, cfg.Geocode.Retry.InitialBackoffMs)
	assert.Equal(t, "./addresses.tar.gz", cfg.Input.Archive)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("ADDRESS_STORE_DRIVER", "sqlite")
	t.Setenv("ADDRESS_LOG_LEVEL", "warn")
	t.Setenv("ADDRESS_GEOCODE_GOOGLE_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "test-key", cfg.Geocode.GoogleKey)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ADDRESS_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("input: [unclosed"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestRetryAndCircuitConversion(t *testing.T) {
	r := RetryConfig{MaxAttempts: 4, InitialBackoffMs: 100, MaxBackoffMs: 1000, Multiplier: 3, JitterFraction: 0}
	b := r.Backoff()
	assert.Equal(t, 4, b.Attempts)
	assert.Equal(t, 100*time.Millisecond, b.Initial)
	assert.Equal(t, time.Second, b.Max)
	assert.Zero(t, b.Jitter)

	c := CircuitConfig{FailureThreshold: 2, ResetTimeoutSecs: 7}
	bs := c.Breaker()
	assert.Equal(t, 2, bs.Threshold)
	assert.Equal(t, 7*time.Second, bs.Cooldown)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Input.File = "./addresses.txt"
	cfg.Geocode.Enabled = true
	cfg.Geocode.GoogleKey = "key"
	cfg.Geocode.Concurrency = 8
	cfg.Geocode.RateLimit = 25
	cfg.Geocode.H3Resolution = 9
	cfg.Store.Driver = "sqlite"
	cfg.Server.Port = 3030
	return cfg
}

func TestValidateParse_AllPresent(t *testing.T) {
	assert.NoError(t, validDefaults().Validate("parse"))
}

func TestValidateParse_MissingKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Geocode.GoogleKey = ""

	err := cfg.Validate("parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geocode.google_key is required")

	cfg.Geocode.Enabled = false
	assert.NoError(t, cfg.Validate("parse"))
}

func TestValidateParse_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Input.File = ""
	cfg.Geocode.Concurrency = 0
	cfg.Geocode.RateLimit = 0
	cfg.Geocode.H3Resolution = 16
	cfg.Geocode.CacheTTLDays = -1

	err := cfg.Validate("parse")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input.file is required")
	assert.Contains(t, err.Error(), "geocode.concurrency must be between 1 and 64")
	assert.Contains(t, err.Error(), "geocode.rate_limit must be > 0")
	assert.Contains(t, err.Error(), "geocode.h3_resolution must be between 0 and 15")
	assert.Contains(t, err.Error(), "geocode.cache_ttl_days must be >= 0")
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateStore(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "postgres"

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required for postgres")

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be sqlite or postgres")
}

func TestValidateUnknownMode(t *testing.T) {
	err := validDefaults().Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
