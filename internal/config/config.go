package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/address-cli/internal/cost"
	"github.com/sells-group/address-cli/internal/resilience"
)

// Config holds the full application configuration.
type Config struct {
	Input   InputConfig   `yaml:"input" mapstructure:"input"`
	Schema  SchemaConfig  `yaml:"schema" mapstructure:"schema"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Pricing cost.Rates    `yaml:"pricing" mapstructure:"pricing"`
}

// InputConfig locates the fixed-width address file. Archive may be a local
// path or an http(s):// or ftp:// URL.
type InputConfig struct {
	File    string `yaml:"file" mapstructure:"file"`
	Archive string `yaml:"archive" mapstructure:"archive"`
}

// SchemaConfig selects the field layout. An empty path uses the built-in schema.
type SchemaConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// GeocodeConfig configures address verification.
type GeocodeConfig struct {
	GoogleKey    string        `yaml:"google_key" mapstructure:"google_key"`
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	RateLimit    float64       `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs  int           `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Concurrency  int           `yaml:"concurrency" mapstructure:"concurrency"`
	H3Resolution int           `yaml:"h3_resolution" mapstructure:"h3_resolution"`
	CacheEnabled bool          `yaml:"cache_enabled" mapstructure:"cache_enabled"`
	CacheTTLDays int           `yaml:"cache_ttl_days" mapstructure:"cache_ttl_days"`
	Retry        RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Circuit      CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

// CacheTTL returns the cache lifetime. Zero means entries never expire.
func (g GeocodeConfig) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLDays) * 24 * time.Hour
}

// RetryConfig configures geocoder retries.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// Backoff converts to the retry policy used by the verifier.
func (r RetryConfig) Backoff() resilience.Backoff {
	return resilience.BackoffFromMillis(r.MaxAttempts, r.InitialBackoffMs, r.MaxBackoffMs, r.Multiplier, r.JitterFraction)
}

// CircuitConfig configures the geocoder circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Breaker converts to the breaker settings used by the verifier.
func (c CircuitConfig) Breaker() resilience.BreakerSettings {
	return resilience.BreakerFromSeconds(c.FailureThreshold, c.ResetTimeoutSecs)
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ServerConfig configures the locations server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ADDRESS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("input.file", "./addresses.txt")
	v.SetDefault("input.archive", "./addresses.tar.gz")
	v.SetDefault("schema.path", "")
	v.SetDefault("geocode.google_key", "")
	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.rate_limit", 25)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("geocode.concurrency", 8)
	v.SetDefault("geocode.h3_resolution", 9)
	v.SetDefault("geocode.cache_enabled", true)
	v.SetDefault("geocode.cache_ttl_days", 30)
	v.SetDefault("geocode.retry.max_attempts", 3)
	v.SetDefault("geocode.retry.initial_backoff_ms", 500)
	v.SetDefault("geocode.retry.max_backoff_ms", 30000)
	v.SetDefault("geocode.retry.multiplier", 2.0)
	v.SetDefault("geocode.retry.jitter_fraction", 0.25)
	v.SetDefault("geocode.circuit.failure_threshold", 5)
	v.SetDefault("geocode.circuit.reset_timeout_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "address-cli.db")
	v.SetDefault("server.port", 3030)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes are
// "parse" and "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "parse":
		if c.Input.File == "" {
			problems = append(problems, "input.file is required")
		}
		if c.Geocode.Enabled && c.Geocode.GoogleKey == "" {
			problems = append(problems, "geocode.google_key is required when geocode.enabled is true")
		}
		if c.Geocode.Concurrency < 1 || c.Geocode.Concurrency > 64 {
			problems = append(problems, "geocode.concurrency must be between 1 and 64")
		}
		if c.Geocode.RateLimit <= 0 {
			problems = append(problems, "geocode.rate_limit must be > 0")
		}
		if c.Geocode.H3Resolution < 0 || c.Geocode.H3Resolution > 15 {
			problems = append(problems, "geocode.h3_resolution must be between 0 and 15")
		}
		if c.Geocode.CacheTTLDays < 0 {
			problems = append(problems, "geocode.cache_ttl_days must be >= 0")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "", "sqlite":
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required for postgres")
		}
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
