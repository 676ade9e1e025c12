// Package config provides configuration management for the wheel tracker.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Normalize when a field is unset.
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultBackend        = "json"
	defaultStoragePath    = "data/trades.json"
	defaultDashboardPort  = 8080
	defaultMaxRetries     = 3
	defaultInitialBackoff = "50ms"
	defaultMaxBackoff     = "2s"
	defaultFailureRatio   = 0.6
	defaultMinRequests    = 5
	defaultBreakerTimeout = "30s"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Storage     StorageConfig     `yaml:"storage"`
	Import      ImportConfig      `yaml:"import"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Resilience  ResilienceConfig  `yaml:"resilience"`
}

// EnvironmentConfig defines logging settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// StorageConfig selects the trade store.
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory | json | sqlite
	Path    string `yaml:"path"`
}

// ImportConfig defines defaults for the import command.
type ImportConfig struct {
	CSVPath           string `yaml:"csv_path"`
	ResetBeforeImport bool   `yaml:"reset_before_import"`
}

// DashboardConfig defines the JSON API server settings.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// ResilienceConfig defines retry and circuit breaker settings for the store.
type ResilienceConfig struct {
	MaxRetries          int     `yaml:"max_retries"`
	InitialBackoff      string  `yaml:"initial_backoff"`
	MaxBackoff          string  `yaml:"max_backoff"`
	BreakerFailureRatio float64 `yaml:"breaker_failure_ratio"`
	BreakerMinRequests  uint32  `yaml:"breaker_min_requests"`
	BreakerTimeout      string  `yaml:"breaker_timeout"`
}

// Load reads and parses the configuration file from the specified path.
// A .env file in the working directory, if present, is loaded first so its
// variables can be referenced as ${VAR} in the YAML.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables, then
// normalizes and validates it.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// Default returns a normalized configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills unset fields with their defaults.
func (c *Config) Normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = defaultLogLevel
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = defaultLogFormat
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = defaultBackend
	}
	if c.Storage.Path == "" && c.Storage.Backend == "json" {
		c.Storage.Path = defaultStoragePath
	}
	if c.Storage.Path == "" && c.Storage.Backend == "sqlite" {
		c.Storage.Path = "data/trades.db"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = defaultDashboardPort
	}
	if c.Resilience.MaxRetries == 0 {
		c.Resilience.MaxRetries = defaultMaxRetries
	}
	if c.Resilience.InitialBackoff == "" {
		c.Resilience.InitialBackoff = defaultInitialBackoff
	}
	if c.Resilience.MaxBackoff == "" {
		c.Resilience.MaxBackoff = defaultMaxBackoff
	}
	if c.Resilience.BreakerFailureRatio == 0 {
		c.Resilience.BreakerFailureRatio = defaultFailureRatio
	}
	if c.Resilience.BreakerMinRequests == 0 {
		c.Resilience.BreakerMinRequests = defaultMinRequests
	}
	if c.Resilience.BreakerTimeout == "" {
		c.Resilience.BreakerTimeout = defaultBreakerTimeout
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Environment.LogLevel); err != nil {
		return fmt.Errorf("environment.log_level invalid: %w", err)
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	switch c.Storage.Backend {
	case "memory":
	case "json", "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("storage.backend must be 'memory', 'json' or 'sqlite'")
	}

	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be between 1 and 65535")
	}

	if c.Resilience.MaxRetries < 0 {
		return fmt.Errorf("resilience.max_retries must be >= 0")
	}
	initial, err := time.ParseDuration(c.Resilience.InitialBackoff)
	if err != nil || initial <= 0 {
		return fmt.Errorf("resilience.initial_backoff must be a positive duration")
	}
	maxBackoff, err := time.ParseDuration(c.Resilience.MaxBackoff)
	if err != nil || maxBackoff <= 0 {
		return fmt.Errorf("resilience.max_backoff must be a positive duration")
	}
	if initial > maxBackoff {
		return fmt.Errorf("resilience.initial_backoff (%s) must be <= resilience.max_backoff (%s)",
			initial, maxBackoff)
	}
	if c.Resilience.BreakerFailureRatio <= 0 || c.Resilience.BreakerFailureRatio > 1 {
		return fmt.Errorf("resilience.breaker_failure_ratio must be in (0,1]")
	}
	if d, err := time.ParseDuration(c.Resilience.BreakerTimeout); err != nil || d <= 0 {
		return fmt.Errorf("resilience.breaker_timeout must be a positive duration")
	}
	return nil
}

// GetInitialBackoff returns the configured initial retry backoff.
func (c *Config) GetInitialBackoff() time.Duration {
	return parseDurationOr(c.Resilience.InitialBackoff, 50*time.Millisecond)
}

// GetMaxBackoff returns the configured retry backoff ceiling.
func (c *Config) GetMaxBackoff() time.Duration {
	return parseDurationOr(c.Resilience.MaxBackoff, 2*time.Second)
}

// GetBreakerTimeout returns how long the store circuit stays open.
func (c *Config) GetBreakerTimeout() time.Duration {
	return parseDurationOr(c.Resilience.BreakerTimeout, 30*time.Second)
}

// ListenAddr returns the dashboard listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Dashboard.Port)
}

// NewLogger builds a logger writing to out at the configured level and format.
func (c *Config) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.Environment.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("environment.log_level invalid: %w", err)
	}
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)
	if c.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
