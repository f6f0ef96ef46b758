// Package config loads the urlwatch configuration.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file,
// and URLWATCH_* environment variables (optionally seeded from a .env file).
//
// Example configuration:
//
//	scheduler:
//	  interval: 10s
//	  max_concurrency: 8
//	probe:
//	  connect_timeout: 30s
//	  request_timeout: 10s
//	database:
//	  driver: postgres
//	  url: postgres://urlwatch@localhost/urlwatch
//	http:
//	  port: 8080
//	log:
//	  level: info
//	  format: text
//	shutdown_grace: 15s
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	minSchedulerInterval = 1 * time.Second
	// MaxItemInterval is the longest check cadence a watch item may have.
	MaxItemInterval = 300 * time.Second
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds the application's configuration values.
type Config struct {
	Scheduler     SchedulerConfig `yaml:"scheduler"`
	Probe         ProbeConfig     `yaml:"probe"`
	Database      DatabaseConfig  `yaml:"database"`
	HTTP          HTTPConfig      `yaml:"http"`
	Log           LogConfig       `yaml:"log"`
	ShutdownGrace Duration        `yaml:"shutdown_grace"`
}

// SchedulerConfig controls the tick loop.
type SchedulerConfig struct {
	// Interval is the tick length. Must be between 1s and 300s.
	Interval       Duration `yaml:"interval"`
	MaxConcurrency int      `yaml:"max_concurrency"`
}

// ProbeConfig controls individual HTTP checks.
type ProbeConfig struct {
	ConnectTimeout     Duration `yaml:"connect_timeout"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
}

// DatabaseConfig selects and tunes the store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	URL      string `yaml:"url"`
	CAFile   string `yaml:"ca_file"`
	MaxConns int    `yaml:"max_conns"`
}

// HTTPConfig controls the inspection API. Port 0 disables it.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration().String(), nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Interval:       Duration(10 * time.Second),
			MaxConcurrency: 8,
		},
		Probe: ProbeConfig{
			ConnectTimeout: Duration(30 * time.Second),
			RequestTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			URL:    "urlwatch.db",
		},
		HTTP:          HTTPConfig{Port: 8080},
		Log:           LogConfig{Level: "info", Format: "text"},
		ShutdownGrace: Duration(15 * time.Second),
	}
}

// Load reads the YAML file at path, when given, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data on top of the defaults, without
// looking at the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides values from URLWATCH_* environment variables.
func (c *Config) applyEnv() {
	c.Scheduler.Interval = Duration(getEnvDuration("URLWATCH_SCHEDULER_INTERVAL", c.Scheduler.Interval.Duration()))
	c.Scheduler.MaxConcurrency = getEnvInt("URLWATCH_SCHEDULER_MAX_CONCURRENCY", c.Scheduler.MaxConcurrency)
	c.Probe.ConnectTimeout = Duration(getEnvDuration("URLWATCH_PROBE_CONNECT_TIMEOUT", c.Probe.ConnectTimeout.Duration()))
	c.Probe.RequestTimeout = Duration(getEnvDuration("URLWATCH_PROBE_REQUEST_TIMEOUT", c.Probe.RequestTimeout.Duration()))
	c.Probe.InsecureSkipVerify = getEnvBool("URLWATCH_PROBE_INSECURE_SKIP_VERIFY", c.Probe.InsecureSkipVerify)
	c.Database.Driver = getEnv("URLWATCH_DATABASE_DRIVER", c.Database.Driver)
	c.Database.URL = getEnv("URLWATCH_DATABASE_URL", c.Database.URL)
	c.Database.CAFile = getEnv("URLWATCH_DATABASE_CA_FILE", c.Database.CAFile)
	c.Database.MaxConns = getEnvInt("URLWATCH_DATABASE_MAX_CONNS", c.Database.MaxConns)
	c.HTTP.Port = getEnvInt("URLWATCH_HTTP_PORT", c.HTTP.Port)
	c.Log.Level = getEnv("URLWATCH_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("URLWATCH_LOG_FORMAT", c.Log.Format)
	c.ShutdownGrace = Duration(getEnvDuration("URLWATCH_SHUTDOWN_GRACE", c.ShutdownGrace.Duration()))
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	interval := c.Scheduler.Interval.Duration()
	if interval < minSchedulerInterval || interval > MaxItemInterval {
		return fmt.Errorf("scheduler.interval must be between %s and %s, got %s", minSchedulerInterval, MaxItemInterval, interval)
	}
	if c.Scheduler.MaxConcurrency < 1 {
		return fmt.Errorf("scheduler.max_concurrency must be at least 1, got %d", c.Scheduler.MaxConcurrency)
	}
	if c.Probe.ConnectTimeout.Duration() <= 0 {
		return errors.New("probe.connect_timeout must be positive")
	}
	if c.Probe.RequestTimeout.Duration() <= 0 {
		return errors.New("probe.request_timeout must be positive")
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %q", c.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be one of postgres, sqlite or memory, got %q", c.Database.Driver)
	}
	if c.Database.MaxConns < 0 || c.Database.MaxConns > math.MaxInt32 {
		return fmt.Errorf("database.max_conns out of range: %d", c.Database.MaxConns)
	}

	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 0 and 65535, got %d", c.HTTP.Port)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	if c.ShutdownGrace.Duration() < 0 {
		return fmt.Errorf("shutdown_grace cannot be negative, got %s", c.ShutdownGrace.Duration())
	}
	return nil
}

// MinItemInterval returns the shortest interval, in seconds, a watch item may
// use: the tick interval rounded up to whole seconds.
func (c *Config) MinItemInterval() int {
	return int(math.Ceil(c.Scheduler.Interval.Duration().Seconds()))
}

// Helper function to get an environment variable or return a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// Helper function to get an environment variable as an integer.
func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a boolean.
func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

// Helper function to get an environment variable as a time.Duration.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}
