// Package config loads runtime configuration from a YAML file with
// CHURCHHOUSE_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/churchhouse/backend/internal/errors"
	"github.com/kimhsiao/churchhouse/backend/internal/models"
	"github.com/kimhsiao/churchhouse/backend/internal/telemetry"
)

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "churchhouse.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHURCHHOUSE_"

// Gateway drivers.
const (
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Collections CollectionsConfig `yaml:"collections"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   telemetry.Config  `yaml:"telemetry"`
}

// GatewayConfig selects and tunes the backing store.
type GatewayConfig struct {
	Driver    string          `yaml:"driver"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Timeout   time.Duration   `yaml:"timeout"`
}

// SQLiteConfig locates the local database.
type SQLiteConfig struct {
	DataDir string `yaml:"data_dir"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RateLimitConfig throttles gateway calls. RPS <= 0 disables throttling.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// CollectionsConfig tunes collection views.
type CollectionsConfig struct {
	PageSizes map[models.Kind]int `yaml:"page_sizes"`
	// Strategy is server_wins or optimistic_stands.
	Strategy   string `yaml:"strategy"`
	MaxPending int    `yaml:"max_pending"`
}

// PageSize returns the page size for kind, falling back to the default.
func (c CollectionsConfig) PageSize(kind models.Kind) int {
	if n, ok := c.PageSizes[kind]; ok && n > 0 {
		return n
	}
	return DefaultPageSizes()[kind]
}

// SchedulerConfig controls background refreshes.
type SchedulerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// RefreshTimeout bounds a whole round over every auto-refresh view.
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// ServerConfig is the desktop HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultPageSizes returns the page size used by each collection kind.
func DefaultPageSizes() map[models.Kind]int {
	return map[models.Kind]int{
		models.KindPost:       10,
		models.KindPrayer:     15,
		models.KindChapel:     20,
		models.KindFellowship: 20,
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "INFO",
		Gateway: GatewayConfig{
			Driver:    DriverSQLite,
			SQLite:    SQLiteConfig{DataDir: "./data"},
			Redis:     RedisConfig{Addr: "localhost:6379"},
			RateLimit: RateLimitConfig{RPS: 20, Burst: 10},
			Timeout:   15 * time.Second,
		},
		Collections: CollectionsConfig{
			PageSizes:  DefaultPageSizes(),
			Strategy:   "server_wins",
			MaxPending: 64,
		},
		Scheduler: SchedulerConfig{
			Enabled:         true,
			RefreshInterval: 30 * time.Second,
			RefreshTimeout:  2 * time.Minute,
		},
		Server:    ServerConfig{Addr: "localhost:8090"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path (or DefaultFile when path is empty and the file exists),
// applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "parse "+path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// defaults only
	default:
		return nil, errors.Wrap(errors.ErrInvalid, "read "+path, err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. lookup is os.LookupEnv in
// production.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := get("GATEWAY_DRIVER"); ok {
		c.Gateway.Driver = strings.ToLower(v)
	}
	if v, ok := get("DATA_DIR"); ok {
		c.Gateway.SQLite.DataDir = v
	}
	if v, ok := get("REDIS_ADDR"); ok {
		c.Gateway.Redis.Addr = v
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		c.Gateway.Redis.Password = v
	}
	if v, ok := get("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("REDIS_DB", err)
		}
		c.Gateway.Redis.DB = n
	}
	if v, ok := get("RATE_LIMIT_RPS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return envError("RATE_LIMIT_RPS", err)
		}
		c.Gateway.RateLimit.RPS = f
	}
	if v, ok := get("GATEWAY_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("GATEWAY_TIMEOUT", err)
		}
		c.Gateway.Timeout = d
	}
	if v, ok := get("REFRESH_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("REFRESH_INTERVAL", err)
		}
		c.Scheduler.RefreshInterval = d
	}
	if v, ok := get("REFRESH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("REFRESH_TIMEOUT", err)
		}
		c.Scheduler.RefreshTimeout = d
	}
	if v, ok := get("SCHEDULER_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return envError("SCHEDULER_ENABLED", err)
		}
		c.Scheduler.Enabled = b
	}
	if v, ok := get("STRATEGY"); ok {
		c.Collections.Strategy = strings.ToLower(v)
	}
	if v, ok := get("SERVER_ADDR"); ok {
		c.Server.Addr = v
	}
	if v, ok := get("OTLP_ENDPOINT"); ok {
		c.Telemetry.OTLPEndpoint = v
		c.Telemetry.Enabled = true
	}
	return nil
}

func envError(name string, err error) error {
	return errors.Wrap(errors.ErrInvalid, fmt.Sprintf("environment %s%s", EnvPrefix, name), err)
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG", "INFO", "WARN", "ERROR":
	default:
		return errors.Newf(errors.ErrInvalid, "unknown log_level %q", c.LogLevel)
	}

	switch c.Gateway.Driver {
	case DriverSQLite:
		if c.Gateway.SQLite.DataDir == "" {
			return errors.New(errors.ErrInvalid, "gateway.sqlite.data_dir is required")
		}
	case DriverRedis:
		if c.Gateway.Redis.Addr == "" {
			return errors.New(errors.ErrInvalid, "gateway.redis.addr is required")
		}
	case DriverMemory:
	default:
		return errors.Newf(errors.ErrInvalid, "unknown gateway.driver %q", c.Gateway.Driver)
	}

	if c.Gateway.RateLimit.RPS > 0 && c.Gateway.RateLimit.Burst < 1 {
		return errors.New(errors.ErrInvalid, "gateway.rate_limit.burst must be at least 1")
	}
	if c.Gateway.Timeout < 0 {
		return errors.New(errors.ErrInvalid, "gateway.timeout must not be negative")
	}

	for kind, n := range c.Collections.PageSizes {
		if !kind.Valid() {
			return errors.Newf(errors.ErrInvalid, "unknown collection kind %q", kind)
		}
		if n <= 0 {
			return errors.Newf(errors.ErrInvalid, "page size for %s must be positive", kind)
		}
	}

	switch c.Collections.Strategy {
	case "", "server_wins", "optimistic_stands":
	default:
		return errors.Newf(errors.ErrInvalid, "unknown collections.strategy %q", c.Collections.Strategy)
	}
	if c.Collections.MaxPending < 0 {
		return errors.New(errors.ErrInvalid, "collections.max_pending must not be negative")
	}

	if c.Scheduler.Enabled && c.Scheduler.RefreshInterval <= 0 {
		return errors.New(errors.ErrInvalid, "scheduler.refresh_interval must be positive")
	}
	if c.Scheduler.RefreshTimeout < 0 {
		return errors.New(errors.ErrInvalid, "scheduler.refresh_timeout must not be negative")
	}
	if c.Server.Addr == "" {
		return errors.New(errors.ErrInvalid, "server.addr is required")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		return errors.New(errors.ErrInvalid, "telemetry.otlp_endpoint is required when telemetry is enabled")
	}
	return nil
}
