// Package config loads the daemon configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // APP_TIMEZONE on hosts without zoneinfo

	"github.com/caarlos0/env/v11"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App           AppConfig
	HTTP          HTTPConfig
	Storage       StorageConfig
	Scheduler     SchedulerConfig
	Playback      PlaybackConfig
	Redis         RedisConfig
	Database      DatabaseConfig
	Observability ObservabilityConfig
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string      `env:"APP_NAME" envDefault:"chronos"`
	Environment Environment `env:"APP_ENV" envDefault:"development"`
	Version     string      `env:"APP_VERSION" envDefault:"0.1.0"`

	// Timezone alarms and tasks are evaluated in. Empty means the host zone.
	Timezone string `env:"APP_TIMEZONE"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`
}

// HTTPConfig holds the REST and websocket listener settings.
type HTTPConfig struct {
	Host           string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port           int           `env:"HTTP_PORT" envDefault:"8000"`
	ReadTimeout    time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout   time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout    time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxUploadBytes int64         `env:"HTTP_MAX_UPLOAD_BYTES" envDefault:"20971520"`
	AllowedOrigins []string      `env:"HTTP_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// StorageConfig locates the record file and the sound library.
type StorageConfig struct {
	DataDir string `env:"DATA_DIR" envDefault:"./data"`
}

// RecordsPath is the JSON record file.
func (s StorageConfig) RecordsPath() string {
	return filepath.Join(s.DataDir, "records.json")
}

// SoundsDir holds custom sounds and their index.
func (s StorageConfig) SoundsDir() string {
	return filepath.Join(s.DataDir, "sounds")
}

// SchedulerConfig holds the evaluator tick settings.
type SchedulerConfig struct {
	AlarmTickInterval time.Duration `env:"ALARM_TICK_INTERVAL" envDefault:"1s"`
	TaskTickInterval  time.Duration `env:"TASK_TICK_INTERVAL" envDefault:"30s"`
	JobTimeout        time.Duration `env:"SCHEDULER_JOB_TIMEOUT" envDefault:"10s"`
}

// Playback backends.
const (
	BackendOto  = "oto"
	BackendNull = "null"
)

// PlaybackConfig selects the audio output.
type PlaybackConfig struct {
	Backend      string `env:"PLAYBACK_BACKEND" envDefault:"oto"`
	DefaultSound string `env:"DEFAULT_SOUND" envDefault:"Classic Beep"`
}

// RedisConfig holds the optional event relay settings. An empty URL disables
// the relay.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	Channel      string        `env:"REDIS_CHANNEL" envDefault:"chronos:events"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"4"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// Enabled reports whether the relay should be started.
func (r RedisConfig) Enabled() bool { return r.URL != "" }

// DatabaseConfig holds the optional firing history settings. An empty URL
// disables history; a sqlite:// URL selects the embedded backend.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxConns        int32         `env:"DB_MAX_CONNS" envDefault:"4"`
	MinConns        int32         `env:"DB_MIN_CONNS" envDefault:"1"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`
	ConnMaxIdleTime time.Duration `env:"DB_CONN_MAX_IDLE_TIME" envDefault:"30m"`
}

// Enabled reports whether history should be recorded.
func (d DatabaseConfig) Enabled() bool { return d.URL != "" }

// History backends.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Driver names the backend selected by the URL scheme, or "" when the scheme
// is not recognised.
func (d DatabaseConfig) Driver() string {
	scheme, _, ok := strings.Cut(d.URL, "://")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return DriverPostgres
	case "sqlite", "sqlite3":
		return DriverSQLite
	default:
		return ""
	}
}

// SQLitePath is the file path of a sqlite:// URL. sqlite:///var/x.db is
// absolute, sqlite://x.db is relative to the working directory.
func (d DatabaseConfig) SQLitePath() string {
	_, path, _ := strings.Cut(d.URL, "://")
	return path
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT"` // json or text; empty picks by environment
}

// Load loads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// LoadFrom loads configuration from vars instead of the process environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Playback.Backend = strings.ToLower(strings.TrimSpace(cfg.Playback.Backend))
	cfg.Observability.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Observability.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	switch c.App.Environment {
	case EnvDevelopment, EnvStaging, EnvProduction:
	default:
		errs = append(errs, fmt.Sprintf("APP_ENV %q is not one of development, staging, production", c.App.Environment))
	}
	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("APP_TIMEZONE %q is not a known zone", c.App.Timezone))
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		errs = append(errs, "HTTP_PORT must be 1-65535")
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		errs = append(errs, "HTTP_MAX_UPLOAD_BYTES must be positive")
	}

	if c.Storage.DataDir == "" {
		errs = append(errs, "DATA_DIR is required")
	}

	if c.Scheduler.AlarmTickInterval <= 0 {
		errs = append(errs, "ALARM_TICK_INTERVAL must be positive")
	}
	if c.Scheduler.AlarmTickInterval > time.Minute {
		errs = append(errs, "ALARM_TICK_INTERVAL must not exceed 1m or occurrences are missed")
	}
	if c.Scheduler.TaskTickInterval <= 0 {
		errs = append(errs, "TASK_TICK_INTERVAL must be positive")
	}

	switch c.Playback.Backend {
	case BackendOto, BackendNull:
	default:
		errs = append(errs, fmt.Sprintf("PLAYBACK_BACKEND %q must be oto or null", c.Playback.Backend))
	}

	if c.Redis.Enabled() && c.Redis.Channel == "" {
		errs = append(errs, "REDIS_CHANNEL is required when REDIS_URL is set")
	}

	if c.Database.Enabled() {
		switch c.Database.Driver() {
		case DriverPostgres:
			if c.Database.MinConns > c.Database.MaxConns {
				errs = append(errs, "DB_MIN_CONNS must not exceed DB_MAX_CONNS")
			}
		case DriverSQLite:
			if c.Database.SQLitePath() == "" {
				errs = append(errs, "DATABASE_URL sqlite:// needs a file path")
			}
		default:
			errs = append(errs, "DATABASE_URL must be a postgres:// or sqlite:// URL")
		}
	}

	if _, ok := logLevels[c.Observability.LogLevel]; !ok {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL %q must be debug, info, warn or error", c.Observability.LogLevel))
	}
	switch c.Observability.LogFormat {
	case "", "json", "text":
	default:
		errs = append(errs, "LOG_FORMAT must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// Location is the zone alarms are evaluated in.
func (c *Config) Location() *time.Location {
	if c.App.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level.
func (o ObservabilityConfig) SlogLevel() slog.Level {
	return logLevels[o.LogLevel]
}

// JSONLogs reports whether logs should be JSON. Unset format means JSON
// everywhere except development.
func (c *Config) JSONLogs() bool {
	if c.Observability.LogFormat != "" {
		return c.Observability.LogFormat == "json"
	}
	return !c.IsDevelopment()
}
