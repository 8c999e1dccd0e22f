// Package config loads and validates maintainer configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Library LibraryConfig `mapstructure:"library"`
	Store   StoreConfig   `mapstructure:"store"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Events  EventsConfig  `mapstructure:"events"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LibraryConfig locates the archives the maintainer manages.
type LibraryConfig struct {
	Root       string   `mapstructure:"root"`
	Extensions []string `mapstructure:"extensions"`
}

// StoreConfig selects and configures the persistence provider.
type StoreConfig struct {
	Provider    string `mapstructure:"provider"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// JobsConfig governs the batch executor.
type JobsConfig struct {
	Workers                  int `mapstructure:"workers"`
	RetentionHours           int `mapstructure:"retention_hours"`
	TerminalPublishAttempts  int `mapstructure:"terminal_publish_attempts"`
	TerminalPublishBackoffMs int `mapstructure:"terminal_publish_backoff_ms"`
	HousekeepingIntervalMin  int `mapstructure:"housekeeping_interval_minutes"`
	ShutdownTimeoutSeconds   int `mapstructure:"shutdown_timeout_seconds"`
}

// EventsConfig governs the broadcaster and the event stream endpoint.
type EventsConfig struct {
	BufferSize       int `mapstructure:"buffer_size"`
	SendTimeoutMs    int `mapstructure:"send_timeout_ms"`
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds"`
}

// WatchConfig governs the observer watchdog.
type WatchConfig struct {
	IntervalSeconds   int `mapstructure:"interval_seconds"`
	StaleAfterSeconds int `mapstructure:"stale_after_seconds"`
}

// CacheConfig governs rebuild coordination.
type CacheConfig struct {
	LockTimeoutMs   int `mapstructure:"lock_timeout_ms"`
	LeaseTTLSeconds int `mapstructure:"lease_ttl_seconds"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MAINTAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("library.root", ".")
	v.SetDefault("library.extensions", []string{".cbz"})
	v.SetDefault("store.provider", "sqlite")
	v.SetDefault("store.sqlite_path", "maintainer.db")
	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.retention_hours", 24)
	v.SetDefault("jobs.terminal_publish_attempts", 3)
	v.SetDefault("jobs.terminal_publish_backoff_ms", 250)
	v.SetDefault("jobs.housekeeping_interval_minutes", 10)
	v.SetDefault("jobs.shutdown_timeout_seconds", 30)
	v.SetDefault("events.buffer_size", 64)
	v.SetDefault("events.send_timeout_ms", 100)
	v.SetDefault("events.heartbeat_seconds", 30)
	v.SetDefault("watch.interval_seconds", 15)
	v.SetDefault("watch.stale_after_seconds", 60)
	v.SetDefault("cache.lock_timeout_ms", 100)
	v.SetDefault("cache.lease_ttl_seconds", 30)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.Workers <= 0 {
		return fmt.Errorf("jobs.workers must be > 0")
	}
	if c.Jobs.TerminalPublishAttempts <= 0 {
		return fmt.Errorf("jobs.terminal_publish_attempts must be > 0")
	}
	if c.Watch.IntervalSeconds <= 0 || c.Watch.StaleAfterSeconds <= 0 {
		return fmt.Errorf("watch intervals must be > 0")
	}
	if c.Watch.StaleAfterSeconds < c.Watch.IntervalSeconds {
		return fmt.Errorf("watch.stale_after_seconds must be >= watch.interval_seconds")
	}
	if c.Cache.LockTimeoutMs <= 0 {
		return fmt.Errorf("cache.lock_timeout_ms must be > 0")
	}
	switch c.Store.Provider {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set for the sqlite provider")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown store provider: %s", c.Store.Provider)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// TerminalPublishBackoff converts the backoff knob to a duration.
func (c Config) TerminalPublishBackoff() time.Duration {
	return time.Duration(c.Jobs.TerminalPublishBackoffMs) * time.Millisecond
}

// Retention converts the retention knob to a duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}
