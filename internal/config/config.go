// Package config loads applimitd's configuration from file and
// environment variables via spf13/viper (SPEC_FULL.md §4.11), mirroring
// the teacher's mapstructure-tagged section layout.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitaliisemenov/applimit/internal/core"
)

// Config is applimitd's top-level configuration.
type Config struct {
	Engine EngineConfig `mapstructure:"engine"`
	Server ServerConfig `mapstructure:"server"`
	Audit  AuditConfig  `mapstructure:"audit"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Log    LogConfig    `mapstructure:"log"`
}

// EngineConfig holds the Controller's injectable tunables (spec.md §6)
// plus the StatePool eviction knob added by SPEC_FULL.md §4.7.
type EngineConfig struct {
	MinTimeLimitMs     uint64 `mapstructure:"min_time_limit_ms"`
	MaxObserversPerUID int    `mapstructure:"max_observers_per_uid"`
	StateEvictionCap   int    `mapstructure:"state_eviction_cap"`
	// PrimaryUID is the uid this applimitd instance's notify/audit sinks
	// are wired for (see DESIGN.md's internal/notify entry: engine.Notifier
	// carries no per-call uid, so one running Controller is scoped to one
	// uid's sinks).
	PrimaryUID int32 `mapstructure:"primary_uid"`
}

// ServerConfig holds the API façade's HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuditConfig holds the SQLite audit store's file location.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// RedisConfig holds the optional Redis fan-out sink's connection settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LogConfig holds structured-logging output settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
	File   string `mapstructure:"file"`   // empty disables file rotation
}

// Load reads configPath (if non-empty and present) and environment
// variables (prefixed APPLIMIT_, nested fields joined with "_"), applying
// defaults for anything unset, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("applimit")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.min_time_limit_ms", 60_000)
	v.SetDefault("engine.max_observers_per_uid", 1000)
	v.SetDefault("engine.state_eviction_cap", 10_000)
	v.SetDefault("engine.primary_uid", 0)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.db_path", "/data/applimit-audit.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "applimit:notifications")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
}

// Validate checks invariants Load's defaults can't guarantee once a file
// or environment variable overrides them.
func (c *Config) Validate() error {
	if c.Engine.MinTimeLimitMs == 0 {
		return fmt.Errorf("engine.min_time_limit_ms must be positive")
	}
	if c.Engine.MaxObserversPerUID <= 0 {
		return fmt.Errorf("engine.max_observers_per_uid must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Audit.Enabled && c.Audit.DBPath == "" {
		return fmt.Errorf("audit.db_path required when audit.enabled is true")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr required when redis.enabled is true")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format: %q (must be json or text)", c.Log.Format)
	}
	return nil
}

// ToCoreConfig maps EngineConfig onto the Controller's hot-reloadable
// core.Config. StateEvictionCap is deliberately excluded: it only takes
// effect at Controller construction (engine.ControllerConfig), not through
// the atomic.Pointer UpdateConfig path.
func (c *Config) ToCoreConfig() core.Config {
	return core.Config{
		MinTimeLimitMs:     c.Engine.MinTimeLimitMs,
		MaxObserversPerUID: c.Engine.MaxObserversPerUID,
	}
}
