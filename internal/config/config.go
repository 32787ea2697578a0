// Package config provides configuration management for hwang using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultStoreDriver   = "sqlite"
	defaultStoreDSN      = "hwang-index.db"
	defaultDecoderKind   = "auto"
	defaultDecodeDevice  = 0
	defaultReadChunkSize = 1024
	defaultStoreTimeout  = 30 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Decoder DecoderConfig `mapstructure:"decoder"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// StoreConfig holds the index cache configuration.
type StoreConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Driver  string        `mapstructure:"driver"` // sqlite
	DSN     string        `mapstructure:"dsn"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// DecoderConfig holds decoder selection configuration.
type DecoderConfig struct {
	Kind     string `mapstructure:"kind"` // auto, software, nvidia
	Device   int    `mapstructure:"device"`
	NumUnits int    `mapstructure:"num_units"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", defaultLogLevel)
	v.SetDefault("logging.format", defaultLogFormat)
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	v.SetDefault("store.enabled", false)
	v.SetDefault("store.driver", defaultStoreDriver)
	v.SetDefault("store.dsn", defaultStoreDSN)
	v.SetDefault("store.timeout", defaultStoreTimeout)

	v.SetDefault("decoder.kind", defaultDecoderKind)
	v.SetDefault("decoder.device", defaultDecodeDevice)
	v.SetDefault("decoder.num_units", 1)
}

// Load unmarshals and validates the configuration from viper.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	switch c.Decoder.Kind {
	case "auto", "software", "nvidia":
	default:
		return fmt.Errorf("invalid decoder.kind %q", c.Decoder.Kind)
	}
	if c.Store.Enabled && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn required when the index store is enabled")
	}
	return nil
}
