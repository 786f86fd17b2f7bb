// Package config loads and validates l9pd's runtime configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (L9P_*)
//  2. Configuration file (YAML or TOML, viper auto-detects)
//  3. Default values
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete server configuration.
type Config struct {
	// Listen is the transport endpoint the acceptor listens on, in
	// <scheme>!<address>!<port> form (see internal/addr).
	Listen string `mapstructure:"listen" validate:"required"`

	// MsizeCeiling bounds the msize a client can negotiate up to.
	MsizeCeiling uint32 `mapstructure:"msize_ceiling" validate:"min=8192"`

	// MaxWalkDepth caps how deep a single fid's resolved path may go before
	// Twalk fails with ELOOP. Nil means unlimited.
	MaxWalkDepth *uint32 `mapstructure:"max_walk_depth"`

	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Backend BackendConfig `mapstructure:"backend"`

	// MaxConnections caps concurrent connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ShutdownTimeout bounds how long the acceptor waits for active
	// connections to finish during graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`
}

// LoggingConfig controls the leveled logger.
type LoggingConfig struct {
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
}

// MetricsConfig controls the Prometheus exporter.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// BackendConfig selects and configures the filesystem back-end.
type BackendConfig struct {
	// Type is "memfs" (volatile, the default) or "badger" (persistent).
	Type string `mapstructure:"type" validate:"required,oneof=memfs badger"`

	// Dir is the badger database directory; required when Type is
	// "badger", ignored otherwise.
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from configPath (if non-empty), the environment,
// and defaults, then validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := readConfigFile(v, configPath); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// setupViper wires environment-variable and config-file discovery.
//
// Environment variables use the L9P_ prefix with underscores in place of
// dots, e.g. L9P_LOGGING_LEVEL=DEBUG maps to Logging.Level. Every key is
// bound explicitly so Unmarshal sees an environment value even when neither
// the file nor a default sets that key.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("L9P")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"listen", "msize_ceiling", "max_walk_depth", "max_connections", "shutdown_timeout",
		"logging.level", "metrics.enabled", "metrics.listen", "backend.type", "backend.dir",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.SetConfigName("l9p")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper, configPath string) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read file: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = "tcp!0.0.0.0!564"
	}
	if cfg.MsizeCeiling == 0 {
		cfg.MsizeCeiling = 64 * 1024
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Backend.Type == "" {
		cfg.Backend.Type = "memfs"
	}
}
