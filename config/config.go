package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// Config represents the cachefs configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (CACHEFS_*)
//  2. Configuration file (YAML, JSON or JSONC)
//  3. Default values
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Scheme is the URI scheme handled by the provider, e.g. cache://store/a/b
	Scheme string `mapstructure:"scheme" validate:"required,alpha" yaml:"scheme"`

	// CaseInsensitive compares path names case-insensitively on every store
	CaseInsensitive bool `mapstructure:"case_insensitive" yaml:"case_insensitive"`

	// ShutdownTimeout bounds closing every store when the process exits
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Stores lists every store the provider can mount
	Stores []StoreConfig `mapstructure:"stores" validate:"unique=ID,dive" yaml:"stores"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR, FATAL (normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL" yaml:"level"`

	// File enables rotated log output to the given path
	File string `mapstructure:"file" yaml:"file,omitempty"`

	// NoTerminal disables colored terminal output
	NoTerminal bool `mapstructure:"no_terminal" yaml:"no_terminal"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Address the metrics endpoint listens on
	// Default: ":9090"
	Address string `mapstructure:"address" validate:"required_if=Enabled true" yaml:"address"`
}

// StoreConfig describes one store and the storage backing it.
type StoreConfig struct {
	// ID is the store id and the authority of its URIs
	ID string `mapstructure:"id" validate:"required,hostname_rfc1123" yaml:"id"`

	// Type selects the storage backend
	Type string `mapstructure:"type" validate:"required,oneof=memory local sqlite badger postgres s3 consul" yaml:"type"`

	// Eager mounts the store when the provider is built instead of on first use
	Eager bool `mapstructure:"eager" yaml:"eager,omitempty"`

	// Compression applied to new content: none, lz4 or zstd
	Compression string `mapstructure:"compression" validate:"omitempty,oneof=none lz4 zstd" yaml:"compression,omitempty"`

	// MaxObjectSize limits a single committed object, e.g. "64MiB"
	MaxObjectSize ByteSize `mapstructure:"max_object_size" yaml:"max_object_size,omitempty"`

	// Settings are decoded into the settings struct of the backend type
	Settings map[string]any `mapstructure:"settings" yaml:"settings,omitempty"`
}

// ByteSize is a size in bytes that accepts human-readable values like "512KiB".
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

func (b ByteSize) MarshalYAML() (any, error) {
	if b == 0 {
		return 0, nil
	}
	return b.String(), nil
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath searches the default location; a missing file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v, configPath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if !found {
		cfg.Stores = GetDefaultConfig().Stores
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Store settings may hold credentials
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: CACHEFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CACHEFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Environment variables only override keys viper knows about
	defaults := GetDefaultConfig()
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", defaults.Logging.File)
	v.SetDefault("logging.no_terminal", defaults.Logging.NoTerminal)
	v.SetDefault("scheme", defaults.Scheme)
	v.SetDefault("case_insensitive", defaults.CaseInsensitive)
	v.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)
	v.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	v.SetDefault("metrics.address", defaults.Metrics.Address)

	switch {
	case isJSONC(configPath):
		v.SetConfigType("json")
	case configPath != "":
		v.SetConfigFile(configPath)
	default:
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if isJSONC(configPath) {
		data, err := os.ReadFile(configPath)
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
			return false, fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
		return true, nil
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

func isJSONC(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".jsonc")
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings like "64MiB" and plain numbers to ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			size, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", v, err)
			}
			return ByteSize(size), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			// JSON numbers decode as float64
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/cachefs, ~/.config/cachefs or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "cachefs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "cachefs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
