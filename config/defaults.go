package config

import (
	"strings"
	"time"

	"github.com/mwantia/cachefs"
)

// ApplyDefaults replaces zero values with defaults. Explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)

	if cfg.Scheme == "" {
		cfg.Scheme = cachefs.DefaultScheme
	}
	cfg.Scheme = strings.ToLower(cfg.Scheme)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	for i := range cfg.Stores {
		applyStoreDefaults(&cfg.Stores[i])
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Level == "WARNING" {
		cfg.Level = "WARN"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Address == "" {
		cfg.Address = ":9090"
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	cfg.Type = strings.ToLower(cfg.Type)
	cfg.Compression = strings.ToLower(cfg.Compression)

	if cfg.Settings == nil {
		cfg.Settings = make(map[string]any)
	}
}

// GetDefaultConfig returns a configuration with a single in-memory store.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Stores: []StoreConfig{
			{
				ID:   "default",
				Type: "memory",
			},
		},
	}
	ApplyDefaults(cfg)

	return cfg
}
