package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/log"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
stores:
  - id: cache1
    type: memory
    eager: true
    max_object_size: 64MiB
  - id: archive
    type: sqlite
    compression: ZSTD
    settings:
      dsn: ":memory:"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "DEBUG", cfg.Logging.Level)
	require.Equal(t, cachefs.DefaultScheme, cfg.Scheme)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Stores, 2)

	require.Equal(t, "cache1", cfg.Stores[0].ID)
	require.True(t, cfg.Stores[0].Eager)
	require.Equal(t, ByteSize(64<<20), cfg.Stores[0].MaxObjectSize)

	require.Equal(t, "zstd", cfg.Stores[1].Compression)
	require.Equal(t, ":memory:", cfg.Stores[1].Settings["dsn"])
}

func TestLoad_JSONC(t *testing.T) {
	path := writeConfig(t, "config.jsonc", `{
	// cache stores
	"scheme": "blob",
	"shutdown_timeout": "5s",
	"stores": [
		{"id": "cache1", "type": "badger", "settings": {"in_memory": true}, "max_object_size": 1024},
	],
}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "blob", cfg.Scheme)
	require.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Stores, 1)
	require.Equal(t, "badger", cfg.Stores[0].Type)
	require.Equal(t, ByteSize(1024), cfg.Stores[0].MaxObjectSize)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Len(t, cfg.Stores, 1)
	require.Equal(t, "default", cfg.Stores[0].ID)
	require.Equal(t, "memory", cfg.Stores[0].Type)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CACHEFS_SCHEME", "vault")
	t.Setenv("CACHEFS_LOGGING_LEVEL", "warn")
	t.Setenv("CACHEFS_METRICS_ENABLED", "true")

	path := writeConfig(t, "config.yaml", `
scheme: cache
stores:
  - id: cache1
    type: memory
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "vault", cfg.Scheme)
	require.Equal(t, "WARN", cfg.Logging.Level)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, ":9090", cfg.Metrics.Address)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(cfg *Config){
		"duplicate store ids": func(cfg *Config) {
			cfg.Stores = append(cfg.Stores, StoreConfig{ID: "default", Type: "memory"})
		},
		"unknown store type": func(cfg *Config) {
			cfg.Stores[0].Type = "floppy"
		},
		"unknown compression": func(cfg *Config) {
			cfg.Stores[0].Compression = "gzip"
		},
		"invalid store id": func(cfg *Config) {
			cfg.Stores[0].ID = "not a host"
		},
		"missing store id": func(cfg *Config) {
			cfg.Stores[0].ID = ""
		},
		"invalid log level": func(cfg *Config) {
			cfg.Logging.Level = "TRACE"
		},
		"invalid scheme": func(cfg *Config) {
			cfg.Scheme = "cache fs"
		},
	}

	require.NoError(t, Validate(GetDefaultConfig()))

	for name, mutate := range tests {
		t.Run(name, func(tst *testing.T) {
			cfg := GetDefaultConfig()
			mutate(cfg)
			require.Error(tst, Validate(cfg))
		})
	}
}

func TestSaveConfig(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Stores[0].MaxObjectSize = 512 << 10
	cfg.Stores = append(cfg.Stores, StoreConfig{
		ID:       "archive",
		Type:     "sqlite",
		Settings: map[string]any{"dsn": ":memory:"},
	})

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Stores, 2)
	require.Equal(t, ByteSize(512<<10), loaded.Stores[0].MaxObjectSize)
	require.Equal(t, ":memory:", loaded.Stores[1].Settings["dsn"])
}

func TestCreateStorage(t *testing.T) {
	logger := log.Discard()

	storage, err := CreateStorage(StoreConfig{ID: "cache1", Type: "memory"}, logger)
	require.NoError(t, err)
	require.Equal(t, "memory", storage.Name())

	storage, err = CreateStorage(StoreConfig{
		ID:          "cache1",
		Type:        "local",
		Compression: "lz4",
		Settings:    map[string]any{"path": t.TempDir()},
	}, logger)
	require.NoError(t, err)
	require.Equal(t, "local", storage.Name())

	_, err = CreateStorage(StoreConfig{ID: "cache1", Type: "sqlite"}, logger)
	require.ErrorContains(t, err, "DSN")

	_, err = CreateStorage(StoreConfig{
		ID:       "cache1",
		Type:     "badger",
		Settings: map[string]any{"in_memory": true, "inmemory": true},
	}, logger)
	require.ErrorContains(t, err, "inmemory")

	_, err = CreateStorage(StoreConfig{ID: "cache1", Type: "memory", Compression: "gzip"}, logger)
	require.Error(t, err)
}

func TestBuildProvider(t *testing.T) {
	ctx := t.Context()

	cfg := GetDefaultConfig()
	cfg.Logging.NoTerminal = true
	cfg.Metrics.Enabled = true
	cfg.Stores[0].Eager = true
	cfg.Stores = append(cfg.Stores, StoreConfig{
		ID:       "lazy",
		Type:     "sqlite",
		Settings: map[string]any{"dsn": ":memory:"},
	})
	require.NoError(t, Validate(cfg))

	rt, err := BuildProvider(ctx, cfg)
	require.NoError(t, err)
	defer rt.Provider.Shutdown(context.Background())

	require.NotNil(t, rt.Metrics)

	_, exists := rt.Provider.Lookup("default")
	require.True(t, exists, "eager store is not mounted")
	_, exists = rt.Provider.Lookup("lazy")
	require.False(t, exists, "lazy store is mounted early")

	path, err := rt.Provider.Path(ctx, "cache://lazy/a.txt")
	require.NoError(t, err)
	require.NoError(t, rt.Provider.WriteFile(ctx, path, []byte("hello")))

	content, err := rt.Provider.ReadFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))

	_, err = rt.Provider.GetFileSystem(ctx, "cache://unknown/", true)
	require.ErrorIs(t, err, cachefs.ErrFileSystemNotFound)
}

func TestValidateStore(t *testing.T) {
	require.NoError(t, ValidateStore(StoreConfig{ID: "cache1", Type: "memory"}))
	require.NoError(t, ValidateStore(StoreConfig{
		ID:       "cache1",
		Type:     "s3",
		Settings: map[string]any{"endpoint": "localhost:9000", "bucket": "cache", "use_ssl": "false"},
	}))

	require.Error(t, ValidateStore(StoreConfig{ID: "cache1", Type: "postgres"}))
	require.Error(t, ValidateStore(StoreConfig{ID: "cache1", Type: "floppy"}))
	require.Error(t, ValidateStore(StoreConfig{ID: "cache1", Type: "memory", Compression: "gzip"}))
}
