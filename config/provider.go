package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/backend"
	"github.com/mwantia/cachefs/log"
	"github.com/mwantia/cachefs/metrics"
)

// Runtime bundles everything BuildProvider wires together.
type Runtime struct {
	Provider *cachefs.Provider
	Metrics  *metrics.Metrics
	Logger   *log.Logger
}

// BuildProvider creates a provider whose storage factory mounts the stores of
// cfg on first use. Stores marked eager are mounted before it returns.
func BuildProvider(ctx context.Context, cfg *Config) (*Runtime, error) {
	level, err := log.Parse(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := log.NewLogger("cachefs", level, cfg.Logging.File, cfg.Logging.NoTerminal)

	stores := make(map[string]StoreConfig, len(cfg.Stores))
	for _, store := range cfg.Stores {
		stores[store.ID] = store
	}

	factory := func(ctx context.Context, storeID string) (backend.Storage, error) {
		store, exists := stores[storeID]
		if !exists {
			return nil, fmt.Errorf("%w: no store configured for %s", cachefs.ErrFileSystemNotFound, storeID)
		}

		return CreateStorage(store, logger.Named(store.Type))
	}

	opts := []cachefs.ProviderOption{
		cachefs.WithLogger(logger),
		cachefs.WithScheme(cfg.Scheme),
		cachefs.WithStorageFactory(factory),
	}
	if cfg.CaseInsensitive {
		opts = append(opts, cachefs.WithCaseInsensitive())
	}

	rt := &Runtime{Logger: logger}
	if cfg.Metrics.Enabled {
		rt.Metrics = metrics.NewMetrics(nil)
		opts = append(opts, cachefs.WithObserver(rt.Metrics))
	}

	rt.Provider, err = cachefs.NewProvider(opts...)
	if err != nil {
		return nil, err
	}

	for _, store := range cfg.Stores {
		if !store.Eager {
			continue
		}

		uri := fmt.Sprintf("%s://%s/", cfg.Scheme, store.ID)
		if _, err := rt.Provider.GetFileSystem(ctx, uri, true); err != nil {
			return nil, errors.Join(
				fmt.Errorf("failed to mount store %s: %w", store.ID, err),
				rt.Provider.Shutdown(ctx))
		}
	}

	return rt, nil
}
