package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/config"
	"github.com/spf13/cobra"
)

// session is one loaded configuration together with the provider built from it.
type session struct {
	cfg   *config.Config
	rt    *config.Runtime
	store string
}

// loadConfig reads the config file and applies the persistent flag overrides.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		config.ApplyDefaults(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}
	if !o.verbose {
		cfg.Logging.NoTerminal = true
	}

	return cfg, nil
}

func (o *rootOptions) open(ctx context.Context, cfg *config.Config) (*session, error) {
	rt, err := config.BuildProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider: %w", err)
	}

	return &session{
		cfg:   cfg,
		rt:    rt,
		store: o.store,
	}, nil
}

// run loads the configuration, calls fn and shuts the provider down afterwards.
func (o *rootOptions) run(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) (err error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	s, err := o.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.close())
	}()

	return fn(ctx, s)
}

// close shuts the provider down, bounded by the configured shutdown timeout.
func (s *session) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	return s.rt.Provider.Shutdown(ctx)
}

func (s *session) provider() *cachefs.Provider {
	return s.rt.Provider
}

// rootURI returns the URI of the root directory of store.
func (s *session) rootURI(store string) string {
	return fmt.Sprintf("%s://%s/", s.cfg.Scheme, store)
}

// path resolves arg. URIs select their own store, everything else is
// parsed relative to the root of the default store.
func (s *session) path(ctx context.Context, arg string) (cachefs.Path, error) {
	if strings.Contains(arg, "://") {
		p, err := s.provider().Path(ctx, arg)
		if err != nil {
			return cachefs.Path{}, err
		}
		return p.Normalize(), nil
	}

	fs, err := s.provider().GetFileSystem(ctx, s.rootURI(s.store), true)
	if err != nil {
		return cachefs.Path{}, err
	}

	if arg == "" {
		arg = cachefs.Separator
	}
	p, err := fs.Path(arg)
	if err != nil {
		return cachefs.Path{}, err
	}

	return p.ToAbsolute().Normalize(), nil
}

// display returns the URI of p, or its plain path when the URI cannot be built.
func (s *session) display(ctx context.Context, p cachefs.Path) string {
	if p.FileSystem() != nil && p.FileSystem().StoreID() == s.store {
		return p.String()
	}

	u, err := p.ToURI(ctx)
	if err != nil {
		return p.String()
	}
	return u.String()
}

func (s *session) shutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout
}
