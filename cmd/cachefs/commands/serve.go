package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Mount every store and expose Prometheus metrics",
		Long: `Mount every configured store and serve Prometheus metrics until the
process is interrupted. Metrics are enabled regardless of the config file.

Examples:
  # Serve on the configured address
  cachefs serve

  # Serve on another address
  cachefs serve --metrics-address 127.0.0.1:9100`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			cfg.Metrics.Enabled = true
			if address != "" {
				cfg.Metrics.Address = address
			}
			for i := range cfg.Stores {
				cfg.Stores[i].Eager = true
			}

			ctx := cmd.Context()
			s, err := opts.open(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.close())
			}()

			return serve(ctx, s)
		},
	}

	cmd.Flags().StringVar(&address, "metrics-address", "", "listen address for /metrics (default: from config)")
	return cmd
}

func serve(ctx context.Context, s *session) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", s.rt.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok: %d stores mounted\n", len(s.provider().FileSystems()))
	})

	server := &http.Server{
		Addr:    s.cfg.Metrics.Address,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.rt.Logger.Info("Serving metrics on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()

		s.rt.Logger.Info("Shutting down metrics server")
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
