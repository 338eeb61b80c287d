// Package commands implements the cachefs command line.
package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	store      string
	logLevel   string
	verbose    bool
}

// NewRootCmd builds the command tree. Every call returns fresh flag state.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "cachefs",
		Short: "CacheFS - Transactional filesystem over key-value stores",
		Long: `CacheFS exposes key-value stores (memory, local directories, SQLite,
Badger, PostgreSQL, S3 and Consul) as hierarchical filesystems. Writes are staged in
transactions and only become visible once they were committed.

Paths are either URIs such as cache://archive/reports/a.txt or plain
paths, which are resolved against the store selected with --store.

Use "cachefs [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: $XDG_CONFIG_HOME/cachefs/config.yaml)")
	cmd.PersistentFlags().StringVarP(&opts.store, "store", "s", "default", "store used for paths without a scheme")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "print log output to the terminal")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newLsCmd(opts))
	cmd.AddCommand(newCatCmd(opts))
	cmd.AddCommand(newPutCmd(opts))
	cmd.AddCommand(newMkdirCmd(opts))
	cmd.AddCommand(newRmCmd(opts))
	cmd.AddCommand(newCpCmd(opts))
	cmd.AddCommand(newMvCmd(opts))
	cmd.AddCommand(newStatCmd(opts))
	cmd.AddCommand(newFindCmd(opts))
	cmd.AddCommand(newStoresCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))

	cmd.CompletionOptions.DisableDefaultCmd = true
	return cmd
}

// Execute runs the command tree until it completes or the process is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return NewRootCmd().ExecuteContext(ctx)
}
