package commands

import (
	"strconv"

	"github.com/spf13/cobra"
)

func newStoresCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stores",
		Short: "List the configured stores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(cfg.Stores))
			for _, store := range cfg.Stores {
				compression, maxSize := store.Compression, "-"
				if compression == "" {
					compression = "none"
				}
				if store.MaxObjectSize > 0 {
					maxSize = store.MaxObjectSize.String()
				}

				rows = append(rows, []string{
					store.ID,
					store.Type,
					compression,
					maxSize,
					strconv.FormatBool(store.Eager),
					cfg.Scheme + "://" + store.ID + "/",
				})
			}

			printTable(cmd.OutOrStdout(), []string{"ID", "Type", "Compression", "Max Object Size", "Eager", "URI"}, rows)
			return nil
		},
	}
}
