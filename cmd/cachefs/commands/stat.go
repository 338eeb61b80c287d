package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// StatResult describes one entry as printed by the stat command.
type StatResult struct {
	Name     string    `json:"name" yaml:"name"`
	URI      string    `json:"uri" yaml:"uri"`
	Type     string    `json:"type" yaml:"type"`
	Size     int64     `json:"size" yaml:"size"`
	Created  time.Time `json:"created" yaml:"created"`
	Modified time.Time `json:"modified" yaml:"modified"`
	Accessed time.Time `json:"accessed" yaml:"accessed"`
	FileKey  string    `json:"file_key" yaml:"file_key"`
	Hidden   bool      `json:"hidden" yaml:"hidden"`
}

func newStatCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stat <path...>",
		Short: "Display the attributes of files and directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := ParseFormat(output)
			if err != nil {
				return err
			}

			return opts.run(cmd, func(ctx context.Context, s *session) error {
				var results []StatResult
				for _, arg := range args {
					p, err := s.path(ctx, arg)
					if err != nil {
						return err
					}

					attrs, err := s.provider().ReadAttributes(ctx, p)
					if err != nil {
						return err
					}

					uri, err := p.ToURI(ctx)
					if err != nil {
						return err
					}

					results = append(results, StatResult{
						Name:     attrs.Name,
						URI:      uri.String(),
						Type:     entryType(attrs),
						Size:     attrs.Size,
						Created:  attrs.CreationTime,
						Modified: attrs.LastModifiedTime,
						Accessed: attrs.LastAccessTime,
						FileKey:  attrs.FileKey,
						Hidden:   s.provider().IsHidden(p),
					})
				}

				if format != FormatTable {
					return printStructured(cmd.OutOrStdout(), format, results)
				}

				for i, result := range results {
					if i > 0 {
						fmt.Fprintln(cmd.OutOrStdout())
					}
					printTable(cmd.OutOrStdout(), []string{"Field", "Value"}, [][]string{
						{"Name", result.Name},
						{"URI", result.URI},
						{"Type", result.Type},
						{"Size", fmt.Sprintf("%s (%d bytes)", humanize.IBytes(uint64(result.Size)), result.Size)},
						{"Created", formatTime(result.Created)},
						{"Modified", formatTime(result.Modified)},
						{"Accessed", formatTime(result.Accessed)},
						{"File Key", result.FileKey},
					})
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "Output format (table|json|yaml)")
	return cmd
}
