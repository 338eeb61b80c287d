package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/mwantia/cachefs"
	"github.com/mwantia/cachefs/aferofs"
	"github.com/spf13/cobra"
)

func newLsCmd(opts *rootOptions) *cobra.Command {
	var long, all bool

	cmd := &cobra.Command{
		Use:   "ls [path...]",
		Short: "List directory contents",
		Long: `List the committed entries of one or more directories.

Examples:
  # List the root of the default store
  cachefs ls

  # Long listing of another store
  cachefs ls -l cache://archive/reports`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{cachefs.Separator}
			}

			return opts.run(cmd, func(ctx context.Context, s *session) error {
				w := cmd.OutOrStdout()
				for i, arg := range args {
					if len(args) > 1 {
						if i > 0 {
							fmt.Fprintln(w)
						}
						fmt.Fprintf(w, "%s:\n", arg)
					}

					if err := list(ctx, s, w, arg, long, all); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&long, "long", "l", false, "use a long listing format")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include entries starting with a dot")
	return cmd
}

func list(ctx context.Context, s *session, w io.Writer, arg string, long, all bool) error {
	p, err := s.path(ctx, arg)
	if err != nil {
		return err
	}

	attrs, err := s.provider().ReadAttributes(ctx, p)
	if err != nil {
		return err
	}

	entries := []cachefs.Path{p}
	if attrs.IsDirectory() {
		ds, err := s.provider().NewDirectoryStream(ctx, p, nil)
		if err != nil {
			return err
		}
		entries = ds.Collect()
		ds.Close()

		slices.SortFunc(entries, cachefs.Path.Compare)
	}

	var rows [][]string
	for _, entry := range entries {
		if !all && s.provider().IsHidden(entry) {
			continue
		}

		entryAttrs, err := s.provider().ReadAttributes(ctx, entry)
		if err != nil {
			return err
		}

		name := entryAttrs.Name
		if entryAttrs.IsDirectory() {
			name += cachefs.Separator
		}

		if !long {
			fmt.Fprintln(w, name)
			continue
		}
		rows = append(rows, []string{
			entryType(entryAttrs),
			formatSize(entryAttrs),
			formatTime(entryAttrs.LastModifiedTime),
			name,
		})
	}

	if long {
		printTable(w, []string{"Type", "Size", "Modified", "Name"}, rows)
	}
	return nil
}

func newCatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cat <path...>",
		Short: "Print the content of files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				transfer := cachefs.NewBinaryTransfer(s.provider(), 0)
				for _, arg := range args {
					p, err := s.path(ctx, arg)
					if err != nil {
						return err
					}
					if _, err := transfer.Download(ctx, p, cmd.OutOrStdout()); err != nil {
						return fmt.Errorf("failed to read %s: %w", arg, err)
					}
				}
				return nil
			})
		},
	}
}

func newPutCmd(opts *rootOptions) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "put <path> [file]",
		Short: "Write a file from a local file or stdin",
		Long: `Replace the content of a file with a local file, or with stdin when no
file or "-" is given. The content only becomes visible once it was
written completely.

Examples:
  # Upload a local file
  cachefs put /reports/a.txt ./a.txt

  # Write stdin and create missing parent directories
  echo hello | cachefs put -p /notes/today.txt`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				p, err := s.path(ctx, args[0])
				if err != nil {
					return err
				}

				if parents && p.NameCount() > 1 {
					if err := aferofs.New(ctx, p.FileSystem()).MkdirAll(p.Parent().String(), 0755); err != nil {
						return err
					}
				}

				var r io.Reader = cmd.InOrStdin()
				if len(args) == 2 && args[1] != "-" {
					f, err := os.Open(args[1])
					if err != nil {
						return err
					}
					defer f.Close()
					r = f
				}

				n, err := cachefs.NewBinaryTransfer(s.provider(), 0).Upload(ctx, r, p)
				if err != nil {
					return fmt.Errorf("failed to write %s: %w", args[0], err)
				}

				s.rt.Logger.Info("Wrote %d bytes to %s", n, p.Key())
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create missing parent directories")
	return cmd
}

func newMkdirCmd(opts *rootOptions) *cobra.Command {
	var parents bool

	cmd := &cobra.Command{
		Use:   "mkdir <path...>",
		Short: "Create directories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				for _, arg := range args {
					p, err := s.path(ctx, arg)
					if err != nil {
						return err
					}

					if parents {
						err = aferofs.New(ctx, p.FileSystem()).MkdirAll(p.String(), 0755)
					} else {
						err = s.provider().CreateDirectory(ctx, p)
					}
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&parents, "parents", "p", false, "create parent directories as needed, existing directories are no error")
	return cmd
}

func newRmCmd(opts *rootOptions) *cobra.Command {
	var recursive, force bool

	cmd := &cobra.Command{
		Use:   "rm <path...>",
		Short: "Remove files and directories",
		Long: `Remove files and empty directories. Use --recursive to remove a
directory together with everything below it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				for _, arg := range args {
					p, err := s.path(ctx, arg)
					if err != nil {
						return err
					}
					if err := remove(ctx, s, p, recursive, force); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "remove directories and their contents")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "ignore missing paths")
	return cmd
}

func remove(ctx context.Context, s *session, p cachefs.Path, recursive, force bool) error {
	if !force {
		if err := s.provider().CheckAccess(ctx, p); err != nil {
			return err
		}
	}

	if recursive {
		return aferofs.New(ctx, p.FileSystem()).RemoveAll(p.String())
	}
	if force {
		_, err := s.provider().DeleteIfExists(ctx, p)
		return err
	}
	return s.provider().Delete(ctx, p)
}
