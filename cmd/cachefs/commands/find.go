package commands

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/mwantia/cachefs"
	"github.com/spf13/cobra"
)

type findOptions struct {
	name      string
	match     string
	entryType string
}

func newFindCmd(opts *rootOptions) *cobra.Command {
	fo := &findOptions{}

	cmd := &cobra.Command{
		Use:   "find [path]",
		Short: "Search a directory tree",
		Long: `Walk a directory tree and print every entry that matches all filters.

--name takes a glob that is matched against the file name. --match takes
"glob:<pattern>" or "regex:<pattern>" and is matched against the full path.

Examples:
  # Every text file below /reports
  cachefs find /reports --name '*.txt'

  # Directories anywhere below 2024
  cachefs find --match 'glob:/**/2024/**' --type d`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := cachefs.Separator
			if len(args) == 1 {
				start = args[0]
			}
			if fo.entryType != "" && fo.entryType != "f" && fo.entryType != "d" {
				return fmt.Errorf("invalid type %q (valid: f, d)", fo.entryType)
			}

			return opts.run(cmd, func(ctx context.Context, s *session) error {
				root, err := s.path(ctx, start)
				if err != nil {
					return err
				}

				filter, err := fo.filter(root.FileSystem())
				if err != nil {
					return err
				}

				return walk(ctx, s, root, func(p cachefs.Path, attrs *cachefs.BasicAttributes) error {
					if (fo.entryType == "f" && attrs.IsDirectory()) || (fo.entryType == "d" && !attrs.IsDirectory()) {
						return nil
					}
					if filter(p) {
						return printPath(cmd.OutOrStdout(), s.display(ctx, p))
					}
					return nil
				})
			})
		},
	}

	cmd.Flags().StringVar(&fo.name, "name", "", "glob matched against the file name")
	cmd.Flags().StringVar(&fo.match, "match", "", "syntax:pattern matched against the full path")
	cmd.Flags().StringVar(&fo.entryType, "type", "", "only print files (f) or directories (d)")
	return cmd
}

// filter compiles the name and match flags into a single directory filter.
func (fo *findOptions) filter(fs *cachefs.FileSystem) (cachefs.DirectoryFilter, error) {
	var name, full cachefs.PathMatcher
	var err error

	if fo.name != "" {
		if name, err = fs.PathMatcher("glob:" + fo.name); err != nil {
			return nil, err
		}
	}
	if fo.match != "" {
		if full, err = fs.PathMatcher(fo.match); err != nil {
			return nil, err
		}
	}

	return func(p cachefs.Path) bool {
		if name != nil && !name.Matches(p.FileName()) {
			return false
		}
		return full == nil || full.Matches(p)
	}, nil
}

// walk calls fn for root and every entry below it, in sorted depth-first order.
func walk(ctx context.Context, s *session, root cachefs.Path, fn func(cachefs.Path, *cachefs.BasicAttributes) error) error {
	attrs, err := s.provider().ReadAttributes(ctx, root)
	if err != nil {
		return err
	}
	if err := fn(root, attrs); err != nil {
		return err
	}
	if !attrs.IsDirectory() {
		return nil
	}

	ds, err := s.provider().NewDirectoryStream(ctx, root, nil)
	if err != nil {
		return err
	}
	children := ds.Collect()
	ds.Close()

	slices.SortFunc(children, cachefs.Path.Compare)
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := walk(ctx, s, child, fn); err != nil {
			return err
		}
	}
	return nil
}

func printPath(w io.Writer, path string) error {
	_, err := fmt.Fprintln(w, path)
	return err
}
