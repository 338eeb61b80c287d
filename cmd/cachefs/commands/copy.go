package commands

import (
	"context"
	"errors"

	"github.com/mwantia/cachefs"
	"github.com/spf13/cobra"
)

func newCpCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "cp <source> <target>",
		Short: "Copy a file or directory",
		Long: `Copy a file, or create an empty copy of a directory. A target that is an
existing directory receives the source under its own name. Source and
target may belong to different stores.

Examples:
  # Copy within the default store
  cachefs cp /reports/a.txt /backup/

  # Copy into another store, replacing an existing file
  cachefs cp --force /reports/a.txt cache://archive/a.txt`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				src, dst, err := transferPaths(ctx, s, args[0], args[1])
				if err != nil {
					return err
				}

				return s.provider().Copy(ctx, src, dst, copyOptions(force)...)
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing target")
	return cmd
}

func newMvCmd(opts *rootOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "mv <source> <target>",
		Short: "Move or rename a file or directory",
		Long: `Move a file or a directory with everything below it. Moves between
stores copy the content and delete the source afterwards.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.run(cmd, func(ctx context.Context, s *session) error {
				src, dst, err := transferPaths(ctx, s, args[0], args[1])
				if err != nil {
					return err
				}

				return s.provider().Move(ctx, src, dst, copyOptions(force)...)
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "replace an existing target")
	return cmd
}

func copyOptions(force bool) []cachefs.CopyOption {
	if force {
		return []cachefs.CopyOption{cachefs.ReplaceExisting()}
	}
	return nil
}

// transferPaths resolves source and target. An existing target directory
// is replaced by the entry of the same name inside of it.
func transferPaths(ctx context.Context, s *session, source, target string) (cachefs.Path, cachefs.Path, error) {
	src, err := s.path(ctx, source)
	if err != nil {
		return cachefs.Path{}, cachefs.Path{}, err
	}
	dst, err := s.path(ctx, target)
	if err != nil {
		return cachefs.Path{}, cachefs.Path{}, err
	}

	attrs, err := s.provider().ReadAttributes(ctx, dst)
	if errors.Is(err, cachefs.ErrNotExist) {
		return src, dst, nil
	}
	if err != nil {
		return cachefs.Path{}, cachefs.Path{}, err
	}

	if attrs.IsDirectory() && src.NameCount() > 0 {
		dst, err = dst.ResolveName(src.FileName().String())
		if err != nil {
			return cachefs.Path{}, cachefs.Path{}, err
		}
	}
	return src, dst, nil
}
