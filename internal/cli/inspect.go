package cli

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/anchorsync/internal/config"
	"github.com/roach88/anchorsync/internal/store"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Blobs    bool
}

// childRow is one tree child in inspect output.
type childRow struct {
	Path  string `json:"path"`
	Key   string `json:"key"`
	Seq   int64  `json:"seq"`
	Value string `json:"value"`
}

// blobRow is one blob in inspect output.
type blobRow struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [path]",
		Short: "List the cloud tree",
		Long: `List what the cloud tree holds.

With no path, lists every node path that has children. With a path, lists
that node's children in write order. --blobs lists stored blobs instead.

Examples:
  anchorsync inspect
  anchorsync inspect users/local/default/userdata/entities
  anchorsync inspect --blobs --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runInspect(opts, path, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", config.Default().DB, "path to SQLite database")
	cmd.Flags().BoolVar(&opts.Blobs, "blobs", false, "list blobs instead of tree nodes")

	return cmd
}

func runInspect(opts *InspectOptions, path string, cmd *cobra.Command) error {
	f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	return withStore(opts.Database, func(ctx context.Context, st *store.Store) error {
		switch {
		case opts.Blobs:
			return inspectBlobs(ctx, st, f)
		case path == "":
			paths, err := st.Paths(ctx)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list paths", err)
			}
			rows := make([][]string, 0, len(paths))
			for _, p := range paths {
				rows = append(rows, []string{p})
			}
			return f.Table([]string{"PATH"}, rows, paths)
		default:
			children, err := st.List(ctx, path)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to list children", err)
			}
			data := make([]childRow, 0, len(children))
			rows := make([][]string, 0, len(children))
			for _, c := range children {
				data = append(data, childRow{Path: c.Path, Key: c.Key, Seq: c.Seq, Value: string(c.Value)})
				rows = append(rows, []string{c.Key, strconv.FormatInt(c.Seq, 10), string(c.Value)})
			}
			return f.Table([]string{"KEY", "SEQ", "VALUE"}, rows, data)
		}
	})
}

func inspectBlobs(ctx context.Context, st *store.Store, f *OutputFormatter) error {
	names, err := st.Blobs(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list blobs", err)
	}
	data := make([]blobRow, 0, len(names))
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		size, err := st.BlobSize(ctx, n)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to stat blob", err)
		}
		data = append(data, blobRow{Name: n, Size: size})
		rows = append(rows, []string{n, strconv.FormatInt(size, 10)})
	}
	return f.Table([]string{"NAME", "SIZE"}, rows, data)
}
