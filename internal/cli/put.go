package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/anchorsync/internal/adapter/cloud"
	"github.com/roach88/anchorsync/internal/codec"
	"github.com/roach88/anchorsync/internal/config"
	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/store"
)

// PutOptions holds flags shared by the put subcommands.
type PutOptions struct {
	*RootOptions
	Database  string
	User      string
	Namespace string
}

// NewPutCommand creates the put command. Its subcommands write records the
// way another peer would, so a running engine picks them up.
func NewPutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PutOptions{RootOptions: rootOpts}
	def := config.Default()

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Write records into the cloud tree as a remote peer",
		Long: `Write space, anchor, entity and blob records into the cloud tree.

Poses are given as x,y,z in metres, relative to the record's parent:
anchors are relative to a visible node, entities to their anchor.

Examples:
  anchorsync put space 7 --session 1 --node 7@0,0,0
  anchorsync put anchor 42 --parent 7 --at 1,0,0
  anchorsync put entity 42 --template cube --version 1 --at 0,0.5,0
  anchorsync put blob MeshAnchor_1.gltf ./scan.gltf`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", def.DB, "path to SQLite database")
	cmd.PersistentFlags().StringVar(&opts.User, "user", def.User, "user the records belong to")
	cmd.PersistentFlags().StringVar(&opts.Namespace, "namespace", def.Namespace, "namespace under the user")

	cmd.AddCommand(newPutSpaceCommand(opts))
	cmd.AddCommand(newPutAnchorCommand(opts))
	cmd.AddCommand(newPutEntityCommand(opts))
	cmd.AddCommand(newPutBlobCommand(opts))

	return cmd
}

func newPutSpaceCommand(opts *PutOptions) *cobra.Command {
	var session uint64
	var nodes []string

	cmd := &cobra.Command{
		Use:           "space <id>",
		Short:         "Publish a session's visible nodes for a space",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseID(args[0]); err != nil {
				return err
			}
			vn := cloud.VisibleNodes{Nodes: make([]cloud.VisibleNode, 0, len(nodes))}
			for _, s := range nodes {
				n, err := parseNode(s)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid --node", err)
				}
				vn.Nodes = append(vn.Nodes, n)
			}
			raw, err := cloud.EncodeSpace(map[uint64]cloud.VisibleNodes{session: vn})
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode space", err)
			}
			return putChild(cmd, opts, func(p cloud.Paths) string { return p.Spaces }, args[0], raw)
		},
	}

	cmd.Flags().Uint64Var(&session, "session", 1, "session id; higher sessions replace lower ones")
	cmd.Flags().StringArrayVar(&nodes, "node", nil, "visible node, as id@x,y,z")
	return cmd
}

func newPutAnchorCommand(opts *PutOptions) *cobra.Command {
	var parent uint64
	var at string

	cmd := &cobra.Command{
		Use:           "anchor <id>",
		Short:         "Write an anchor relative to a visible node",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseID(args[0]); err != nil {
				return err
			}
			v, err := parseVec(at)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --at", err)
			}
			rec := cloud.AnchorRecord{
				Rnd:    nonce(),
				Parent: codec.Int64(parent),
				Pose:   codec.EncodePose(pose.New(v, pose.IdentityQuat)),
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode anchor", err)
			}
			return putChild(cmd, opts, func(p cloud.Paths) string { return p.Anchors }, args[0], raw)
		},
	}

	cmd.Flags().Uint64Var(&parent, "parent", 0, "visible node the pose is relative to")
	cmd.Flags().StringVar(&at, "at", "0,0,0", "position as x,y,z")
	return cmd
}

func newPutEntityCommand(opts *PutOptions) *cobra.Command {
	var (
		template string
		at       string
		version  uint64
		data     string
		deleted  bool
	)

	cmd := &cobra.Command{
		Use:           "entity <id>",
		Short:         "Write an entity relative to its anchor",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := parseID(args[0]); err != nil {
				return err
			}
			if template == "" && !deleted {
				return NewExitError(ExitCommandError, "--template is required")
			}
			v, err := parseVec(at)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --at", err)
			}
			rec := cloud.EntityRecord{
				Rnd:     nonce(),
				UserID:  template,
				Pose:    codec.EncodePose(pose.New(v, pose.IdentityQuat)),
				Version: codec.Int64(version),
				Size:    int64(len(data)),
				Deleted: deleted,
			}
			if data != "" {
				rec.Data = []byte(data)
			}
			raw, err := json.Marshal(rec)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to encode entity", err)
			}
			return putChild(cmd, opts, func(p cloud.Paths) string { return p.Entities }, args[0], raw)
		},
	}

	cmd.Flags().StringVar(&template, "template", "", "template the entity is built from")
	cmd.Flags().StringVar(&at, "at", "0,0,0", "position as x,y,z")
	cmd.Flags().Uint64Var(&version, "version", 0, "record version; peers ignore lower versions")
	cmd.Flags().StringVar(&data, "data", "", "auxiliary data")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "write a tombstone")
	return cmd
}

func newPutBlobCommand(opts *PutOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "blob <name> <file>",
		Short:         "Upload a scan mesh into the namespace's mesh folder",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[1])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read blob", err)
			}
			return withStore(opts.Database, func(ctx context.Context, st *store.Store) error {
				name := store.Join(cloud.NewPaths(opts.User, opts.Namespace).Meshes, args[0])
				if err := st.PutBlob(ctx, name, data); err != nil {
					return WrapExitError(ExitFailure, "failed to write blob", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", name, len(data))
				return nil
			})
		},
	}
}

// putChild writes one child under the folder picked from the namespace paths.
func putChild(cmd *cobra.Command, opts *PutOptions, folder func(cloud.Paths) string, key string, raw []byte) error {
	path := folder(cloud.NewPaths(opts.User, opts.Namespace))
	return withStore(opts.Database, func(ctx context.Context, st *store.Store) error {
		seq, err := st.Set(ctx, path, key, raw)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to write record", err)
		}
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if opts.Format == "json" {
			return f.Success(map[string]any{"path": path, "key": key, "seq": seq})
		}
		return f.Success(fmt.Sprintf("Wrote %s/%s (seq %d)", path, key, seq))
	})
}

// withStore opens the database for the duration of fn.
func withStore(path string, fn func(context.Context, *store.Store) error) error {
	st, err := store.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()
	return fn(context.Background(), st)
}

func nonce() int64 {
	return codec.Int64(engine.RandomIDs{}.NewID())
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, NewExitError(ExitCommandError, fmt.Sprintf("invalid id %q: want a positive integer", s))
	}
	return id, nil
}

// parseNode reads id@x,y,z.
func parseNode(s string) (cloud.VisibleNode, error) {
	idStr, coords, ok := strings.Cut(s, "@")
	if !ok {
		return cloud.VisibleNode{}, fmt.Errorf("node %q: want id@x,y,z", s)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return cloud.VisibleNode{}, fmt.Errorf("node %q: %w", s, err)
	}
	v, err := parseVec(coords)
	if err != nil {
		return cloud.VisibleNode{}, fmt.Errorf("node %q: %w", s, err)
	}
	return cloud.VisibleNode{ID: id, Pose: cloud.NewPose3(pose.New(v, pose.IdentityQuat))}, nil
}
