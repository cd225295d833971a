package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/anchorsync/internal/adapter/cloud"
	"github.com/roach88/anchorsync/internal/asset"
	"github.com/roach88/anchorsync/internal/config"
	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/scene"
	"github.com/roach88/anchorsync/internal/store"
)

// flushTimeout bounds the final attempt to send queued writes on exit.
const flushTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	Space    uint64
	Place    []string // template@x,y,z
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sync with the cloud tree until interrupted",
		Long: `Start the engine against the cloud tree stored in a SQLite database.

The engine ticks at the configured cadence. Records written by other peers
(see "anchorsync put") are applied as they arrive, and local entities placed
with --place are published once a space is active. The config file, if any,
is watched and threshold changes apply without a restart.

Example:
  anchorsync run --db ./anchorsync.db
  anchorsync run --config ./anchorsync.yaml --space 7 --place cube@0,0,1`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to a YAML or CUE config file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides config)")
	cmd.Flags().Uint64Var(&opts.Space, "space", 0, "space to activate (overrides config; 0 picks the best)")
	cmd.Flags().StringArrayVar(&opts.Place, "place", nil, "place a local entity, as template@x,y,z")

	return cmd
}

// placement is a local entity requested on the command line.
type placement struct {
	template string
	world    pose.Pose
}

func parsePlacement(s string) (placement, error) {
	template, coords, ok := strings.Cut(s, "@")
	if !ok || template == "" {
		return placement{}, fmt.Errorf("placement %q: want template@x,y,z", s)
	}
	at, err := parseVec(coords)
	if err != nil {
		return placement{}, fmt.Errorf("placement %q: %w", s, err)
	}
	return placement{template: template, world: pose.New(at, pose.IdentityQuat)}, nil
}

func parseVec(s string) (pose.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return pose.Vec3{}, fmt.Errorf("want 3 comma-separated numbers, got %q", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return pose.Vec3{}, err
		}
		v[i] = f
	}
	return pose.Vec3{X: v[0], Y: v[1], Z: v[2]}, nil
}

func loadRunConfig(opts *RunOptions, cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return cfg, err
		}
	}
	if opts.Database != "" {
		cfg.DB = opts.Database
	}
	if cmd.Flags().Changed("space") {
		cfg.Space = opts.Space
	}
	return cfg, nil
}

func runSync(parent context.Context, opts *RunOptions, cmd *cobra.Command) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := loadRunConfig(opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	places := make([]placement, 0, len(opts.Place))
	for _, s := range opts.Place {
		p, err := parsePlacement(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --place", err)
		}
		places = append(places, p)
	}

	log := newLogger(cmd.ErrOrStderr(), cfg.Level(), opts.Verbose)

	log.Info("opening database", "path", cfg.DB)
	st, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	fetcher := asset.NewFetcher(cfg.FetchRetries, cfg.FetchDelay,
		asset.WithConcurrency(cfg.FetchConcurrency),
		asset.WithLogger(log),
	)
	defer fetcher.Close()

	ad := cloud.New(st, cloud.NewPaths(cfg.User, cfg.Namespace),
		cloud.WithLogger(log),
		cloud.WithStateHook(func(s cloud.ConnState) {
			log.Info("cloud connection", "state", s)
		}),
	)
	resolver := ad.Scans(scene.New(cfg.Templates...), asset.DiskCache{Dir: cfg.CacheDir}, fetcher)
	eng := engine.New(resolver,
		engine.WithPublisher(ad),
		engine.WithThresholds(cfg.Thresholds()),
		engine.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This goroutine owns the engine until Run starts and again after it returns.
	if err := ad.Connect(ctx, eng); err != nil {
		return WrapExitError(ExitFailure, "failed to connect", err)
	}
	for _, p := range places {
		id, err := eng.AddLocal(p.template, p.world, nil)
		if err != nil {
			log.Warn("placement failed", "template", p.template, "error", err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Placed %s as entity %d\n", p.template, id)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(gctx, cfg.Tick)
	})
	g.Go(func() error {
		return selectSpace(gctx, eng, ad, cfg.Space, cfg.Tick, log)
	})
	if opts.Config != "" {
		g.Go(func() error {
			return config.Watch(gctx, opts.Config, log, func(c config.Config) {
				eng.Post(func() { eng.SetThresholds(c.Thresholds()) })
			})
		})
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Syncing %s/%s from %s. Press Ctrl-C to stop.\n", cfg.User, cfg.Namespace, cfg.DB)
	runErr := g.Wait()

	eng.Shutdown()
	ad.Disconnect()

	fctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := ad.Flush(fctx); err != nil {
		log.Warn("unsent writes dropped", "pending", ad.Pending(), "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "sync error", runErr)
	}
	log.Info("sync stopped")
	return nil
}

// selectSpace activates want once it is known, or the space with the most
// visible nodes when want is zero. Returns once a space is active.
func selectSpace(ctx context.Context, eng *engine.Engine, ad *cloud.Adapter, want uint64, every time.Duration, log *slog.Logger) error {
	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-done:
			return nil
		case <-ticker.C:
			eng.Post(func() {
				if ad.ActiveSpace() != 0 {
					finish()
					return
				}
				id := pickSpace(ad.Spaces(), want)
				if id == 0 {
					return
				}
				if err := ad.SetActiveSpace(id); err != nil {
					log.Warn("could not activate space", "space", id, "error", err)
					return
				}
				finish()
			})
		}
	}
}

// pickSpace returns want if listed, or the first listed space with visible
// nodes when want is zero. Zero means nothing suitable yet.
func pickSpace(spaces []cloud.SpaceInfo, want uint64) uint64 {
	for _, s := range spaces {
		if want != 0 {
			if s.ID == want {
				return s.ID
			}
			continue
		}
		if s.Nodes > 0 {
			return s.ID
		}
	}
	return 0
}
