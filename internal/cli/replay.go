package cli

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/anchorsync/internal/harness"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
}

// ReplayResult holds the outcome of replaying one scenario.
type ReplayResult struct {
	Scenario      string               `json:"scenario"`
	Trace         []harness.TraceEvent `json:"trace"`
	Locals        []uint64             `json:"locals,omitempty"`
	Orphans       int                  `json:"orphans"`
	Golden        string               `json:"golden"`
	Deterministic bool                 `json:"deterministic"`
	Pass          bool                 `json:"pass"`
	Errors        []string             `json:"errors,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <scenario.yaml>",
		Short: "Replay a scenario and print its publish trace",
		Long: `Run a scenario twice against fresh engines, print the publish trace and
verify both runs produced the same trace. If the scenario has a golden file,
the trace must also match it.

Exit codes:
  0 - Trace is deterministic and assertions passed
  1 - Runs differ or a check failed
  2 - Command error (scenario not found, invalid YAML, etc.)

Examples:
  anchorsync replay ./scenarios/orphan_replay.yaml
  anchorsync replay ./scenarios/orphan_replay.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	first, err := runScenarioFile(path)
	if errors.Is(err, errLoad) {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario cannot run", err)
	}
	second, err := runScenarioFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario cannot run", err)
	}
	golden, err := first.golden(false)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to check golden file", err)
	}

	result := ReplayResult{
		Scenario:      first.name(),
		Trace:         first.result.Trace,
		Locals:        first.result.Locals,
		Orphans:       first.result.Orphans,
		Golden:        golden,
		Deterministic: bytes.Equal(first.snapshot, second.snapshot),
		Pass:          first.result.Pass,
		Errors:        first.result.Errors,
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := f.Success(result); err != nil {
			return err
		}
	} else {
		printReplayText(cmd, result)
	}

	switch {
	case !result.Deterministic:
		return NewExitError(ExitFailure, "replay produced a different trace")
	case golden == goldenMismatch:
		return NewExitError(ExitFailure, "trace does not match golden file")
	case !result.Pass:
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(result.Errors)))
	}
	return nil
}

func printReplayText(cmd *cobra.Command, r ReplayResult) {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Scenario: %s\n", r.Scenario)
	if len(r.Locals) > 0 {
		fmt.Fprintf(w, "Locals: %v\n", r.Locals)
	}
	fmt.Fprintf(w, "Publishes: %d\n", len(r.Trace))
	for _, ev := range r.Trace {
		fmt.Fprintf(w, "  %s\n", formatTraceEvent(ev))
	}
	fmt.Fprintf(w, "Orphans: %d\n", r.Orphans)
	fmt.Fprintf(w, "Golden: %s\n", r.Golden)

	if r.Deterministic {
		fmt.Fprintln(w, "✓ Deterministic")
	} else {
		fmt.Fprintln(w, "✗ Non-deterministic: runs differ")
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

func formatTraceEvent(ev harness.TraceEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] step %d %s", ev.Seq, ev.Step, ev.Op)
	if ev.Entity != 0 {
		fmt.Fprintf(&b, " entity=%d", ev.Entity)
	}
	if ev.Anchor != 0 {
		fmt.Fprintf(&b, " anchor=%d", ev.Anchor)
	}
	if ev.Template != "" {
		fmt.Fprintf(&b, " template=%s", ev.Template)
	}
	if ev.Version != 0 {
		fmt.Fprintf(&b, " v%d", ev.Version)
	}
	if ev.Pose != "" {
		fmt.Fprintf(&b, " %s", ev.Pose)
	}
	if ev.Data != "" {
		fmt.Fprintf(&b, " data=%q", ev.Data)
	}
	return b.String()
}
