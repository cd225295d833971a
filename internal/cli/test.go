package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name      string         `json:"name"`
	File      string         `json:"file"`
	Pass      bool           `json:"pass"`
	Publishes map[string]int `json:"publishes,omitempty"`
	Locals    int            `json:"locals"`
	Orphans   int            `json:"orphans"`
	Golden    string         `json:"golden,omitempty"`
	Errors    []string       `json:"errors,omitempty"`
}

// TestResult aggregates a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
	Publishes int              `json:"publishes"`
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run sync scenarios",
		Long: `Run every scenario file in a directory against a fresh engine.

Each scenario's assertions are checked and its publish trace is compared
with golden/<name>.golden next to the scenario, when that file exists. Per
scenario, the publishes by op, local entities and leftover orphans are
reported.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  anchorsync test ./scenarios
  anchorsync test ./scenarios --filter "orphan*"
  anchorsync test ./scenarios --update
  anchorsync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if _, err := os.Stat(dir); err != nil {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}

	text := opts.Format != "json"
	w := cmd.OutOrStdout()
	if len(files) == 0 && text {
		fmt.Fprintln(w, "No scenarios found.")
		return nil
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	for _, file := range files {
		sr := checkScenario(file, opts.Update)
		result.Scenarios = append(result.Scenarios, sr)
		for _, n := range sr.Publishes {
			result.Publishes += n
		}
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		if text {
			printScenario(w, sr)
		}
	}

	var failed error
	if result.Failed > 0 {
		failed = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	if !text {
		resp := CLIResponse{Status: "ok", Data: result}
		if failed != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: failed.Error()}
		}
		f := &OutputFormatter{Format: "json", Writer: w}
		if err := f.encode(resp); err != nil {
			return err
		}
		return failed
	}

	fmt.Fprintf(w, "\nScenarios: %d passed, %d failed, %d total (%d publishes)\n",
		result.Passed, result.Failed, result.Total, result.Publishes)
	if failed == nil {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
	return failed
}

// checkScenario runs one file and folds assertions and the golden trace
// into a single verdict.
func checkScenario(file string, update bool) ScenarioResult {
	run, err := runScenarioFile(file)
	if err != nil {
		return ScenarioResult{Name: filepath.Base(file), File: file, Errors: []string{err.Error()}}
	}

	sr := ScenarioResult{
		Name:      run.name(),
		File:      file,
		Pass:      run.result.Pass,
		Publishes: run.publishes(),
		Locals:    len(run.result.Locals),
		Orphans:   run.result.Orphans,
		Errors:    run.result.Errors,
	}

	state, err := run.golden(update)
	switch {
	case err != nil:
		sr.Pass = false
		sr.Errors = append(sr.Errors, err.Error())
	case state == goldenMismatch:
		sr.Pass = false
		sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
	}
	sr.Golden = state
	return sr
}

func printScenario(w io.Writer, sr ScenarioResult) {
	mark := "✓"
	if !sr.Pass {
		mark = "✗"
	}
	if sr.Golden == "" {
		fmt.Fprintf(w, "%s %s\n", mark, sr.Name)
	} else {
		fmt.Fprintf(w, "%s %s  publishes[%s] locals=%d orphans=%d golden=%s\n",
			mark, sr.Name, formatCounts(sr.Publishes), sr.Locals, sr.Orphans, sr.Golden)
	}
	for _, e := range sr.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// formatCounts renders counts as "add=1 anchor=1", keys sorted.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, counts[k])
	}
	return strings.Join(parts, " ")
}
