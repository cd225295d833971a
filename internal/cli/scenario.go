package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/anchorsync/internal/harness"
)

// Golden file states reported per scenario.
const (
	goldenNone     = "none"
	goldenMatch    = "match"
	goldenMismatch = "mismatch"
	goldenUpdated  = "updated"
)

var errLoad = errors.New("load error")

// scenarioRun is one scenario file executed against a fresh engine.
type scenarioRun struct {
	file     string
	scenario *harness.Scenario
	result   *harness.Result
	snapshot []byte
}

// runScenarioFile loads path and runs it. Load failures wrap errLoad.
func runScenarioFile(path string) (*scenarioRun, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errLoad, err)
	}
	result, err := harness.Run(scenario)
	if err != nil {
		return nil, fmt.Errorf("execution failed: %w", err)
	}
	snap, err := harness.Snapshot(scenario.Name, result)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot trace: %w", err)
	}
	return &scenarioRun{file: path, scenario: scenario, result: result, snapshot: snap}, nil
}

// name is the scenario's declared name.
func (r *scenarioRun) name() string {
	return r.scenario.Name
}

// publishes counts the trace by op, e.g. {"anchor": 1, "add": 2}.
func (r *scenarioRun) publishes() map[string]int {
	out := make(map[string]int)
	for _, ev := range r.result.Trace {
		out[ev.Op]++
	}
	return out
}

// golden compares the snapshot with the scenario's golden file, or rewrites
// it when update is set. A missing file reports goldenNone.
func (r *scenarioRun) golden(update bool) (string, error) {
	path := goldenFilePath(r.file)
	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return "", fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, r.snapshot, 0644); err != nil {
			return "", fmt.Errorf("failed to write golden file: %w", err)
		}
		return goldenUpdated, nil
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return goldenNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(want, r.snapshot) {
		return goldenMismatch, nil
	}
	return goldenMatch, nil
}

// goldenFilePath returns golden/<name>.golden next to the scenario file.
func goldenFilePath(scenarioFile string) string {
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(filepath.Dir(scenarioFile), "golden", name+".golden")
}

// findScenarioFiles lists .yaml and .yml files under dir, in lexical order,
// whose base name matches the glob filter.
func findScenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			if ok, _ := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext)); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
