package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// TraceSnapshot captures the outbound trace of one scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Locals       []uint64     `json:"locals,omitempty"`
	Trace        []TraceEvent `json:"trace"`
	Orphans      int          `json:"orphans"`
}

// Snapshot renders the result as indented JSON. Struct field order keeps the
// output stable across runs.
func Snapshot(name string, result *Result) ([]byte, error) {
	s := TraceSnapshot{
		ScenarioName: name,
		Locals:       result.Locals,
		Trace:        result.Trace,
		Orphans:      result.Orphans,
	}
	if s.Trace == nil {
		s.Trace = []TraceEvent{}
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
