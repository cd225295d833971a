package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passingScenario = `name: place_cube
description: "A local cube is announced once the engine is active"
templates: [cube]
steps:
  - add_local: {template: cube, at: [1, 0, 0]}
  - status: active
assertions:
  - type: publish_order
    ops: [anchor, add]
`

const failingScenario = `name: wrong_count
description: "Expects a publish that never happens"
steps:
  - status: active
assertions:
  - type: publish_count
    op: add
    count: 1
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"/nonexistent/scenarios"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{t.TempDir()})

	err := cmd.Execute()
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{filepath.Join("..", "harness", "testdata", "scenarios")})

	err := cmd.Execute()
	require.NoError(t, err, buf.String())
	assert.Contains(t, buf.String(), "✓ orphan_replay")
	assert.Contains(t, buf.String(), "All scenarios passed")
}

func TestTestCommandFailure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "pass.yaml", passingScenario)
	writeScenario(t, dir, "fail.yaml", failingScenario)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "✓ place_cube")
	assert.Contains(t, buf.String(), "✗ wrong_count")
	assert.Contains(t, buf.String(), "1 passed, 1 failed, 2 total (2 publishes)")
}

func TestTestCommandFailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "fail.yaml", failingScenario)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "error", response.Status)
	assert.Equal(t, 1, response.Data.Failed)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
}

func TestTestCommandGoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "place_cube.yaml", passingScenario)

	update := NewTestCommand(&RootOptions{Format: "text"})
	buf := &bytes.Buffer{}
	update.SetOut(buf)
	update.SetArgs([]string{dir, "--update"})
	require.NoError(t, update.Execute())
	assert.Contains(t, buf.String(), "golden updated")

	golden, err := os.ReadFile(goldenFilePath(path))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "place_cube"`)

	compare := NewTestCommand(&RootOptions{Format: "text"})
	buf.Reset()
	compare.SetOut(buf)
	compare.SetArgs([]string{dir})
	require.NoError(t, compare.Execute())
	assert.Contains(t, buf.String(), "golden=match")

	// A stale golden file fails the run.
	require.NoError(t, os.WriteFile(goldenFilePath(path), []byte("{}\n"), 0644))
	stale := NewTestCommand(&RootOptions{Format: "text"})
	buf.Reset()
	stale.SetOut(buf)
	stale.SetArgs([]string{dir})
	err = stale.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "does not match golden file")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "broken.yaml", "name: broken\nsteps: []\n")

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, buf.String(), "load error")
}

func TestTestHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "scenarios-dir")
}

func TestTestCommandReportsPublishes(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "place_cube.yaml", passingScenario)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "✓ place_cube  publishes[add=1 anchor=1] locals=1 orphans=0 golden=none")
}

func TestTestCommandReportsPublishesJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "place_cube.yaml", passingScenario)

	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{dir})
	require.NoError(t, cmd.Execute())

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, 2, response.Data.Publishes)
	require.Len(t, response.Data.Scenarios, 1)
	sr := response.Data.Scenarios[0]
	assert.Equal(t, map[string]int{"anchor": 1, "add": 1}, sr.Publishes)
	assert.Equal(t, 1, sr.Locals)
	assert.Equal(t, goldenNone, sr.Golden)
}

func TestTestCommandInvalidFilter(t *testing.T) {
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{t.TempDir(), "--filter", "["})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "add=2 anchor=1 pose=3", formatCounts(map[string]int{"pose": 3, "anchor": 1, "add": 2}))
	assert.Equal(t, "", formatCounts(nil))
}
