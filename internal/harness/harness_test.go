package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(strings.TrimSuffix(filepath.Base(path), ".yaml"), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_NilScenario(t *testing.T) {
	_, err := Run(nil)
	require.Error(t, err)
}

func TestRun_LocalIDsStartAtFirstID(t *testing.T) {
	scenario := mustParse(t, `
name: first_id
first_id: 7
steps:
  - add_local: {template: cube, at: [0, 0, 0]}
  - add_local: {template: cube, at: [1, 0, 0]}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 8}, result.Locals)
	assert.Empty(t, result.Trace, "nothing is announced before the engine is active")
	require.Len(t, result.Entities, 2)
	assert.False(t, result.Entities[0].Registered)
}

func TestRun_MoveUnknownEntityFails(t *testing.T) {
	scenario := mustParse(t, `
name: move_unknown
steps:
  - move: {entity: 5, at: [0, 0, 0]}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "entity 5 not in graph")
}

func TestRun_UnexpectedLocalError(t *testing.T) {
	scenario := mustParse(t, `
name: unexpected
templates: [cube]
steps:
  - add_local: {template: sphere, at: [0, 0, 0]}
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "unexpected error")
	assert.Contains(t, result.Errors[0], "UNKNOWN_TEMPLATE")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := mustParse(t, `
name: missing_error
steps:
  - add_local: {template: cube, at: [0, 0, 0]}
    expect_error: SHUTDOWN
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected SHUTDOWN, got no error")
}

func TestRun_StepAttribution(t *testing.T) {
	scenario := mustParse(t, `
name: attribution
steps:
  - add_local: {template: cube, at: [0, 0, 0]}
  - anchor: {id: 10, at: [0, 0, 0]}
  - status: active
`)
	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Trace, 2)
	for i, ev := range result.Trace {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, 2, ev.Step)
	}
	assert.Equal(t, "anchor", result.Trace[0].Op)
	assert.Equal(t, "add", result.Trace[1].Op)
}

func TestSnapshot_EmptyTrace(t *testing.T) {
	out, err := Snapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"scenario_name\": \"empty\",\n  \"trace\": [],\n  \"orphans\": 0\n}\n", string(out))
}

func mustParse(t *testing.T, src string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return s
}
