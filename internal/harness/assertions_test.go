package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

func sampleResult() *Result {
	r := NewResult()
	r.Trace = []TraceEvent{
		{Seq: 1, Op: "anchor", Anchor: 100},
		{Seq: 2, Op: "add", Entity: 100, Anchor: 100},
		{Seq: 3, Op: "pose", Entity: 100, Anchor: 100, Version: 1},
		{Seq: 4, Op: "pose", Entity: 7, Anchor: 10, Version: 2},
	}
	r.Entities = []engine.EntityView{{
		ID:       7,
		Anchor:   10,
		Template: "cube",
		Local:    pose.New(pose.Vec3{X: 1}, pose.IdentityQuat),
		World:    pose.New(pose.Vec3{X: 1, Y: 2}, pose.IdentityQuat),
		Version:  2,
		Data:     []byte("hi"),
		Remote:   true,
	}}
	r.Anchors = []engine.Anchor{{ID: ir.AnchorID(10), Pose: pose.New(pose.Vec3{Y: 2}, pose.IdentityQuat)}}
	r.Orphans = 1
	return r
}

func TestEvaluateAssertion_Passing(t *testing.T) {
	r := sampleResult()
	tests := []Assertion{
		{Type: AssertPublishCount, Op: "pose", Count: 2},
		{Type: AssertPublishCount, Op: "pose", Entity: 7, Count: 1},
		{Type: AssertPublishCount, Op: "remove", Count: 0},
		{Type: AssertPublishOrder, Ops: []string{"anchor", "pose"}},
		{Type: AssertPublishOrder, Ops: []string{"add", "pose", "pose"}},
		{Type: AssertEntity, Entity: 7, Expect: map[string]any{
			"anchor":   10,
			"template": "cube",
			"version":  2,
			"data":     "hi",
			"remote":   true,
			"world":    []any{1, 2.0, 0},
			"local":    []any{1, 0, 0},
		}},
		{Type: AssertAbsent, Entity: 8},
		{Type: AssertOrphans, Count: 1},
		{Type: AssertAnchor, Anchor: 10, At: []float64{0, 2, 0}},
	}
	for _, a := range tests {
		assert.NoError(t, evaluateAssertion(r, a), "%+v", a)
	}
}

func TestEvaluateAssertion_Failing(t *testing.T) {
	r := sampleResult()
	tests := []struct {
		assertion Assertion
		want      string
	}{
		{Assertion{Type: AssertPublishCount, Op: "add", Count: 2}, "published 1 times"},
		{Assertion{Type: AssertPublishOrder, Ops: []string{"pose", "add"}}, "missing add"},
		{Assertion{Type: AssertEntity, Entity: 9, Expect: map[string]any{"version": 1}}, "not found"},
		{Assertion{Type: AssertEntity, Entity: 7, Expect: map[string]any{"version": 3}}, "version: expected 3, got 2"},
		{Assertion{Type: AssertEntity, Entity: 7, Expect: map[string]any{"world": []any{1, 2, 1}}}, "world: expected"},
		{Assertion{Type: AssertEntity, Entity: 7, Expect: map[string]any{"colour": "red"}}, "colour: unknown field"},
		{Assertion{Type: AssertEntity, Entity: 7, Expect: map[string]any{"registered": true}}, "registered: expected true"},
		{Assertion{Type: AssertAbsent, Entity: 7}, "present"},
		{Assertion{Type: AssertOrphans, Count: 0}, "1 orphans"},
		{Assertion{Type: AssertAnchor, Anchor: 11, At: []float64{0, 0, 0}}, "not found"},
		{Assertion{Type: AssertAnchor, Anchor: 10, At: []float64{0, 0, 0}}, "at: expected"},
	}
	for _, tt := range tests {
		err := evaluateAssertion(r, tt.assertion)
		require.Error(t, err, "%+v", tt.assertion)
		assert.Contains(t, err.Error(), tt.want)
	}
}

func TestAssertionError_IncludesTrace(t *testing.T) {
	err := &AssertionError{
		Type:     AssertPublishCount,
		Expected: "add published 2 times",
		Actual:   "published 1 times",
		Trace:    []TraceEvent{{Seq: 1, Step: 3, Op: "add", Entity: 100, Anchor: 100}},
	}
	msg := err.Error()
	assert.Contains(t, msg, "Assertion failed: publish_count")
	assert.Contains(t, msg, "[1] step=3 add entity=100 anchor=100 version=0")
}
