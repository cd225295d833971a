package harness

import (
	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/testutil"
)

// TraceEvent is one outbound publish made by the engine.
type TraceEvent struct {
	Seq      int    `json:"seq"`
	Step     int    `json:"step"` // index of the step that caused it
	Op       string `json:"op"`
	Entity   uint64 `json:"entity,omitempty"`
	Anchor   uint64 `json:"anchor,omitempty"`
	Template string `json:"template,omitempty"`
	Version  uint64 `json:"version,omitempty"`
	Pose     string `json:"pose,omitempty"`
	Data     string `json:"data,omitempty"`
}

func traceEvent(seq, step int, c testutil.Call) TraceEvent {
	ev := TraceEvent{Seq: seq, Step: step, Op: string(c.Op)}
	switch c.Op {
	case testutil.OpAnchor:
		ev.Anchor = uint64(c.Anchor)
		ev.Pose = testutil.FormatPose(c.Pose)
	case testutil.OpRemove:
		ev.Entity = uint64(c.Entity.ID)
		ev.Anchor = uint64(c.Entity.Anchor)
		ev.Version = c.Entity.Version
	case testutil.OpData:
		ev.Entity = uint64(c.Entity.ID)
		ev.Version = c.Entity.Version
		ev.Data = string(c.Entity.Data)
	default:
		ev.Entity = uint64(c.Entity.ID)
		ev.Anchor = uint64(c.Entity.Anchor)
		ev.Template = c.Entity.Template
		ev.Version = c.Entity.Version
		ev.Pose = testutil.FormatPose(c.Entity.Local)
		ev.Data = string(c.Entity.Data)
	}
	return ev
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall test success.
	Pass bool `json:"pass"`

	// Trace contains every outbound publish in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion and step failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Locals lists the ids assigned by add_local steps, in step order.
	Locals []uint64 `json:"locals,omitempty"`

	// Entities is the final graph, ordered by id.
	Entities []engine.EntityView `json:"-"`

	// Anchors is the final anchor registry, ordered by id.
	Anchors []engine.Anchor `json:"-"`

	// Orphans is how many entities still wait for an anchor.
	Orphans int `json:"orphans"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTrace appends publishes made while running step.
func (r *Result) addTrace(step int, calls []testutil.Call) {
	for _, c := range calls {
		r.Trace = append(r.Trace, traceEvent(len(r.Trace)+1, step, c))
	}
}

// entity finds an entity in the final graph.
func (r *Result) entity(id uint64) (engine.EntityView, bool) {
	for _, v := range r.Entities {
		if uint64(v.ID) == id {
			return v, true
		}
	}
	return engine.EntityView{}, false
}

// anchor finds an anchor in the final registry.
func (r *Result) anchor(id uint64) (engine.Anchor, bool) {
	for _, a := range r.Anchors {
		if uint64(a.ID) == id {
			return a, true
		}
	}
	return engine.Anchor{}, false
}
