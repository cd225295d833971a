package testutil

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

// Op names one outbound publish.
type Op string

const (
	OpAnchor Op = "anchor"
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpPose   Op = "pose"
	OpData   Op = "data"
)

// Call is one recorded publish.
type Call struct {
	Op     Op
	Anchor ir.AnchorID     // OpAnchor
	Pose   pose.Pose       // OpAnchor
	Entity ir.EntityRecord // entity ops
}

// RecordingPublisher implements engine.Publisher by remembering every call.
//
// Thread-safety: safe for concurrent use; the engine only calls it from the
// owner goroutine but tests read it from elsewhere.
type RecordingPublisher struct {
	mu    sync.Mutex
	calls []Call
}

// NewRecordingPublisher creates an empty recorder.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (r *RecordingPublisher) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Entity.Data = append([]byte(nil), c.Entity.Data...)
	r.calls = append(r.calls, c)
}

func (r *RecordingPublisher) PublishAnchor(id ir.AnchorID, p pose.Pose) {
	r.record(Call{Op: OpAnchor, Anchor: id, Pose: p})
}

func (r *RecordingPublisher) PublishEntityAdd(rec ir.EntityRecord) {
	r.record(Call{Op: OpAdd, Entity: rec})
}

func (r *RecordingPublisher) PublishEntityRemove(rec ir.EntityRecord) {
	r.record(Call{Op: OpRemove, Entity: rec})
}

func (r *RecordingPublisher) PublishEntityPoseUpdate(rec ir.EntityRecord) {
	r.record(Call{Op: OpPose, Entity: rec})
}

func (r *RecordingPublisher) PublishEntityDataUpdate(rec ir.EntityRecord) {
	r.record(Call{Op: OpData, Entity: rec})
}

// Calls returns a copy of everything recorded so far.
func (r *RecordingPublisher) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how many calls of kind op were recorded.
func (r *RecordingPublisher) Count(op Op) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Len returns the total number of calls.
func (r *RecordingPublisher) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Reset forgets every recorded call.
func (r *RecordingPublisher) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Trace renders the calls one per line for golden comparison. Floats are
// rounded to 6 decimals so platform noise never reaches the golden file.
func (r *RecordingPublisher) Trace() string {
	var b strings.Builder
	for _, c := range r.Calls() {
		b.WriteString(FormatCall(c))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatCall renders one call.
func FormatCall(c Call) string {
	switch c.Op {
	case OpAnchor:
		return fmt.Sprintf("anchor id=%d pose=%s", c.Anchor, FormatPose(c.Pose))
	case OpData:
		return fmt.Sprintf("data entity=%d version=%d data=%q", c.Entity.ID, c.Entity.Version, c.Entity.Data)
	case OpRemove:
		return fmt.Sprintf("remove entity=%d anchor=%d version=%d", c.Entity.ID, c.Entity.Anchor, c.Entity.Version)
	default:
		return fmt.Sprintf("%s entity=%d anchor=%d template=%s version=%d local=%s",
			c.Op, c.Entity.ID, c.Entity.Anchor, c.Entity.Template, c.Entity.Version, FormatPose(c.Entity.Local))
	}
}

// FormatPose renders a pose as [x y z | qx qy qz qw].
func FormatPose(p pose.Pose) string {
	return fmt.Sprintf("[%s %s %s | %s %s %s %s]",
		num(p.Position.X), num(p.Position.Y), num(p.Position.Z),
		num(p.Rotation.X), num(p.Rotation.Y), num(p.Rotation.Z), num(p.Rotation.W))
}

func num(v float64) string {
	r := math.Round(v*1e6)/1e6 + 0 // +0 folds -0 into 0
	return fmt.Sprintf("%g", r)
}
