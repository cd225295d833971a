package engine

import (
	"sort"

	"github.com/kamstrup/intmap"

	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

// Anchor is a registered reference frame.
type Anchor struct {
	ID      ir.AnchorID
	Pose    pose.Pose
	Session uint64 // zero when the source has no session notion
}

// anchorRegistry holds the known anchors. Owner goroutine only.
type anchorRegistry struct {
	m *intmap.Map[ir.AnchorID, Anchor]
}

func newAnchorRegistry() *anchorRegistry {
	return &anchorRegistry{m: intmap.New[ir.AnchorID, Anchor](64)}
}

// upsertResult tells the caller what kind of observation it was.
type upsertResult int

const (
	anchorNew upsertResult = iota
	anchorMoved
	anchorStale
)

// upsert stores the pose and reports whether the anchor is new, moved, or an
// observation from an older session that was ignored. For moves the previous
// pose is returned.
func (r *anchorRegistry) upsert(id ir.AnchorID, p pose.Pose, session uint64) (pose.Pose, upsertResult) {
	old, ok := r.m.Get(id)
	if !ok {
		r.m.Put(id, Anchor{ID: id, Pose: p, Session: session})
		return pose.Pose{}, anchorNew
	}
	if session < old.Session {
		return old.Pose, anchorStale
	}
	r.m.Put(id, Anchor{ID: id, Pose: p, Session: session})
	return old.Pose, anchorMoved
}

func (r *anchorRegistry) get(id ir.AnchorID) (Anchor, bool) {
	return r.m.Get(id)
}

func (r *anchorRegistry) has(id ir.AnchorID) bool {
	_, ok := r.m.Get(id)
	return ok
}

func (r *anchorRegistry) len() int {
	return r.m.Len()
}

func (r *anchorRegistry) clear() {
	r.m.Clear()
}

// all returns the anchors ordered by id.
func (r *anchorRegistry) all() []Anchor {
	out := make([]Anchor, 0, r.m.Len())
	r.m.ForEach(func(_ ir.AnchorID, a Anchor) bool {
		out = append(out, a)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
