package engine

import (
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/scene"
)

// EntityView is a copy of an entity's state.
type EntityView struct {
	ID         ir.EntityID
	Anchor     ir.AnchorID
	Template   string
	Local      pose.Pose
	World      pose.Pose // the representation's current pose
	Version    uint64
	Data       []byte
	Remote     bool
	Registered bool
}

func (en *entity) view() EntityView {
	return EntityView{
		ID:         en.id,
		Anchor:     en.anchor,
		Template:   en.template,
		Local:      en.local,
		World:      en.rep.WorldPose(),
		Version:    en.version,
		Data:       cloneBytes(en.data),
		Remote:     en.remote,
		Registered: en.registered,
	}
}

// Entity returns a snapshot of one entity. Owner goroutine only.
func (e *Engine) Entity(id ir.EntityID) (EntityView, bool) {
	en, ok := e.entities.Get(id)
	if !ok {
		return EntityView{}, false
	}
	return en.view(), true
}

// Entities returns snapshots of every entity, ordered by id.
// Owner goroutine only.
func (e *Engine) Entities() []EntityView {
	ids := e.entityIDs()
	out := make([]EntityView, 0, len(ids))
	for _, id := range ids {
		en, _ := e.entities.Get(id)
		out = append(out, en.view())
	}
	return out
}

// Anchor returns a registered anchor. Owner goroutine only.
func (e *Engine) Anchor(id ir.AnchorID) (Anchor, bool) {
	return e.anchors.get(id)
}

// Anchors returns every registered anchor, ordered by id.
// Owner goroutine only.
func (e *Engine) Anchors() []Anchor {
	return e.anchors.all()
}

// OrphanCount returns how many entities wait for an anchor.
// Owner goroutine only.
func (e *Engine) OrphanCount() int {
	return e.orphans.len()
}

// IsOrphan reports whether id is buffered waiting for its anchor.
// Owner goroutine only.
func (e *Engine) IsOrphan(id ir.EntityID) bool {
	_, ok := e.orphans.get(id)
	return ok
}

// Representation returns the host object bound to id, so callers can move it
// the way a user would. Owner goroutine only.
func (e *Engine) Representation(id ir.EntityID) (scene.Representation, bool) {
	en, ok := e.entities.Get(id)
	if !ok {
		return nil, false
	}
	return en.rep, true
}
