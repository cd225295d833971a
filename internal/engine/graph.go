package engine

import (
	"errors"
	"sort"

	"github.com/kamstrup/intmap"

	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/scene"
)

// entity is one node of the graph.
type entity struct {
	id       ir.EntityID
	anchor   ir.AnchorID // zero until a local entity registers
	template string
	local    pose.Pose
	version  uint64
	data     []byte

	remote     bool // identity came from the network
	registered bool // local entity announced to the network

	rep scene.Representation

	// lastApplied is the world pose the engine last wrote to rep or last
	// propagated outbound. The pose monitor compares against it.
	lastApplied pose.Pose
}

// tracked reports whether changes to the entity are propagated.
func (en *entity) tracked() bool {
	return en.registered || en.remote
}

func (en *entity) record() ir.EntityRecord {
	return ir.EntityRecord{
		ID:       en.id,
		Anchor:   en.anchor,
		Template: en.template,
		Local:    en.local,
		Version:  en.version,
		Data:     cloneBytes(en.data),
	}
}

// upsertAnchor registers or moves an anchor.
//
// A new anchor replays its orphans. A moved anchor re-derives the world pose
// of every attached entity; local poses are untouched.
func (e *Engine) upsertAnchor(id ir.AnchorID, p pose.Pose, session uint64) {
	old, res := e.anchors.upsert(id, p, session)
	switch res {
	case anchorStale:
		e.log.Debug("anchor observation from older session ignored", "anchor", id, "session", session)

	case anchorNew:
		e.log.Debug("new anchor", "anchor", id, "session", session)
		for _, o := range e.orphans.take(id) {
			e.log.Debug("replaying orphan", "entity", o.rec.ID, "anchor", id, "seq", o.seq)
			e.onRemoteAdd(o.rec, o.seq)
		}

	case anchorMoved:
		delta := pose.Delta(old, p)
		ids := e.attachedTo(id)
		e.log.Debug("anchor moved",
			"anchor", id,
			"dx", delta.Position.X, "dy", delta.Position.Y, "dz", delta.Position.Z,
			"entities", len(ids),
		)
		for _, eid := range ids {
			if en, ok := e.entities.Get(eid); ok {
				e.applyWorld(en)
			}
		}
	}
}

// onRemoteAdd handles an entity-added event, including orphan replays.
func (e *Engine) onRemoteAdd(rec ir.EntityRecord, seq int64) {
	if !e.anchors.has(rec.Anchor) {
		if !e.orphans.put(rec, seq) {
			e.log.Debug("stale add for orphan ignored", "entity", rec.ID, "version", rec.Version)
			return
		}
		e.log.Debug("buffering orphan entity", "entity", rec.ID, "anchor", rec.Anchor, "seq", seq)
		return
	}
	if _, ok := e.entities.Get(rec.ID); ok {
		e.log.Debug("entity already exists, add ignored", "entity", rec.ID)
		return
	}

	rep, err := e.resolve(rec.ID, rec.Template)
	if err != nil {
		return
	}

	en := &entity{
		id:       rec.ID,
		anchor:   rec.Anchor,
		template: rec.Template,
		local:    rec.Local,
		version:  rec.Version,
		data:     cloneBytes(rec.Data),
		remote:   true,
		rep:      rep,
	}
	e.entities.Put(en.id, en)
	e.attach(en)
	e.applyWorld(en)
	e.deliverData(en)

	e.log.Info("remote entity added",
		"entity", en.id,
		"anchor", en.anchor,
		"template", en.template,
		"version", en.version,
	)
}

// onRemoteRemove handles an entity-removed event. Never publishes.
func (e *Engine) onRemoteRemove(id ir.EntityID) {
	if en, ok := e.entities.Get(id); ok {
		e.erase(en)
		e.log.Info("remote entity removed", "entity", id)
		return
	}
	if e.orphans.remove(id) {
		e.log.Debug("buffered orphan discarded", "entity", id)
	}
}

// onRemotePoseUpdate handles an entity pose update.
func (e *Engine) onRemotePoseUpdate(rec ir.EntityRecord, seq int64) {
	if en, ok := e.entities.Get(rec.ID); ok {
		e.updateAttached(en, rec, seq)
		return
	}

	if buffered, ok := e.orphans.get(rec.ID); ok {
		if rec.Version <= buffered.Version {
			e.log.Debug("stale pose update for orphan", "entity", rec.ID, "version", rec.Version, "have", buffered.Version)
			return
		}
		if rec.Anchor != 0 && rec.Anchor != buffered.Anchor && e.anchors.has(rec.Anchor) {
			// re-parented onto a known anchor: no longer an orphan
			e.orphans.remove(rec.ID)
			merged := buffered
			merged.Anchor = rec.Anchor
			merged.Local = rec.Local
			merged.Version = rec.Version
			if rec.Template != "" {
				merged.Template = rec.Template
			}
			if rec.Data != nil {
				merged.Data = rec.Data
			}
			e.onRemoteAdd(merged, seq)
			return
		}
		e.orphans.put(rec, seq)
		return
	}

	// Pose update before add: treat as an add.
	if rec.Anchor == 0 {
		e.log.Warn("pose update for unknown entity without anchor dropped", "entity", rec.ID)
		return
	}
	e.log.Debug("pose update for unknown entity, adding it", "entity", rec.ID)
	e.onRemoteAdd(rec, seq)
}

func (e *Engine) updateAttached(en *entity, rec ir.EntityRecord, seq int64) {
	if rec.Version <= en.version {
		e.log.Debug("stale pose update discarded", "entity", en.id, "version", rec.Version, "have", en.version)
		return
	}

	if rec.Anchor != 0 && rec.Anchor != en.anchor {
		if !e.anchors.has(rec.Anchor) {
			full := en.record()
			full.Anchor = rec.Anchor
			full.Local = rec.Local
			full.Version = rec.Version
			if rec.Template != "" {
				full.Template = rec.Template
			}
			if rec.Data != nil {
				full.Data = rec.Data
			}
			e.erase(en)
			e.log.Debug("entity moved to unseen anchor, buffering", "entity", en.id, "anchor", rec.Anchor)
			e.orphans.put(full, seq)
			return
		}
		e.detach(en)
		en.anchor = rec.Anchor
		e.attach(en)
	}

	if rec.Template != "" && rec.Template != en.template {
		rep, err := e.resolve(en.id, rec.Template)
		if err != nil {
			// Leave nothing half-built; a later event re-adds it.
			e.erase(en)
			return
		}
		en.rep.Destroy()
		en.rep = rep
		en.template = rec.Template
		e.log.Info("entity template changed", "entity", en.id, "template", en.template)
	}

	en.local = rec.Local
	en.version = rec.Version
	if rec.Data != nil {
		en.data = cloneBytes(rec.Data)
		e.deliverData(en)
	}
	e.applyWorld(en)
}

// onRemoteDataUpdate handles an auxiliary payload update. Data updates never
// advance the version.
func (e *Engine) onRemoteDataUpdate(rec ir.EntityRecord, seq int64) {
	if en, ok := e.entities.Get(rec.ID); ok {
		if rec.Version != 0 && rec.Version < en.version {
			e.log.Debug("stale data update discarded", "entity", en.id, "version", rec.Version, "have", en.version)
			return
		}
		en.data = cloneBytes(rec.Data)
		e.deliverData(en)
		return
	}
	if _, ok := e.orphans.get(rec.ID); ok {
		e.orphans.updateData(rec.ID, rec.Data)
		return
	}
	if rec.Anchor == 0 || !rec.Local.IsValid() {
		e.log.Debug("data update for unknown entity dropped", "entity", rec.ID)
		return
	}
	e.log.Debug("data update for unknown entity, adding it", "entity", rec.ID)
	e.onRemoteAdd(rec, seq)
}

func (e *Engine) resolve(id ir.EntityID, template string) (scene.Representation, error) {
	if template == "" {
		err := newTemplateError(id, template, scene.ErrUnknownTemplate)
		e.log.Warn("entity has an empty template, ignored", "entity", id)
		return nil, err
	}
	rep, err := e.resolver.Resolve(template)
	if err != nil {
		serr := newTemplateError(id, template, err)
		if errors.Is(err, scene.ErrAssetPending) {
			e.log.Debug("template asset pending", "entity", id, "template", template)
		} else {
			e.log.Warn("could not resolve template", "entity", id, "template", template, "error", err)
		}
		return nil, serr
	}
	if rep == nil {
		e.log.Warn("resolver returned no representation", "entity", id, "template", template)
		return nil, newTemplateError(id, template, scene.ErrUnknownTemplate)
	}
	return rep, nil
}

// applyWorld writes anchor ∘ local to the representation and records it for
// feedback suppression.
func (e *Engine) applyWorld(en *entity) {
	a, ok := e.anchors.get(en.anchor)
	if !ok {
		e.log.Warn("entity attached to unknown anchor", "error", newMissingAnchorError(en.id, en.anchor))
		return
	}
	world := a.Pose.Compose(en.local)
	en.rep.SetWorldPose(world)
	en.lastApplied = world
}

func (e *Engine) deliverData(en *entity) {
	if dr, ok := en.rep.(scene.DataReceiver); ok {
		dr.SetAuxData(en.data)
	}
}

// erase destroys the representation and forgets the entity. Never publishes.
func (e *Engine) erase(en *entity) {
	e.detach(en)
	e.entities.Del(en.id)
	en.rep.Destroy()
}

func (e *Engine) attach(en *entity) {
	if en.anchor == 0 {
		return
	}
	set, ok := e.attached.Get(en.anchor)
	if !ok {
		set = intmap.NewSet[ir.EntityID](4)
		e.attached.Put(en.anchor, set)
	}
	set.Add(en.id)
}

func (e *Engine) detach(en *entity) {
	set, ok := e.attached.Get(en.anchor)
	if !ok {
		return
	}
	set.Del(en.id)
	if set.Len() == 0 {
		e.attached.Del(en.anchor)
	}
}

// attachedTo returns the ids attached to anchor, ascending.
func (e *Engine) attachedTo(anchor ir.AnchorID) []ir.EntityID {
	set, ok := e.attached.Get(anchor)
	if !ok {
		return nil
	}
	ids := make([]ir.EntityID, 0, set.Len())
	set.ForEach(func(id ir.EntityID) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// entityIDs returns every entity id, ascending.
func (e *Engine) entityIDs() []ir.EntityID {
	ids := make([]ir.EntityID, 0, e.entities.Len())
	e.entities.ForEach(func(id ir.EntityID, _ *entity) bool {
		ids = append(ids, id)
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
