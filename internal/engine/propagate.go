package engine

import (
	"time"

	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

// Thresholds bound the outbound pose-update rate.
type Thresholds struct {
	// Position is the translation delta in metres that counts as a move.
	Position float64
	// Rotation is the angular delta in degrees that counts as a move.
	Rotation float64
	// PollInterval is how often the pose monitor runs.
	PollInterval time.Duration
}

// DefaultThresholds matches the values native hosts ship with.
var DefaultThresholds = Thresholds{
	Position:     1e-3,
	Rotation:     1e-2,
	PollInterval: 250 * time.Millisecond,
}

// exceeded reports whether moving from a to b should be propagated.
func (t Thresholds) exceeded(a, b pose.Pose) bool {
	if pose.Distance(a, b) > t.Position {
		return true
	}
	return pose.AngleDegrees(a.Rotation, b.Rotation) > t.Rotation
}

// pollPoses is the pose monitor. A representation that still sits where the
// engine last put it is untouched, so applying a remote update never echoes
// back out.
func (e *Engine) pollPoses() {
	for _, id := range e.entityIDs() {
		en, _ := e.entities.Get(id)
		if !en.tracked() {
			continue
		}
		current := en.rep.WorldPose()
		if !e.thresholds.exceeded(en.lastApplied, current) {
			continue
		}
		if err := e.localTransformChanged(en, current); err != nil {
			e.log.Warn("local move not propagated", "entity", id, "error", err)
		}
	}
}

// localTransformChanged re-derives the local pose from world, bumps the
// version, and publishes.
func (e *Engine) localTransformChanged(en *entity, world pose.Pose) error {
	a, ok := e.anchors.get(en.anchor)
	if !ok {
		return newMissingAnchorError(en.id, en.anchor)
	}
	en.local = a.Pose.Inverse().Compose(world)
	en.version++
	en.lastApplied = world

	e.log.Debug("local move",
		"entity", en.id,
		"anchor", en.anchor,
		"version", en.version,
	)
	e.pub.PublishEntityPoseUpdate(en.record())
	return nil
}

// LocalTransformChanged propagates the representation's current world pose
// regardless of thresholds. Owner goroutine only.
func (e *Engine) LocalTransformChanged(id ir.EntityID) error {
	if e.shuttingDown {
		return e.shutdownError(id)
	}
	en, ok := e.entities.Get(id)
	if !ok {
		return newUnknownEntityError(id)
	}
	if !en.tracked() {
		// Not announced yet; registration carries the pose.
		return nil
	}
	return e.localTransformChanged(en, en.rep.WorldPose())
}

// SetAuxData replaces the payload and publishes it immediately. The version is
// not advanced. Owner goroutine only.
func (e *Engine) SetAuxData(id ir.EntityID, data []byte) error {
	if e.shuttingDown {
		return e.shutdownError(id)
	}
	en, ok := e.entities.Get(id)
	if !ok {
		return newUnknownEntityError(id)
	}
	en.data = cloneBytes(data)
	e.deliverData(en)
	if en.tracked() {
		e.pub.PublishEntityDataUpdate(en.record())
	}
	return nil
}
