package ir

import (
	"errors"
	"fmt"

	"github.com/roach88/anchorsync/internal/pose"
)

// EntityRecord is the transferable state of an entity. It is the payload of
// inbound entity events and of every outbound entity publish.
type EntityRecord struct {
	ID       EntityID
	Anchor   AnchorID // zero means "unchanged" on pose updates
	Template string
	Local    pose.Pose // relative to the anchor
	Version  uint64
	Data     []byte
}

// EventKind distinguishes inbound events.
type EventKind int

const (
	EventAnchorObserved EventKind = iota + 1
	EventEntityAdded
	EventEntityRemoved
	EventEntityPoseUpdated
	EventEntityDataUpdated
	EventEngineStatus
)

var kindNames = map[EventKind]string{
	EventAnchorObserved:    "anchor_observed",
	EventEntityAdded:       "entity_added",
	EventEntityRemoved:     "entity_removed",
	EventEntityPoseUpdated: "entity_pose_updated",
	EventEntityDataUpdated: "entity_data_updated",
	EventEngineStatus:      "engine_status",
}

func (k EventKind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is an inbound event from either adapter. Only the fields relevant to
// Kind are set.
type Event struct {
	Kind EventKind

	// Seq is the receipt order stamped by the engine queue.
	Seq int64

	Anchor  AnchorID  // EventAnchorObserved
	Pose    pose.Pose // EventAnchorObserved
	Session uint64    // EventAnchorObserved; zero when the source has no sessions

	Entity EntityRecord // entity events

	State EngineState // EventEngineStatus
}

// AnchorObserved builds an anchor observation.
func AnchorObserved(id AnchorID, p pose.Pose) Event {
	return Event{Kind: EventAnchorObserved, Anchor: id, Pose: p}
}

// AnchorObservedInSession builds an anchor observation tagged with the
// session that produced it. Observations from an older session than the one
// already stored are ignored.
func AnchorObservedInSession(id AnchorID, p pose.Pose, session uint64) Event {
	return Event{Kind: EventAnchorObserved, Anchor: id, Pose: p, Session: session}
}

// EntityAdded builds an entity-added event.
func EntityAdded(rec EntityRecord) Event {
	return Event{Kind: EventEntityAdded, Entity: rec}
}

// EntityRemoved builds an entity-removed event.
func EntityRemoved(id EntityID) Event {
	return Event{Kind: EventEntityRemoved, Entity: EntityRecord{ID: id}}
}

// EntityPoseUpdated builds a pose update. rec.Anchor may be zero.
func EntityPoseUpdated(rec EntityRecord) Event {
	return Event{Kind: EventEntityPoseUpdated, Entity: rec}
}

// EntityDataUpdated builds an auxiliary payload update.
func EntityDataUpdated(id EntityID, data []byte) Event {
	return Event{Kind: EventEntityDataUpdated, Entity: EntityRecord{ID: id, Data: data}}
}

// EngineStatus builds a status transition.
func EngineStatus(s EngineState) Event {
	return Event{Kind: EventEngineStatus, State: s}
}

// Validate checks the fields required by Kind.
func (e Event) Validate() error {
	switch e.Kind {
	case EventAnchorObserved:
		if e.Anchor == 0 {
			return fmt.Errorf("%s: zero anchor id", e.Kind)
		}
		if err := checkPose(e.Pose); err != nil {
			return fmt.Errorf("%s: anchor %d: %w", e.Kind, e.Anchor, err)
		}
	case EventEntityAdded:
		if e.Entity.ID == 0 {
			return fmt.Errorf("%s: zero entity id", e.Kind)
		}
		if e.Entity.Anchor == 0 {
			return fmt.Errorf("%s: entity %d: zero anchor id", e.Kind, e.Entity.ID)
		}
		if err := checkPose(e.Entity.Local); err != nil {
			return fmt.Errorf("%s: entity %d: %w", e.Kind, e.Entity.ID, err)
		}
	case EventEntityPoseUpdated:
		if e.Entity.ID == 0 {
			return fmt.Errorf("%s: zero entity id", e.Kind)
		}
		if err := checkPose(e.Entity.Local); err != nil {
			return fmt.Errorf("%s: entity %d: %w", e.Kind, e.Entity.ID, err)
		}
	case EventEntityRemoved, EventEntityDataUpdated:
		if e.Entity.ID == 0 {
			return fmt.Errorf("%s: zero entity id", e.Kind)
		}
	case EventEngineStatus:
		if _, ok := stateNames[e.State]; !ok {
			return fmt.Errorf("%s: unknown state %d", e.Kind, int(e.State))
		}
	default:
		return fmt.Errorf("unknown event kind: %d", int(e.Kind))
	}
	return nil
}

func checkPose(p pose.Pose) error {
	if !p.IsFinite() {
		return errors.New("pose is not finite")
	}
	if !p.IsValid() {
		return errors.New("rotation has zero norm")
	}
	return nil
}
