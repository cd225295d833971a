// Package native adapts the on-device mapping engine to the sync engine.
//
// The native engine calls back on its own threads; every callback is turned
// into an ir.Event and enqueued, never applied directly. Outbound publishes
// are direct Bridge calls. Native entities carry no id of their own: an
// entity is identified by its parent anchor, so entity id == anchor id.
package native

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/anchorsync/internal/codec"
	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
)

// MaxDataSize is the payload capacity of a native entity.
const MaxDataSize = 512

// State is the native engine's lifecycle code.
type State int32

const (
	StateUninitialized State = -1
	StateInit          State = 0
	StateMapping       State = 1
	StateStopping      State = 2
	StateStopped       State = 3
)

var stateMap = map[State]ir.EngineState{
	StateUninitialized: ir.StateUninitialized,
	StateInit:          ir.StateInitializing,
	StateMapping:       ir.StateActive,
	StateStopping:      ir.StateStopping,
	StateStopped:       ir.StateStopped,
}

// Entity is an entity as the native engine reports it.
type Entity struct {
	Key    string // template id
	Parent uint64 // anchor id, also the entity's identity
	Pose   []byte // codec.MarshalPose layout, relative to Parent
	Data   []byte
}

// Bridge is the outbound half of the native boundary. Poses use the
// codec.MarshalPose layout.
type Bridge interface {
	AddAnchor(id uint64, pose []byte) error
	AddEntity(parent uint64, key string, pose []byte, data []byte) error
	RemoveEntity(parent uint64) error
	UpdateEntityPose(parent uint64, pose []byte) error
	UpdateEntityData(parent uint64, data []byte) error
}

// Callbacks is the event surface the native engine drives.
type Callbacks interface {
	OnAnchor(id uint64, pose []byte)
	OnEntityAdded(ent Entity)
	OnEntityRemoved(ent Entity)
	OnEntityPoseUpdated(ent Entity)
	OnEntityDataUpdated(ent Entity)
	OnStatus(s State)
}

// Sink receives translated inbound events. *engine.Engine implements it.
type Sink interface {
	Enqueue(ev ir.Event) bool
}

var (
	_ Callbacks        = (*Adapter)(nil)
	_ engine.Publisher = (*Adapter)(nil)
)

// Adapter translates between the native engine and the sync engine.
//
// Native entities have no version. The adapter numbers the updates it sees
// per entity so the engine's stale-update rule still applies, and follows the
// versions the engine publishes so both directions share one counter.
type Adapter struct {
	bridge Bridge
	log    *slog.Logger

	mu       sync.Mutex
	sink     Sink
	versions map[ir.EntityID]uint64
	dropped  int
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

// New creates an adapter that publishes through bridge.
func New(bridge Bridge, opts ...Option) *Adapter {
	a := &Adapter{
		bridge:   bridge,
		log:      slog.Default(),
		versions: make(map[ir.EntityID]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Attach sets the sink for inbound events. Callbacks arriving before Attach
// are dropped.
func (a *Adapter) Attach(s Sink) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sink = s
}

// Dropped returns how many inbound callbacks were discarded.
func (a *Adapter) Dropped() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

func (a *Adapter) enqueue(ev ir.Event) {
	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()

	if sink == nil || !sink.Enqueue(ev) {
		a.drop(ev.Kind.String(), fmt.Errorf("no sink accepting events"))
	}
}

func (a *Adapter) drop(what string, err error) {
	a.mu.Lock()
	a.dropped++
	a.mu.Unlock()
	a.log.Warn("native callback dropped", "event", what, "error", err)
}

// nextVersion synthesizes the version of the next inbound entity update.
func (a *Adapter) nextVersion(id ir.EntityID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	v := a.versions[id] + 1
	a.versions[id] = v
	return v
}

func (a *Adapter) observeVersion(id ir.EntityID, v uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if v > a.versions[id] {
		a.versions[id] = v
	}
}

func (a *Adapter) forget(id ir.EntityID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.versions, id)
}

// OnAnchor handles an anchor observation. Safe from any goroutine.
func (a *Adapter) OnAnchor(id uint64, buf []byte) {
	p, err := codec.UnmarshalPose(buf)
	if err != nil {
		a.drop("anchor", fmt.Errorf("anchor %d: %w", id, err))
		return
	}
	a.enqueue(ir.AnchorObserved(ir.AnchorID(id), p))
}

func (a *Adapter) record(ent Entity, withPose bool) (ir.EntityRecord, error) {
	rec := ir.EntityRecord{
		ID:       ir.EntityID(ent.Parent),
		Anchor:   ir.AnchorID(ent.Parent),
		Template: codec.TemplateID(ent.Key),
		Data:     clip(ent.Data),
	}
	if withPose {
		p, err := codec.UnmarshalPose(ent.Pose)
		if err != nil {
			return rec, fmt.Errorf("entity %d: %w", ent.Parent, err)
		}
		rec.Local = p
	}
	return rec, nil
}

// OnEntityAdded handles an entity added by a peer. Safe from any goroutine.
func (a *Adapter) OnEntityAdded(ent Entity) {
	rec, err := a.record(ent, true)
	if err != nil {
		a.drop("entity_added", err)
		return
	}
	rec.Version = a.nextVersion(rec.ID)
	a.enqueue(ir.EntityAdded(rec))
}

// OnEntityRemoved handles a peer's removal. Safe from any goroutine.
func (a *Adapter) OnEntityRemoved(ent Entity) {
	id := ir.EntityID(ent.Parent)
	a.forget(id)
	a.enqueue(ir.EntityRemoved(id))
}

// OnEntityPoseUpdated handles a peer's move. Safe from any goroutine.
func (a *Adapter) OnEntityPoseUpdated(ent Entity) {
	rec, err := a.record(ent, true)
	if err != nil {
		a.drop("entity_pose_updated", err)
		return
	}
	rec.Version = a.nextVersion(rec.ID)
	a.enqueue(ir.EntityPoseUpdated(rec))
}

// OnEntityDataUpdated handles a peer's payload change. The callback carries
// the whole entity; its pose is kept when present so an entity first seen
// here is built where the peer placed it. Safe from any goroutine.
func (a *Adapter) OnEntityDataUpdated(ent Entity) {
	rec, _ := a.record(ent, false)
	if len(ent.Pose) == codec.PoseBytes {
		if p, err := codec.UnmarshalPose(ent.Pose); err == nil {
			rec.Local = p
		}
	}
	a.enqueue(ir.Event{Kind: ir.EventEntityDataUpdated, Entity: rec})
}

// OnStatus handles a native lifecycle change. Safe from any goroutine.
func (a *Adapter) OnStatus(s State) {
	st, ok := stateMap[s]
	if !ok {
		a.drop("engine_status", fmt.Errorf("unknown native state %d", s))
		return
	}
	a.enqueue(ir.EngineStatus(st))
}

func clip(data []byte) []byte {
	if len(data) > MaxDataSize {
		data = data[:MaxDataSize]
	}
	return append([]byte(nil), data...)
}

func (a *Adapter) checkData(id ir.EntityID, data []byte) bool {
	if len(data) > MaxDataSize {
		a.log.Warn("payload too large for native entity, not sent",
			"entity", id,
			"size", len(data),
			"max", MaxDataSize,
		)
		return false
	}
	return true
}

func (a *Adapter) call(op string, id ir.EntityID, err error) {
	if err != nil {
		a.log.Warn("native call failed", "op", op, "entity", id, "error", err)
	}
}

// PublishAnchor creates and adds an anchor in the native engine.
func (a *Adapter) PublishAnchor(id ir.AnchorID, p pose.Pose) {
	a.call("add_anchor", ir.EntityID(id), a.bridge.AddAnchor(uint64(id), codec.MarshalPose(p)))
}

// PublishEntityAdd adds an entity under its anchor.
func (a *Adapter) PublishEntityAdd(rec ir.EntityRecord) {
	if !a.checkData(rec.ID, rec.Data) {
		return
	}
	a.observeVersion(rec.ID, rec.Version)
	err := a.bridge.AddEntity(uint64(rec.Anchor), rec.Template, codec.MarshalPose(rec.Local), rec.Data)
	a.call("add_entity", rec.ID, err)
}

// PublishEntityRemove removes the entity.
func (a *Adapter) PublishEntityRemove(rec ir.EntityRecord) {
	a.forget(rec.ID)
	a.call("remove_entity", rec.ID, a.bridge.RemoveEntity(uint64(rec.Anchor)))
}

// PublishEntityPoseUpdate sends the entity's pose relative to its anchor.
func (a *Adapter) PublishEntityPoseUpdate(rec ir.EntityRecord) {
	a.observeVersion(rec.ID, rec.Version)
	err := a.bridge.UpdateEntityPose(uint64(rec.Anchor), codec.MarshalPose(rec.Local))
	a.call("update_entity_pose", rec.ID, err)
}

// PublishEntityDataUpdate sends the entity's payload.
func (a *Adapter) PublishEntityDataUpdate(rec ir.EntityRecord) {
	if !a.checkData(rec.ID, rec.Data) {
		return
	}
	a.call("update_entity_data", rec.ID, a.bridge.UpdateEntityData(uint64(rec.Anchor), rec.Data))
}
