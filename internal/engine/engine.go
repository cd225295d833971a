package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kamstrup/intmap"

	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/scene"
)

// Engine keeps entities consistent with the anchors they hang off.
//
// Thread-safety model:
//   - Enqueue(), Post(): safe from any goroutine
//   - Tick(), Run(): called from exactly one goroutine, the owner
//   - every other method: owner goroutine only (directly, or via Post)
//
// INVARIANTS:
//   - every entity in the graph has a registered anchor, except local
//     entities that have not registered yet
//   - an entity's representation sits at anchor.pose ∘ local unless the user
//     moved it since the engine last wrote it
//   - at most one representation per entity id
type Engine struct {
	queue      *eventQueue
	clock      *Clock
	resolver   scene.Resolver
	pub        Publisher
	ids        IDGenerator
	thresholds Thresholds
	log        *slog.Logger
	statusHook func(ir.EngineState)

	anchors  *anchorRegistry
	orphans  *orphanBuffer
	entities *intmap.Map[ir.EntityID, *entity]
	attached *intmap.Map[ir.AnchorID, *intmap.Set[ir.EntityID]]

	state        ir.EngineState
	shuttingDown bool
	lastPoll     time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the outbound sink. Default: NopPublisher.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.pub = p
	}
}

// WithIDs sets the id generator used by AddLocal. Default: RandomIDs.
func WithIDs(g IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithThresholds overrides DefaultThresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) {
		e.thresholds = t
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.log = l
	}
}

// WithClock sets the receipt-seq clock, e.g. to resume numbering.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithStatusHook registers fn to be called on the owner goroutine after every
// engine status event has been applied.
func WithStatusHook(fn func(ir.EngineState)) Option {
	return func(e *Engine) {
		e.statusHook = fn
	}
}

// New creates an Engine that builds representations through resolver.
func New(resolver scene.Resolver, opts ...Option) *Engine {
	e := &Engine{
		clock:      NewClock(),
		resolver:   resolver,
		pub:        NopPublisher{},
		ids:        RandomIDs{},
		thresholds: DefaultThresholds,
		log:        slog.Default(),
		anchors:    newAnchorRegistry(),
		orphans:    newOrphanBuffer(),
		entities:   intmap.New[ir.EntityID, *entity](64),
		attached:   intmap.New[ir.AnchorID, *intmap.Set[ir.EntityID]](64),
		state:      ir.StateUninitialized,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.queue = newEventQueue(e.clock)
	return e
}

// Enqueue submits an inbound event. Safe from any goroutine.
// Returns false after Shutdown.
func (e *Engine) Enqueue(ev ir.Event) bool {
	return e.queue.Enqueue(ev)
}

// Post schedules fn to run on the owner goroutine during the next Tick, in
// queue order with inbound events. Safe from any goroutine.
func (e *Engine) Post(fn func()) bool {
	return e.queue.Post(fn)
}

// Pending returns the number of queued items.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Tick drains everything queued so far, then runs the pose monitor if the
// poll interval has elapsed since the last run.
func (e *Engine) Tick(now time.Time) {
	if e.shuttingDown {
		return
	}
	for _, it := range e.queue.TakeAll() {
		if e.shuttingDown {
			return
		}
		if it.fn != nil {
			it.fn()
			continue
		}
		e.Apply(it.event)
	}
	if e.shuttingDown {
		return
	}

	if e.lastPoll.IsZero() {
		e.lastPoll = now
		return
	}
	if now.Sub(e.lastPoll) >= e.thresholds.PollInterval {
		e.lastPoll = now
		e.pollPoses()
	}
}

// Run ticks every interval until ctx is cancelled or Shutdown runs.
//
// Must be called from exactly ONE goroutine, which becomes the owner.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	e.log.Info("engine starting", "tick", interval, "poll", e.thresholds.PollInterval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.log.Info("engine stopping: context cancelled")
			return ctx.Err()
		case now := <-ticker.C:
			e.Tick(now)
			if e.shuttingDown {
				e.log.Info("engine stopping: shut down")
				return nil
			}
		}
	}
}

// Apply processes one inbound event immediately. Owner goroutine only;
// Tick calls it for every queued event. Malformed events are logged and
// dropped.
func (e *Engine) Apply(ev ir.Event) {
	if e.shuttingDown {
		return
	}
	if err := ev.Validate(); err != nil {
		e.log.Warn("dropping malformed event", "error", newMalformedError(ev, err))
		return
	}

	switch ev.Kind {
	case ir.EventAnchorObserved:
		e.upsertAnchor(ev.Anchor, ev.Pose, ev.Session)
	case ir.EventEntityAdded:
		e.onRemoteAdd(ev.Entity, ev.Seq)
	case ir.EventEntityRemoved:
		e.onRemoteRemove(ev.Entity.ID)
	case ir.EventEntityPoseUpdated:
		e.onRemotePoseUpdate(ev.Entity, ev.Seq)
	case ir.EventEntityDataUpdated:
		e.onRemoteDataUpdate(ev.Entity, ev.Seq)
	case ir.EventEngineStatus:
		e.onStatus(ev.State)
	}
}

// Deliver stamps ev with the next receipt seq and applies it immediately.
// Owner goroutine only: adapters that cache remote state call it from
// closures they Post.
func (e *Engine) Deliver(ev ir.Event) {
	ev.Seq = e.clock.Next()
	e.Apply(ev)
}

func (e *Engine) onStatus(s ir.EngineState) {
	prev := e.state
	e.state = s
	e.log.Info("engine status", "from", prev, "to", s)

	switch s {
	case ir.StateInitializing:
		e.ResetForTeardown()
	case ir.StateActive:
		if prev != ir.StateActive {
			e.registerPending()
		}
	}

	if e.statusHook != nil {
		e.statusHook(s)
	}
}

// ResetForTeardown destroys every representation and forgets all anchors,
// orphans and entities without publishing anything.
func (e *Engine) ResetForTeardown() {
	for _, id := range e.entityIDs() {
		en, _ := e.entities.Get(id)
		en.rep.Destroy()
	}
	e.entities.Clear()
	e.attached.Clear()
	e.anchors.clear()
	e.orphans.clear()
	e.log.Debug("graph reset")
}

// ClearRemote forgets every anchor and orphan and erases every entity that
// is known to the network, without publishing. Local entities still waiting
// for their first registration are kept.
func (e *Engine) ClearRemote() {
	kept := 0
	for _, id := range e.entityIDs() {
		en, _ := e.entities.Get(id)
		if !en.tracked() {
			kept++
			continue
		}
		e.erase(en)
	}
	e.attached.Clear()
	e.anchors.clear()
	e.orphans.clear()
	e.log.Debug("remote state cleared", "pending_local", kept)
}

// AddLocal creates a locally authored entity at world. It is announced to the
// network now if the engine is active, otherwise on the next transition into
// active. Owner goroutine only.
func (e *Engine) AddLocal(template string, world pose.Pose, data []byte) (ir.EntityID, error) {
	if e.shuttingDown {
		return 0, e.shutdownError(0)
	}
	if !world.IsFinite() {
		return 0, fmt.Errorf("add local %q: pose is not finite", template)
	}

	id := e.freshID()
	rep, err := e.resolve(id, template)
	if err != nil {
		return 0, err
	}
	rep.SetWorldPose(world)

	en := &entity{
		id:          id,
		template:    template,
		local:       pose.Identity,
		data:        cloneBytes(data),
		rep:         rep,
		lastApplied: world,
	}
	e.entities.Put(id, en)
	e.deliverData(en)
	e.log.Info("local entity added", "entity", id, "template", template)

	if e.state == ir.StateActive {
		e.register(en)
	}
	return id, nil
}

func (e *Engine) freshID() ir.EntityID {
	for {
		id := ir.EntityID(e.ids.NewID())
		if id == 0 {
			continue
		}
		if _, ok := e.entities.Get(id); ok {
			continue
		}
		if e.anchors.has(ir.AnchorID(id)) {
			continue
		}
		if _, ok := e.orphans.get(id); ok {
			continue
		}
		return id
	}
}

func (e *Engine) registerPending() {
	n := 0
	for _, id := range e.entityIDs() {
		en, _ := e.entities.Get(id)
		if en.remote || en.registered {
			continue
		}
		e.register(en)
		n++
	}
	if n > 0 {
		e.log.Info("registered pending local entities", "count", n)
	}
}

// register creates the entity's own anchor at its current world pose and
// announces both.
func (e *Engine) register(en *entity) {
	world := en.rep.WorldPose()
	anchor := ir.AnchorID(en.id)

	e.upsertAnchor(anchor, world, 0)
	en.anchor = anchor
	en.local = pose.Identity
	e.attach(en)

	e.pub.PublishAnchor(anchor, world)
	e.pub.PublishEntityAdd(en.record())
	en.registered = true
	en.lastApplied = world

	e.log.Debug("local entity registered", "entity", en.id, "anchor", anchor)
}

// Remove destroys the entity. A tracked entity is announced as removed first,
// unless the engine is shutting down. Unknown ids are a no-op.
// Owner goroutine only.
func (e *Engine) Remove(id ir.EntityID) {
	en, ok := e.entities.Get(id)
	if !ok {
		e.orphans.remove(id)
		return
	}
	if !e.shuttingDown && en.tracked() {
		e.pub.PublishEntityRemove(en.record())
	}
	e.erase(en)
	e.log.Info("entity removed", "entity", id, "silent", e.shuttingDown)
}

// Shutdown stops the engine. Every representation is destroyed without
// publishing a removal, so entities persist for other peers. Queued events are
// dropped and later Enqueue calls fail. Owner goroutine only.
func (e *Engine) Shutdown() {
	if e.shuttingDown {
		return
	}
	e.shuttingDown = true
	for _, id := range e.entityIDs() {
		e.Remove(id)
	}
	e.queue.Close()
	e.log.Info("engine shut down")
}

// ShuttingDown reports whether Shutdown has run.
func (e *Engine) ShuttingDown() bool {
	return e.shuttingDown
}

// SetThresholds replaces the motion thresholds. Owner goroutine only.
func (e *Engine) SetThresholds(t Thresholds) {
	e.thresholds = t
	e.log.Info("thresholds updated",
		"position", t.Position,
		"rotation", t.Rotation,
		"poll", t.PollInterval,
	)
}

// Thresholds returns the active motion thresholds.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// State returns the last engine status applied.
func (e *Engine) State() ir.EngineState {
	return e.state
}

func (e *Engine) shutdownError(id ir.EntityID) error {
	return &SyncError{
		Code:    ErrCodeShutdown,
		Message: "engine is shut down",
		Entity:  id,
	}
}
