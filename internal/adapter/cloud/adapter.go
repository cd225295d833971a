// Package cloud syncs the engine with a realtime tree shared by every peer of
// a user namespace.
//
// Inbound child notifications arrive on subscription goroutines. They are
// posted to the engine's owner goroutine, which keeps the adapter's record
// caches and turns records into engine events. Outbound publishes are cached
// and queued; a writer goroutine drains the queue and keeps failed writes for
// the next attempt.
//
// World poses compose three frames: the visible node of the active space, the
// anchor record relative to that node, and the entity record relative to the
// anchor. An entity and its anchor share one id.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/anchorsync/internal/asset"
	"github.com/roach88/anchorsync/internal/codec"
	"github.com/roach88/anchorsync/internal/engine"
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/store"
)

// DefaultRetryInterval is how often failed writes are retried.
const DefaultRetryInterval = time.Second

// ErrUnknownSpace is returned by SetActiveSpace for a space never seen.
var ErrUnknownSpace = errors.New("cloud: unknown space")

// Tree is the remote database. *store.Store implements it.
type Tree interface {
	asset.Source
	Set(ctx context.Context, path, key string, value []byte) (int64, error)
	Subscribe(path string, l store.Listener) *store.Subscription
}

// Host is the engine side. *engine.Engine implements it.
type Host interface {
	Post(fn func()) bool
	Deliver(ev ir.Event)
	ClearRemote()
}

// ConnState is the adapter's view of the connection.
type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

type anchorEntry struct {
	rec   AnchorRecord
	local pose.Pose // relative to the parent node
}

type entityEntry struct {
	rec   EntityRecord
	local pose.Pose // relative to the anchor
}

var _ engine.Publisher = (*Adapter)(nil)

// Adapter translates between the tree and the engine.
//
// Connect, Disconnect, SetActiveSpace and the Publisher methods run on the
// engine's owner goroutine. State, Pending and Flush are safe anywhere.
type Adapter struct {
	tree      Tree
	paths     Paths
	ids       engine.IDGenerator
	log       *slog.Logger
	retry     time.Duration
	stateHook func(ConnState)

	out *outbox

	mu     sync.Mutex
	state  ConnState
	host   Host
	gen    uint64
	subs   []*store.Subscription
	cancel context.CancelFunc
	group  *errgroup.Group

	// owner goroutine only
	anchors  map[ir.AnchorID]anchorEntry
	entities map[ir.EntityID]entityEntry
	spaces   map[uint64]*Space
	active   uint64
	nodes    map[uint64]pose.Pose
	observed map[ir.AnchorID]bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.log = l
	}
}

// WithIDs sets the nonce source. Default: engine.RandomIDs.
func WithIDs(g engine.IDGenerator) Option {
	return func(a *Adapter) {
		a.ids = g
	}
}

// WithRetryInterval sets how often failed writes are retried.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Adapter) {
		if d > 0 {
			a.retry = d
		}
	}
}

// WithStateHook registers fn to be called on every connection state change.
// fn may run on any goroutine.
func WithStateHook(fn func(ConnState)) Option {
	return func(a *Adapter) {
		a.stateHook = fn
	}
}

// New creates a disconnected adapter for the namespace at paths.
func New(tree Tree, paths Paths, opts ...Option) *Adapter {
	a := &Adapter{
		tree:     tree,
		paths:    paths,
		ids:      engine.RandomIDs{},
		log:      slog.Default(),
		retry:    DefaultRetryInterval,
		out:      newOutbox(),
		anchors:  make(map[ir.AnchorID]anchorEntry),
		entities: make(map[ir.EntityID]entityEntry),
		spaces:   make(map[uint64]*Space),
		nodes:    make(map[uint64]pose.Pose),
		observed: make(map[ir.AnchorID]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// State returns the connection state.
func (a *Adapter) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Adapter) setState(s ConnState) {
	a.mu.Lock()
	prev := a.state
	a.state = s
	a.mu.Unlock()

	if prev == s {
		return
	}
	a.log.Info("cloud connection", "from", prev, "to", s)
	if a.stateHook != nil {
		a.stateHook(s)
	}
}

// Connect subscribes to the namespace and starts the writer. Writes queued
// while disconnected are sent once connected.
func (a *Adapter) Connect(ctx context.Context, host Host) error {
	if host == nil {
		return fmt.Errorf("cloud: connect: nil host")
	}
	a.mu.Lock()
	if a.host != nil {
		a.mu.Unlock()
		return nil
	}
	a.host = host
	a.mu.Unlock()

	a.setState(Connecting)

	wctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(wctx)
	g.Go(func() error {
		return a.writeLoop(gctx)
	})

	subs := []*store.Subscription{
		a.tree.Subscribe(a.paths.Spaces, &feed{a: a, on: a.onSpace}),
		a.tree.Subscribe(a.paths.Anchors, &feed{a: a, on: a.onAnchor}),
		a.tree.Subscribe(a.paths.Entities, &feed{a: a, on: a.onEntity}),
	}

	a.mu.Lock()
	a.subs = subs
	a.cancel = cancel
	a.group = g
	a.mu.Unlock()

	a.setState(Connected)
	return nil
}

// Disconnect stops the feeds and the writer, clears the active space and
// every cached record, and drops remote state from the engine. Unsent writes
// are kept for the next Connect.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	host := a.host
	subs, cancel, g := a.subs, a.cancel, a.group
	a.host = nil
	a.subs, a.cancel, a.group = nil, nil, nil
	a.gen++
	a.mu.Unlock()

	if host == nil {
		return
	}
	for _, sub := range subs {
		sub.Cancel()
	}
	cancel()
	_ = g.Wait()

	a.active = 0
	a.nodes = make(map[uint64]pose.Pose)
	a.observed = make(map[ir.AnchorID]bool)
	a.anchors = make(map[ir.AnchorID]anchorEntry)
	a.entities = make(map[ir.EntityID]entityEntry)
	a.spaces = make(map[uint64]*Space)

	host.ClearRemote()
	host.Deliver(ir.EngineStatus(ir.StateStopped))
	a.setState(Disconnected)
}

// Pending returns the number of writes not yet acknowledged.
func (a *Adapter) Pending() int {
	return a.out.len()
}

// Flush sends queued writes now. On failure the unsent writes stay queued.
func (a *Adapter) Flush(ctx context.Context) error {
	return a.out.flush(ctx, a.tree)
}

func (a *Adapter) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.retry)
	defer ticker.Stop()

	failing := false
	for {
		if a.out.len() > 0 {
			err := a.Flush(ctx)
			switch {
			case ctx.Err() != nil:
				return nil
			case err != nil:
				if !failing {
					a.log.Warn("cloud write failed, will retry", "pending", a.out.len(), "error", err)
				}
				failing = true
				a.setState(Connecting)
			case failing:
				failing = false
				a.setState(Connected)
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-a.out.wake:
		case <-ticker.C:
		}
	}
}

// feed routes one subscription's notifications to the owner goroutine.
type feed struct {
	a  *Adapter
	on func(store.Child)
}

func (f *feed) OnChild(ev store.Event) {
	f.a.post(func() { f.on(ev.Child) })
}

func (f *feed) OnError(err error) {
	f.a.log.Warn("cloud feed error", "error", err)
	f.a.setState(Connecting)
}

// post runs fn on the owner goroutine unless the adapter disconnects first.
func (a *Adapter) post(fn func()) {
	a.mu.Lock()
	host, gen, state := a.host, a.gen, a.state
	a.mu.Unlock()
	if host == nil {
		return
	}
	if state == Connecting {
		a.setState(Connected)
	}
	host.Post(func() {
		a.mu.Lock()
		stale := a.gen != gen
		a.mu.Unlock()
		if !stale {
			fn()
		}
	})
}

func (a *Adapter) deliver(ev ir.Event) {
	a.mu.Lock()
	host := a.host
	a.mu.Unlock()
	if host != nil {
		host.Deliver(ev)
	}
}

// Spaces lists known spaces, most visible nodes first. Owner goroutine only.
func (a *Adapter) Spaces() []SpaceInfo {
	return sortSpaces(a.spaces)
}

// ActiveSpace returns the selected space, zero when none. Owner goroutine
// only.
func (a *Adapter) ActiveSpace() uint64 {
	return a.active
}

// SetActiveSpace selects the space whose nodes anchor everything, rebuilding
// the engine's remote state from the cached records. Zero deselects.
func (a *Adapter) SetActiveSpace(id uint64) error {
	if id != 0 {
		if _, ok := a.spaces[id]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownSpace, id)
		}
	}
	a.active = id
	a.log.Info("active space", "space", id)
	a.rebuild()
	return nil
}

// rebuild clears the engine's remote state and replays every cached anchor
// against the active space. The engine is active only while a space is.
func (a *Adapter) rebuild() {
	a.mu.Lock()
	host := a.host
	a.mu.Unlock()
	if host == nil {
		return
	}

	host.ClearRemote()
	a.observed = make(map[ir.AnchorID]bool)
	a.nodes = make(map[uint64]pose.Pose)

	sp, ok := a.spaces[a.active]
	if !ok {
		host.Deliver(ir.EngineStatus(ir.StateStopped))
		return
	}
	a.nodes = sp.nodePoses()
	for _, id := range sortedIDs(a.anchors) {
		a.refreshAnchor(id)
	}
	host.Deliver(ir.EngineStatus(ir.StateActive))
}

func (a *Adapter) session() uint64 {
	if sp, ok := a.spaces[a.active]; ok {
		return sp.Session
	}
	return 0
}

func (a *Adapter) onSpace(c store.Child) {
	id, err := strconv.ParseUint(c.Key, 10, 64)
	if err != nil {
		a.log.Warn("dropping space with bad key", "key", c.Key, "error", err)
		return
	}
	sessions, err := decodeSpace(c.Value)
	if err != nil {
		a.log.Warn("dropping malformed space", "space", id, "error", err)
		return
	}

	sp, ok := a.spaces[id]
	if !ok {
		sp = &Space{ID: id}
		a.spaces[id] = sp
	}
	better, err := sp.merge(sessions)
	if err != nil {
		a.log.Warn("skipping malformed session", "space", sp.ID, "error", err)
	}
	if !better {
		a.log.Debug("space update from older session ignored", "space", sp.ID, "session", sp.Session)
		return
	}
	a.log.Debug("space session", "space", sp.ID, "session", sp.Session, "nodes", len(sp.Nodes))
	if sp.ID == a.active {
		a.rebuild()
	}
}

func (a *Adapter) onAnchor(c store.Child) {
	id, err := ir.ParseAnchorID(c.Key)
	if err != nil || id == 0 {
		a.log.Warn("dropping anchor with bad key", "key", c.Key)
		return
	}
	rec, local, err := decodeAnchor(c.Value)
	if err != nil {
		a.log.Warn("dropping malformed anchor", "anchor", id, "error", err)
		return
	}
	if old, ok := a.anchors[id]; ok && old.rec.sameContent(rec) {
		return
	}
	a.anchors[id] = anchorEntry{rec: rec, local: local}
	a.refreshAnchor(id)
}

// refreshAnchor re-derives the anchor's world pose from its parent node. An
// anchor whose node is not visible in the active space hides its entity.
func (a *Adapter) refreshAnchor(id ir.AnchorID) {
	entry, ok := a.anchors[id]
	if !ok {
		return
	}
	node, visible := a.nodes[codec.Uint64(entry.rec.Parent)]
	if !visible {
		if a.observed[id] {
			delete(a.observed, id)
			a.deliver(ir.EntityRemoved(ir.EntityID(id)))
		}
		a.log.Debug("anchor parent not visible", "anchor", id, "parent", codec.Uint64(entry.rec.Parent))
		return
	}

	first := !a.observed[id]
	a.observed[id] = true
	a.deliver(ir.AnchorObservedInSession(id, node.Compose(entry.local), a.session()))
	if first {
		a.surface(ir.EntityID(id))
	}
}

// surface announces a cached entity to the engine.
func (a *Adapter) surface(id ir.EntityID) {
	entry, ok := a.entities[id]
	if !ok || entry.rec.Deleted {
		return
	}
	a.deliver(ir.EntityAdded(entry.record(id)))
}

func (e entityEntry) record(id ir.EntityID) ir.EntityRecord {
	return ir.EntityRecord{
		ID:       id,
		Anchor:   ir.AnchorID(id),
		Template: codec.TemplateID(e.rec.UserID),
		Local:    e.local,
		Version:  codec.Uint64(e.rec.Version),
		Data:     e.rec.Data,
	}
}

// hidden reports whether the entity's anchor is cached but not visible.
// Entities whose anchor was never seen go to the engine, which buffers them.
func (a *Adapter) hidden(id ir.EntityID) bool {
	_, cached := a.anchors[ir.AnchorID(id)]
	return cached && !a.observed[ir.AnchorID(id)]
}

func (a *Adapter) onEntity(c store.Child) {
	id, err := ir.ParseEntityID(c.Key)
	if err != nil || id == 0 {
		a.log.Warn("dropping entity with bad key", "key", c.Key)
		return
	}
	rec, local, err := decodeEntity(c.Value)
	if err != nil {
		a.log.Warn("dropping malformed entity", "entity", id, "error", err)
		return
	}

	old, had := a.entities[id]
	if had {
		if old.rec.sameContent(rec) {
			return
		}
		if rec.Version < old.rec.Version {
			a.log.Debug("stale entity record ignored", "entity", id, "version", rec.Version, "have", old.rec.Version)
			return
		}
	}
	entry := entityEntry{rec: rec, local: local}
	a.entities[id] = entry

	if rec.Deleted {
		a.deliver(ir.EntityRemoved(id))
		return
	}
	if a.hidden(id) {
		return
	}

	r := entry.record(id)
	switch {
	case !had || old.rec.Deleted:
		a.deliver(ir.EntityAdded(r))
	case rec.Version == old.rec.Version:
		a.deliver(ir.Event{Kind: ir.EventEntityDataUpdated, Entity: r})
	default:
		a.deliver(ir.EntityPoseUpdated(r))
	}
}

// refreshTemplate re-announces the visible entities built from template,
// after its asset became available.
func (a *Adapter) refreshTemplate(template string) {
	for _, id := range sortedIDs(a.entities) {
		entry := a.entities[id]
		if entry.rec.Deleted || codec.TemplateID(entry.rec.UserID) != template || a.hidden(id) {
			continue
		}
		a.deliver(ir.EntityAdded(entry.record(id)))
	}
}

// ScanReady schedules a refresh of the entities using template. Safe from any
// goroutine.
func (a *Adapter) ScanReady(template string) {
	a.post(func() { a.refreshTemplate(template) })
}

func (a *Adapter) nonce() int64 {
	return codec.Int64(a.ids.NewID())
}

func (a *Adapter) queue(path string, id fmt.Stringer, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		a.log.Error("encode record", "path", path, "key", id.String(), "error", err)
		return
	}
	a.out.put(write{path: path, key: id.String(), value: raw})
}

// PublishAnchor writes the anchor relative to the active space's root node.
func (a *Adapter) PublishAnchor(id ir.AnchorID, world pose.Pose) {
	sp, ok := a.spaces[a.active]
	if !ok {
		a.log.Warn("no active space, anchor not published", "anchor", id)
		return
	}
	node, ok := sp.root()
	if !ok {
		a.log.Warn("active space has no visible node, anchor not published", "anchor", id, "space", sp.ID)
		return
	}
	local := node.Pose.Pose().Inverse().Compose(world)
	rec := AnchorRecord{
		Rnd:    a.nonce(),
		Parent: codec.Int64(node.ID),
		Pose:   codec.EncodePose(local),
	}
	a.anchors[id] = anchorEntry{rec: rec, local: local}
	a.observed[id] = true
	a.queue(a.paths.Anchors, id, rec)
}

func (a *Adapter) putEntity(r ir.EntityRecord, version uint64, deleted bool) {
	rec := EntityRecord{
		Rnd:     a.nonce(),
		UserID:  r.Template,
		Pose:    codec.EncodePose(r.Local),
		Version: codec.Int64(version),
		Size:    int64(len(r.Data)),
		Deleted: deleted,
		Data:    r.Data,
	}
	a.entities[r.ID] = entityEntry{rec: rec, local: r.Local}
	a.queue(a.paths.Entities, r.ID, rec)
}

// PublishEntityAdd writes the entity record.
func (a *Adapter) PublishEntityAdd(r ir.EntityRecord) {
	a.putEntity(r, r.Version, false)
}

// PublishEntityRemove writes a tombstone one version past the last known.
func (a *Adapter) PublishEntityRemove(r ir.EntityRecord) {
	v := r.Version
	if old, ok := a.entities[r.ID]; ok && codec.Uint64(old.rec.Version) > v {
		v = codec.Uint64(old.rec.Version)
	}
	a.putEntity(r, v+1, true)
}

// PublishEntityPoseUpdate writes the entity record with its new version.
func (a *Adapter) PublishEntityPoseUpdate(r ir.EntityRecord) {
	a.putEntity(r, r.Version, false)
}

// PublishEntityDataUpdate writes the entity record. The version is not
// advanced, so peers apply it only at the same version.
func (a *Adapter) PublishEntityDataUpdate(r ir.EntityRecord) {
	a.putEntity(r, r.Version, false)
}

type id64 interface {
	~uint64
}

func sortedIDs[K id64, V any](m map[K]V) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
