// Package scene defines the representation contract the engine drives and a
// headless implementation of it.
//
// A Representation is whatever the host shows for an entity: a game object, an
// editor node, or the in-memory Node below. The engine only reads and writes
// its world pose and destroys it.
package scene

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/roach88/anchorsync/internal/pose"
)

var (
	// ErrUnknownTemplate is returned when no template matches the id.
	ErrUnknownTemplate = errors.New("unknown template")

	// ErrAssetPending is returned when the template's asset is still being
	// fetched. Callers retry on the next event that touches the entity.
	ErrAssetPending = errors.New("asset not yet available")
)

// Representation is the host object bound to one entity.
type Representation interface {
	WorldPose() pose.Pose
	SetWorldPose(pose.Pose)
	Destroy()
}

// DataReceiver is implemented by representations that consume the auxiliary
// payload.
type DataReceiver interface {
	SetAuxData(data []byte)
}

// Resolver instantiates a representation for a template id.
type Resolver interface {
	Resolve(template string) (Representation, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(template string) (Representation, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(template string) (Representation, error) {
	return f(template)
}

// Node is a headless representation.
//
// Pose writes from the engine happen on the owner goroutine, but tests and
// the CLI may read nodes from elsewhere, so access is guarded.
type Node struct {
	mu        sync.Mutex
	seq       int
	template  string
	asset     string
	world     pose.Pose
	data      []byte
	destroyed bool
	scene     *Scene
}

// WorldPose returns the node's current world pose.
func (n *Node) WorldPose() pose.Pose {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.world
}

// SetWorldPose moves the node. Used by the engine and, to simulate a user
// edit, by hosts.
func (n *Node) SetWorldPose(p pose.Pose) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.world = p
}

// SetAuxData stores the payload last delivered by the engine.
func (n *Node) SetAuxData(data []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.data = append([]byte(nil), data...)
}

// AuxData returns the last delivered payload.
func (n *Node) AuxData() []byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.data
}

// Template returns the template the node was created from.
func (n *Node) Template() string { return n.template }

// Asset returns the asset path bound to the node, if any.
func (n *Node) Asset() string { return n.asset }

// Destroy removes the node from its scene. Safe to call twice.
func (n *Node) Destroy() {
	n.mu.Lock()
	already := n.destroyed
	n.destroyed = true
	n.mu.Unlock()
	if !already && n.scene != nil {
		n.scene.forget(n)
	}
}

// Destroyed reports whether Destroy has been called.
func (n *Node) Destroyed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.destroyed
}

// Scene is a catalog of templates plus the set of live nodes.
type Scene struct {
	mu      sync.Mutex
	catalog map[string]string // template -> asset path ("" when none)
	open    bool
	nodes   map[*Node]struct{}
	created int
}

// New creates a scene that accepts the given templates. With no templates,
// every non-empty template id resolves.
func New(templates ...string) *Scene {
	s := &Scene{
		catalog: make(map[string]string),
		nodes:   make(map[*Node]struct{}),
		open:    len(templates) == 0,
	}
	for _, t := range templates {
		s.catalog[t] = ""
	}
	return s
}

// Register adds a template backed by an asset on disk.
func (s *Scene) Register(template, assetPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[template] = assetPath
}

// Has reports whether template resolves.
func (s *Scene) Has(template string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.catalog[template]
	return ok || (s.open && template != "")
}

// Resolve creates a node for template.
func (s *Scene) Resolve(template string) (Representation, error) {
	n, err := s.Spawn(template)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// Spawn is Resolve returning the concrete node.
func (s *Scene) Spawn(template string) (*Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.catalog[template]
	if !ok && !(s.open && template != "") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, template)
	}
	s.created++
	n := &Node{seq: s.created, template: template, asset: asset, world: pose.Identity, scene: s}
	s.nodes[n] = struct{}{}
	return n, nil
}

// Nodes returns the live nodes in creation order.
func (s *Scene) Nodes() []*Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Node, 0, len(s.nodes))
	for n := range s.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Len returns the number of live nodes.
func (s *Scene) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Created returns how many nodes were ever spawned.
func (s *Scene) Created() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

func (s *Scene) forget(n *Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, n)
}
