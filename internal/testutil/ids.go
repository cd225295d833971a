package testutil

import "sync"

// SequentialIDs hands out 1, 2, 3, ... (or from a chosen start).
//
// Implements engine.IDGenerator. The same scenario with the same generator
// produces byte-identical outbound traces.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu   sync.Mutex
	next uint64
}

// NewSequentialIDs creates a generator whose first id is start.
// A zero start begins at 1.
func NewSequentialIDs(start uint64) *SequentialIDs {
	if start == 0 {
		start = 1
	}
	return &SequentialIDs{next: start}
}

// NewID returns the next id.
func (g *SequentialIDs) NewID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.next
	g.next++
	return id
}
