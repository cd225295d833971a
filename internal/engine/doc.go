// Package engine implements the entity/anchor synchronization core.
//
// The engine keeps a set of locally authored and remotely received entities
// consistent with a set of independently moving anchors. It owns four pieces
// of state:
//
//   - the anchor registry (anchor id -> pose, session marker)
//   - the orphan buffer (entity events naming an anchor not yet seen)
//   - the entity graph (entity id -> anchor, local pose, version, payload,
//     representation)
//   - the change monitors (last pose written or propagated per entity)
//
// # Owner goroutine
//
// Every mutation happens on one owner goroutine. Adapters deliver inbound
// events from arbitrary goroutines through Enqueue (or Post for closures);
// the owner calls Tick at a fixed cadence, which drains the queue exactly once
// and then runs the pose monitor when its poll interval has elapsed. Nothing
// else in the package is locked, and nothing but Enqueue, Post and Run may be
// called off the owner goroutine.
//
// # Ordering
//
//   - Events are applied in queue order. Each is stamped with a receipt seq.
//   - A new anchor is registered before any orphan naming it is replayed;
//     orphans replay in receipt order.
//   - An inbound pose update whose version is not greater than the stored
//     version is discarded.
//
// # Feedback suppression
//
// The pose monitor compares a representation's current world pose against
// the last pose the engine itself wrote or propagated. Applying a remote
// update records the written pose, so it never looks like a local edit.
package engine
