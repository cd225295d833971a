// Package harness runs scripted sync sessions against the engine and checks
// the outbound trace.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: orphan_replay
//	description: "Entities that arrive before their anchor are placed once it is seen"
//	templates: [cube]
//	steps:
//	  - entity_added: {entity: 1, anchor: 10, template: cube, at: [0, 1, 0], version: 1}
//	  - anchor: {id: 10, at: [1, 0, 0]}
//	  - add_local: {template: cube, at: [0, 0, 0]}
//	  - move: {entity: 100, at: [2, 0, 0]}
//	  - tick: {advance: 250ms}
//	assertions:
//	  - type: entity
//	    entity: 1
//	    expect: {world: [1, 1, 0], version: 1, remote: true}
//	  - type: publish_count
//	    op: pose
//	    count: 1
//
// Inbound steps (status, anchor, entity_added, entity_pose, entity_data,
// entity_removed) are enqueued and applied by a tick that does not advance
// time. Local steps (add_local, move, set_data, remove, shutdown) call the
// engine directly. The pose monitor only runs on a tick step whose advance
// reaches the poll interval.
//
// # Assertion Types
//
//   - publish_count: an op appears exactly N times, optionally for one entity
//   - publish_order: ops appear in the given relative order
//   - entity: the final entity state matches (subset match)
//   - absent: the entity is not in the final graph
//   - orphans: exactly N entities still wait for an anchor
//   - anchor: an anchor is registered at a position
//
// # Deterministic Testing
//
// Every run uses a fresh engine, a manual clock starting at testutil.Epoch and
// sequential local ids starting at first_id (100 by default), so traces are
// byte-identical across runs and can be compared with golden files.
package harness
