// Package store is a SQLite-backed realtime tree: the shared database the
// cloud adapter syncs through.
//
// The tree is a set of nodes addressed by slash-separated paths. Each node
// has keyed children whose values are opaque bytes (JSON records in
// practice). Large assets live in a separate blob table.
//
// # Change Feed
//
//   - Every write stamps the child with seq = MAX(seq)+1 across the tree
//   - Subscribe delivers existing children as ChildAdded, then polls for
//     rows with seq above the last one seen; a key seen before is
//     ChildChanged
//   - Writes made through the same Store wake subscribers immediately
//
// Several processes may open the same file. Their writes reach each other's
// subscribers on the next poll.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
