// Package pose implements rigid transforms (translation + rotation, no scale).
//
// A Pose maps points from a child frame into its parent frame. Composition
// follows the usual convention: a.Compose(b) applies b first, then a, so an
// entity's world pose is anchor.Compose(local).
//
// All values are float64. Rotations are unit quaternions stored as x, y, z, w.
package pose
