// Package codec converts poses between the local convention used by the
// entity graph and the wire convention shared with the native engine and the
// cloud database.
//
// # Handedness
//
// The wire frame mirrors the local frame along Z. Crossing the boundary negates
// the Z translation and the Z and W rotation components:
//
//	wire.t = ( t.x,  t.y, -t.z)
//	wire.q = ( q.x,  q.y, -q.z, -q.w)
//
// The conversion is its own inverse. Stored cloud data depends on this exact
// sign convention, so it must not change.
//
// # Fixed-width encoding
//
// A wire pose is 7 float64 fields in the order qx, qy, qz, qw, tx, ty, tz. The
// cloud records carry each field as the IEEE-754 bit pattern reinterpreted as
// an int64, which keeps full precision through JSON. MarshalPose produces the
// same fields as a 56-byte little-endian buffer.
package codec
