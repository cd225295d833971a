package pose

import "math"

// Vec3 is a translation or point.
type Vec3 struct {
	X, Y, Z float64
}

// Add returns v + o.
func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

// Sub returns v - o.
func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

// Scale returns v * s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

// Cross returns v × o.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

// Length returns the Euclidean norm.
func (v Vec3) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Quat is a rotation quaternion.
type Quat struct {
	X, Y, Z, W float64
}

// IdentityQuat is the zero rotation.
var IdentityQuat = Quat{0, 0, 0, 1}

// minRotationNorm2 is the squared norm below which a quaternion carries no rotation.
const minRotationNorm2 = 1e-12

// AxisAngle builds a rotation of deg degrees around axis.
func AxisAngle(axis Vec3, deg float64) Quat {
	l := axis.Length()
	if l == 0 {
		return IdentityQuat
	}
	half := deg * math.Pi / 360
	s := math.Sin(half) / l
	return Quat{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(half)}
}

// Mul returns the Hamilton product q*r (rotate by r, then by q).
func (q Quat) Mul(r Quat) Quat {
	return Quat{
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
	}
}

// Dot returns the 4D dot product.
func (q Quat) Dot(r Quat) float64 {
	return q.X*r.X + q.Y*r.Y + q.Z*r.Z + q.W*r.W
}

// Normalize returns q scaled to unit length. A zero quaternion becomes identity.
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.Dot(q))
	if n == 0 {
		return IdentityQuat
	}
	return Quat{q.X / n, q.Y / n, q.Z / n, q.W / n}
}

// Inverse returns the inverse rotation.
func (q Quat) Inverse() Quat {
	n := q.Dot(q)
	if n == 0 {
		return IdentityQuat
	}
	return Quat{-q.X / n, -q.Y / n, -q.Z / n, q.W / n}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	u := Vec3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// AngleDegrees returns the angle in degrees between two rotations, in [0, 180].
// q and -q describe the same rotation and compare equal.
func AngleDegrees(a, b Quat) float64 {
	d := math.Abs(a.Normalize().Dot(b.Normalize()))
	if d >= 1-1e-12 {
		return 0
	}
	return 2 * math.Acos(d) * 180 / math.Pi
}

// Pose is a rigid transform.
type Pose struct {
	Position Vec3
	Rotation Quat
}

// Identity is the transform that changes nothing.
var Identity = Pose{Rotation: IdentityQuat}

// New builds a pose from a translation and a rotation.
func New(p Vec3, q Quat) Pose {
	return Pose{Position: p, Rotation: q}
}

// Compose returns p ∘ o: o is applied first, then p.
func (p Pose) Compose(o Pose) Pose {
	return Pose{
		Position: p.Position.Add(p.Rotation.Rotate(o.Position)),
		Rotation: p.Rotation.Mul(o.Rotation),
	}
}

// Inverse returns the transform that undoes p.
func (p Pose) Inverse() Pose {
	qi := p.Rotation.Inverse()
	return Pose{
		Position: qi.Rotate(p.Position).Scale(-1),
		Rotation: qi,
	}
}

// Apply transforms a point.
func (p Pose) Apply(v Vec3) Vec3 {
	return p.Position.Add(p.Rotation.Rotate(v))
}

// Delta returns the transform d such that d ∘ from == to.
func Delta(from, to Pose) Pose {
	return to.Compose(from.Inverse())
}

// Distance returns the translation distance between two poses.
func Distance(a, b Pose) float64 {
	return a.Position.Sub(b.Position).Length()
}

// ApproxEqual reports whether two poses are within eps in translation and
// eps degrees in rotation.
func ApproxEqual(a, b Pose, eps float64) bool {
	return Distance(a, b) <= eps && AngleDegrees(a.Rotation, b.Rotation) <= eps
}

// IsFinite reports whether every component is a finite number.
func (p Pose) IsFinite() bool {
	for _, f := range []float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.X, p.Rotation.Y, p.Rotation.Z, p.Rotation.W,
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// IsValid reports whether p is finite and its rotation is not degenerate.
func (p Pose) IsValid() bool {
	return p.IsFinite() && p.Rotation.Dot(p.Rotation) > minRotationNorm2
}
