package pose

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestCompose_Identity(t *testing.T) {
	p := New(Vec3{1, 2, 3}, AxisAngle(Vec3{0, 1, 0}, 30))

	if diff := cmp.Diff(p, Identity.Compose(p), approx); diff != "" {
		t.Errorf("identity ∘ p mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(p, p.Compose(Identity), approx); diff != "" {
		t.Errorf("p ∘ identity mismatch (-want +got):\n%s", diff)
	}
}

func TestCompose_RotatesChildTranslation(t *testing.T) {
	parent := New(Vec3{10, 0, 0}, AxisAngle(Vec3{0, 0, 1}, 90))
	child := New(Vec3{1, 0, 0}, IdentityQuat)

	got := parent.Compose(child)

	if diff := cmp.Diff(Vec3{10, 1, 0}, got.Position, approx); diff != "" {
		t.Errorf("position mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0, AngleDegrees(parent.Rotation, got.Rotation), 1e-9)
}

func TestInverse_RoundTrip(t *testing.T) {
	p := New(Vec3{-4, 0.5, 7}, AxisAngle(Vec3{1, 1, 0}, 73))

	got := p.Compose(p.Inverse())

	assert.True(t, ApproxEqual(Identity, got, 1e-9), "p ∘ p⁻¹ = %+v", got)
}

func TestDelta(t *testing.T) {
	from := New(Vec3{1, 0, 0}, AxisAngle(Vec3{0, 1, 0}, 10))
	to := New(Vec3{3, 2, -1}, AxisAngle(Vec3{0, 1, 0}, 55))

	d := Delta(from, to)

	assert.True(t, ApproxEqual(to, d.Compose(from), 1e-9))
}

func TestAngleDegrees(t *testing.T) {
	tests := []struct {
		name string
		a, b Quat
		want float64
	}{
		{"same", IdentityQuat, IdentityQuat, 0},
		{"quarter turn", IdentityQuat, AxisAngle(Vec3{0, 0, 1}, 90), 90},
		{"double cover", AxisAngle(Vec3{1, 0, 0}, 20), Quat{-0.17364817766693033, 0, 0, -0.984807753012208}, 0},
		{"half turn", IdentityQuat, AxisAngle(Vec3{0, 1, 0}, 180), 180},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, AngleDegrees(tt.a, tt.b), 1e-6)
		})
	}
}

func TestIsFinite(t *testing.T) {
	assert.True(t, Identity.IsFinite())
	assert.False(t, New(Vec3{math.NaN(), 0, 0}, IdentityQuat).IsFinite())
	assert.False(t, New(Vec3{}, Quat{0, 0, 0, math.Inf(1)}).IsFinite())
}

func TestIsValid(t *testing.T) {
	assert.True(t, Identity.IsValid())
	assert.True(t, New(Vec3{1, 2, 3}, AxisAngle(Vec3{Y: 1}, 30)).IsValid())
	assert.False(t, Pose{}.IsValid(), "zero quaternion")
	assert.False(t, New(Vec3{}, Quat{0, 0, 1e-9, 0}).IsValid())
	assert.False(t, New(Vec3{math.NaN(), 0, 0}, IdentityQuat).IsValid())
}
