package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchorsync/internal/pose"
)

func samplePose() pose.Pose {
	return pose.New(pose.Vec3{X: 1.5, Y: -2, Z: 3.25}, pose.AxisAngle(pose.Vec3{X: 0, Y: 1, Z: 0}, 40))
}

func TestToWire_SignConvention(t *testing.T) {
	p := pose.New(pose.Vec3{X: 1, Y: 2, Z: 3}, pose.Quat{X: 0.1, Y: 0.2, Z: 0.3, W: 0.9})

	w := ToWire(p)

	assert.Equal(t, pose.Vec3{X: 1, Y: 2, Z: -3}, w.Position)
	assert.Equal(t, pose.Quat{X: 0.1, Y: 0.2, Z: -0.3, W: -0.9}, w.Rotation)
	assert.Equal(t, p, FromWire(w), "conversion must be an involution")
}

func TestEncodePose_FieldOrder(t *testing.T) {
	p := pose.New(pose.Vec3{X: 4, Y: 5, Z: 6}, pose.Quat{X: 0, Y: 0, Z: 0, W: 1})

	fields := EncodePose(p)

	require.Len(t, fields, PoseFields)
	got := make([]float64, len(fields))
	for i, f := range fields {
		got[i] = math.Float64frombits(uint64(f))
	}
	assert.Equal(t, []float64{0, 0, 0, -1, 4, 5, -6}, got)
}

func TestDecodePose_BitExact(t *testing.T) {
	p := samplePose()

	got, err := DecodePose(EncodePose(p))

	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestDecodePose_WrongLength(t *testing.T) {
	_, err := DecodePose([]int64{1, 2, 3})

	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestDecodePose_NaN(t *testing.T) {
	fields := EncodePose(pose.Identity)
	fields[4] = int64(math.Float64bits(math.NaN()))

	_, err := DecodePose(fields)

	assert.ErrorIs(t, err, ErrNotFinite)
}

func TestMarshalPose(t *testing.T) {
	p := samplePose()

	buf := MarshalPose(p)
	require.Len(t, buf, PoseBytes)

	got, err := UnmarshalPose(buf)
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = UnmarshalPose(buf[:10])
	assert.ErrorIs(t, err, ErrFieldCount)
}

func TestIDReinterpretation(t *testing.T) {
	const big = uint64(0xfedcba9876543210)

	assert.Negative(t, Int64(big))
	assert.Equal(t, big, Uint64(Int64(big)))
}

func TestTemplateID_NFC(t *testing.T) {
	decomposed := "Cafe\u0301"
	composed := "Caf\u00e9"

	assert.Equal(t, composed, TemplateID(decomposed))
	assert.Equal(t, composed, TemplateID(composed))
}
