package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/anchorsync/internal/pose"
)

// PoseFields is the number of fixed-width fields in an encoded pose.
const PoseFields = 7

// PoseBytes is the size of a pose encoded by MarshalPose.
const PoseBytes = PoseFields * 8

var (
	// ErrFieldCount is returned when an encoded pose has the wrong length.
	ErrFieldCount = errors.New("codec: encoded pose must have 7 fields")

	// ErrNotFinite is returned when an encoded pose contains NaN or Inf.
	ErrNotFinite = errors.New("codec: encoded pose is not finite")
)

// ToWire converts a local pose into the wire convention.
func ToWire(p pose.Pose) pose.Pose {
	return pose.Pose{
		Position: pose.Vec3{X: p.Position.X, Y: p.Position.Y, Z: -p.Position.Z},
		Rotation: pose.Quat{X: p.Rotation.X, Y: p.Rotation.Y, Z: -p.Rotation.Z, W: -p.Rotation.W},
	}
}

// FromWire converts a wire pose into the local convention.
func FromWire(p pose.Pose) pose.Pose {
	return ToWire(p)
}

func wireFields(p pose.Pose) [PoseFields]float64 {
	w := ToWire(p)
	return [PoseFields]float64{
		w.Rotation.X, w.Rotation.Y, w.Rotation.Z, w.Rotation.W,
		w.Position.X, w.Position.Y, w.Position.Z,
	}
}

func fromFields(f [PoseFields]float64) (pose.Pose, error) {
	w := pose.Pose{
		Rotation: pose.Quat{X: f[0], Y: f[1], Z: f[2], W: f[3]},
		Position: pose.Vec3{X: f[4], Y: f[5], Z: f[6]},
	}
	if !w.IsFinite() {
		return pose.Pose{}, ErrNotFinite
	}
	return FromWire(w), nil
}

// EncodePose encodes a local pose as 7 int64 bit patterns.
func EncodePose(p pose.Pose) []int64 {
	f := wireFields(p)
	out := make([]int64, PoseFields)
	for i, v := range f {
		out[i] = int64(math.Float64bits(v))
	}
	return out
}

// DecodePose decodes 7 int64 bit patterns into a local pose.
func DecodePose(fields []int64) (pose.Pose, error) {
	if len(fields) != PoseFields {
		return pose.Pose{}, fmt.Errorf("%w: got %d", ErrFieldCount, len(fields))
	}
	var f [PoseFields]float64
	for i, v := range fields {
		f[i] = math.Float64frombits(uint64(v))
	}
	return fromFields(f)
}

// MarshalPose encodes a local pose into a 56-byte little-endian buffer.
func MarshalPose(p pose.Pose) []byte {
	f := wireFields(p)
	buf := make([]byte, PoseBytes)
	for i, v := range f {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return buf
}

// UnmarshalPose decodes a buffer produced by MarshalPose.
func UnmarshalPose(buf []byte) (pose.Pose, error) {
	if len(buf) != PoseBytes {
		return pose.Pose{}, fmt.Errorf("%w: got %d bytes", ErrFieldCount, len(buf))
	}
	var f [PoseFields]float64
	for i := range f {
		f[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return fromFields(f)
}

// Int64 reinterprets an unsigned id as the signed value stored on the wire.
func Int64(u uint64) int64 {
	return int64(u)
}

// Uint64 reinterprets a signed wire value as an unsigned id.
func Uint64(i int64) uint64 {
	return uint64(i)
}

// TemplateID normalizes a template identifier to NFC so that ids typed on
// different platforms compare equal.
func TemplateID(s string) string {
	return norm.NFC.String(s)
}
