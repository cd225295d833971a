package cloud

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/roach88/anchorsync/internal/codec"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/store"
)

// Paths are the tree nodes one user's namespace lives under.
type Paths struct {
	Spaces   string
	Anchors  string
	Entities string
	Meshes   string
}

// NewPaths builds the layout users/{user}/{namespace}/userdata/...
func NewPaths(user, namespace string) Paths {
	root := store.Join("users", user, namespace)
	data := store.Join(root, "userdata")
	return Paths{
		Spaces:   store.Join(data, "spaces"),
		Anchors:  store.Join(data, "anchors"),
		Entities: store.Join(data, "entities"),
		Meshes:   store.Join(root, "meshes"),
	}
}

// AnchorRecord is the stored form of an anchor. Pose is relative to the
// visible node named by Parent.
type AnchorRecord struct {
	Rnd    int64   `json:"_rnd"`
	Parent int64   `json:"parent"`
	Pose   []int64 `json:"pose"`
}

// EntityRecord is the stored form of an entity. Pose is relative to the
// entity's anchor, which shares the entity's key.
type EntityRecord struct {
	Rnd     int64   `json:"_rnd"`
	UserID  string  `json:"user_id"`
	Pose    []int64 `json:"pose"`
	Version int64   `json:"version"`
	Size    int64   `json:"size"`
	Deleted bool    `json:"deleted"`
	Data    []byte  `json:"data,omitempty"`
}

// sameContent compares two anchor records ignoring the nonce.
func (r AnchorRecord) sameContent(o AnchorRecord) bool {
	return r.Parent == o.Parent && equalFields(r.Pose, o.Pose)
}

// sameContent compares two entity records ignoring the nonce.
func (r EntityRecord) sameContent(o EntityRecord) bool {
	return r.UserID == o.UserID &&
		r.Version == o.Version &&
		r.Deleted == o.Deleted &&
		equalFields(r.Pose, o.Pose) &&
		string(r.Data) == string(o.Data)
}

func equalFields(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func decodeAnchor(raw []byte) (AnchorRecord, pose.Pose, error) {
	var r AnchorRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, pose.Pose{}, fmt.Errorf("decode anchor: %w", err)
	}
	p, err := codec.DecodePose(r.Pose)
	if err != nil {
		return r, pose.Pose{}, fmt.Errorf("decode anchor: %w", err)
	}
	return r, p, nil
}

func decodeEntity(raw []byte) (EntityRecord, pose.Pose, error) {
	var r EntityRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, pose.Pose{}, fmt.Errorf("decode entity: %w", err)
	}
	if r.Deleted {
		return r, pose.Identity, nil
	}
	p, err := codec.DecodePose(r.Pose)
	if err != nil {
		return r, pose.Pose{}, fmt.Errorf("decode entity: %w", err)
	}
	return r, p, nil
}

// Pose3 is a visible node's pose in the space frame. Node poses are stored in
// the local convention, without the wire sign flips.
type Pose3 struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	Qx float64 `json:"qx"`
	Qy float64 `json:"qy"`
	Qz float64 `json:"qz"`
	Qw float64 `json:"qw"`
}

// NewPose3 converts a pose.
func NewPose3(p pose.Pose) Pose3 {
	return Pose3{
		X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z,
		Qx: p.Rotation.X, Qy: p.Rotation.Y, Qz: p.Rotation.Z, Qw: p.Rotation.W,
	}
}

// Pose converts back to a pose.
func (p Pose3) Pose() pose.Pose {
	return pose.New(
		pose.Vec3{X: p.X, Y: p.Y, Z: p.Z},
		pose.Quat{X: p.Qx, Y: p.Qy, Z: p.Qz, W: p.Qw},
	)
}

// VisibleNode is one mapping node a session localized against.
type VisibleNode struct {
	ID   uint64 `json:"id"`
	Pose Pose3  `json:"pose"`
}

// VisibleNodes is the payload a session publishes for its space.
type VisibleNodes struct {
	Nodes []VisibleNode `json:"nodes"`
}

// EncodeSession encodes the payload stored under a space's session key.
func EncodeSession(v VisibleNodes) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeSession reverses EncodeSession.
func DecodeSession(s string) (VisibleNodes, error) {
	var v VisibleNodes
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return v, fmt.Errorf("decode session: %w", err)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode session: %w", err)
	}
	return v, nil
}

// EncodeSpace encodes a space child: session id -> encoded VisibleNodes.
func EncodeSpace(sessions map[uint64]VisibleNodes) ([]byte, error) {
	out := make(map[string]string, len(sessions))
	for id, v := range sessions {
		s, err := EncodeSession(v)
		if err != nil {
			return nil, err
		}
		out[strconv.FormatUint(id, 10)] = s
	}
	return json.Marshal(out)
}

type session struct {
	id  uint64
	raw string
}

// decodeSpace returns the sessions of a space child, ascending by id.
// Keys that are not numeric are skipped.
func decodeSpace(raw []byte) ([]session, error) {
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode space: %w", err)
	}
	out := make([]session, 0, len(m))
	for k, v := range m {
		id, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, session{id: id, raw: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out, nil
}
