package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchorsync/internal/adapter/cloud"
	"github.com/roach88/anchorsync/internal/codec"
	"github.com/roach88/anchorsync/internal/store"
)

func execPut(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewPutCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func openTestStore(t *testing.T, path string) *store.Store {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestPutSpace(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	out, err := execPut(t, "text", "space", "7", "--db", db, "--session", "3", "--node", "7@0,0,0", "--node", "8@1,0,0")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote users/local/default/userdata/spaces/7")

	st := openTestStore(t, db)
	c, err := st.Get(context.Background(), cloud.NewPaths("local", "default").Spaces, "7")
	require.NoError(t, err)

	var sessions map[string]string
	require.NoError(t, json.Unmarshal(c.Value, &sessions))
	require.Contains(t, sessions, "3")
	vn, err := cloud.DecodeSession(sessions["3"])
	require.NoError(t, err)
	require.Len(t, vn.Nodes, 2)
	assert.Equal(t, uint64(8), vn.Nodes[1].ID)
	assert.Equal(t, 1.0, vn.Nodes[1].Pose.X)
}

func TestPutAnchor(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	_, err := execPut(t, "text", "anchor", "42", "--db", db, "--user", "ana", "--namespace", "lab", "--parent", "7", "--at", "1,2,3")
	require.NoError(t, err)

	st := openTestStore(t, db)
	c, err := st.Get(context.Background(), cloud.NewPaths("ana", "lab").Anchors, "42")
	require.NoError(t, err)

	var rec cloud.AnchorRecord
	require.NoError(t, json.Unmarshal(c.Value, &rec))
	assert.Equal(t, int64(7), rec.Parent)
	p, err := codec.DecodePose(rec.Pose)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p.Position.X, 1e-6)
	assert.InDelta(t, 2.0, p.Position.Y, 1e-6)
	assert.InDelta(t, 3.0, p.Position.Z, 1e-6)
}

func TestPutEntity(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	out, err := execPut(t, "json", "entity", "42", "--db", db, "--template", "cube", "--version", "2", "--data", "hello")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Key string `json:"key"`
			Seq int64  `json:"seq"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "42", resp.Data.Key)
	assert.Positive(t, resp.Data.Seq)

	st := openTestStore(t, db)
	c, err := st.Get(context.Background(), cloud.NewPaths("local", "default").Entities, "42")
	require.NoError(t, err)

	var rec cloud.EntityRecord
	require.NoError(t, json.Unmarshal(c.Value, &rec))
	assert.Equal(t, "cube", rec.UserID)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, []byte("hello"), rec.Data)
	assert.Equal(t, int64(5), rec.Size)
	assert.False(t, rec.Deleted)
}

func TestPutEntityTombstone(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	_, err := execPut(t, "text", "entity", "42", "--db", db, "--deleted", "--version", "3")
	require.NoError(t, err)

	st := openTestStore(t, db)
	c, err := st.Get(context.Background(), cloud.NewPaths("local", "default").Entities, "42")
	require.NoError(t, err)

	var rec cloud.EntityRecord
	require.NoError(t, json.Unmarshal(c.Value, &rec))
	assert.True(t, rec.Deleted)
}

func TestPutEntityRequiresTemplate(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	_, err := execPut(t, "text", "entity", "42", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--template is required")
}

func TestPutRejectsBadInput(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	tests := []struct {
		name string
		args []string
		msg  string
	}{
		{"zero_id", []string{"anchor", "0", "--db", db}, "invalid id"},
		{"text_id", []string{"entity", "abc", "--db", db, "--template", "cube"}, "invalid id"},
		{"bad_at", []string{"anchor", "1", "--db", db, "--at", "1,2"}, "invalid --at"},
		{"bad_node", []string{"space", "1", "--db", db, "--node", "x@0,0,0"}, "invalid --node"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execPut(t, "text", tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestPutBlob(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "put.db")
	src := filepath.Join(dir, "scan.gltf")
	require.NoError(t, os.WriteFile(src, []byte("mesh-bytes"), 0644))

	out, err := execPut(t, "text", "blob", "MeshAnchor_1.gltf", src, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "(10 bytes)")

	st := openTestStore(t, db)
	name := store.Join(cloud.NewPaths("local", "default").Meshes, "MeshAnchor_1.gltf")
	data, err := st.ReadBlob(context.Background(), name)
	require.NoError(t, err)
	assert.Equal(t, []byte("mesh-bytes"), data)
}

func TestPutBlobMissingFile(t *testing.T) {
	db := filepath.Join(t.TempDir(), "put.db")

	_, err := execPut(t, "text", "blob", "x.gltf", "/nonexistent/x.gltf", "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read blob")
}

func TestParseNode(t *testing.T) {
	n, err := parseNode("12@1,2,3")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n.ID)
	assert.Equal(t, cloud.Pose3{X: 1, Y: 2, Z: 3, Qw: 1}, n.Pose)

	_, err = parseNode("12")
	assert.Error(t, err)
}
