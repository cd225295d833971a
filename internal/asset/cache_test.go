package asset

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

type memSource struct {
	blobs map[string][]byte
	reads int
}

func (m *memSource) BlobSize(_ context.Context, name string) (int64, error) {
	b, ok := m.blobs[name]
	if !ok {
		return 0, errMissing
	}
	return int64(len(b)), nil
}

func (m *memSource) ReadBlob(_ context.Context, name string) ([]byte, error) {
	b, ok := m.blobs[name]
	if !ok {
		return nil, errMissing
	}
	m.reads++
	return b, nil
}

func TestDiskCache_Path(t *testing.T) {
	c := DiskCache{Dir: "/cache"}
	assert.Equal(t, filepath.Join("/cache", "a_b.obj"), c.Path("a/b.obj"))
}

func TestDiskCache_SyncDownloadsOnce(t *testing.T) {
	c := DiskCache{Dir: filepath.Join(t.TempDir(), "scans")}
	src := &memSource{blobs: map[string][]byte{"MeshAnchor_1.obj": []byte("v 0 0 0")}}
	ctx := context.Background()

	path, err := c.Sync(ctx, src, "MeshAnchor_1.obj")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("v 0 0 0"), data)
	assert.True(t, c.Has("MeshAnchor_1.obj", 7))

	_, err = c.Sync(ctx, src, "MeshAnchor_1.obj")
	require.NoError(t, err)
	assert.Equal(t, 1, src.reads, "same size is not downloaded again")

	src.blobs["MeshAnchor_1.obj"] = []byte("v 1 1 1\nv 2 2 2")
	_, err = c.Sync(ctx, src, "MeshAnchor_1.obj")
	require.NoError(t, err)
	assert.Equal(t, 2, src.reads, "size change triggers a download")

	entries, err := os.ReadDir(c.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files left behind")
}

func TestDiskCache_SyncMissing(t *testing.T) {
	c := DiskCache{Dir: t.TempDir()}

	_, err := c.Sync(context.Background(), &memSource{}, "nope")
	assert.ErrorIs(t, err, errMissing)
	assert.False(t, c.Has("nope", 0))
}
