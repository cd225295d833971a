package cloud

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchorsync/internal/asset"
	"github.com/roach88/anchorsync/internal/codec"
	"github.com/roach88/anchorsync/internal/ir"
	"github.com/roach88/anchorsync/internal/pose"
	"github.com/roach88/anchorsync/internal/scene"
	"github.com/roach88/anchorsync/internal/store"
)

func TestIsScan(t *testing.T) {
	assert.True(t, IsScan("MeshAnchor_123"))
	assert.False(t, IsScan("cube"))
	assert.False(t, IsScan("meshanchor"))
}

func TestScanResolver_NonScanDefersToBase(t *testing.T) {
	r := NewScanResolver(scene.New("cube"), nil, "meshes", asset.DiskCache{Dir: t.TempDir()}, asset.NewFetcher(1, 0), quiet())

	rep, err := r.Resolve("cube")
	require.NoError(t, err)
	assert.NotNil(t, rep)

	_, err = r.Resolve("sphere")
	assert.ErrorIs(t, err, scene.ErrUnknownTemplate)
}

type scanEnv struct {
	*env
	scans   *ScanResolver
	fetcher *asset.Fetcher
}

func newScanEnv(t *testing.T) *scanEnv {
	t.Helper()
	se := &scanEnv{fetcher: asset.NewFetcher(3, time.Millisecond, asset.WithLogger(quiet()))}
	cache := asset.DiskCache{Dir: t.TempDir()}
	se.env = newEnv(t, func(a *Adapter, scn *scene.Scene) scene.Resolver {
		se.scans = a.Scans(scene.New("cube"), cache, se.fetcher)
		return se.scans
	})
	t.Cleanup(se.fetcher.Wait)

	se.space(7, map[uint64]VisibleNodes{1: nodes(node(7, pose.Identity))})
	se.anchor(5, 7, at(1, 0, 0))
	se.activate(7)
	return se
}

func (se *scanEnv) blob(template string, data []byte) {
	se.t.Helper()
	require.NoError(se.t, se.st.PutBlob(context.Background(), store.Join(se.paths.Meshes, template+ScanExt), data))
}

func TestScanResolver_DownloadsThenAnnounces(t *testing.T) {
	se := newScanEnv(t)
	se.blob("MeshAnchor1", []byte("mesh"))

	se.entity(5, EntityRecord{UserID: "MeshAnchor1", Version: 1})
	se.until(se.has(5))

	path, ok := se.scans.Path("MeshAnchor1")
	require.True(t, ok)
	assert.FileExists(t, path)

	v, _ := se.view(5)
	assertPose(t, at(1, 0, 0), v.World)
	assert.False(t, se.fetcher.InFlight(store.Join(se.paths.Meshes, "MeshAnchor1"+ScanExt)))
}

func TestScanResolver_RetriesOnNextTouch(t *testing.T) {
	se := newScanEnv(t)

	se.entity(5, EntityRecord{UserID: "MeshAnchor2", Version: 1})
	se.until(func() bool { return len(se.ad.entities) == 1 })
	se.fetcher.Wait()
	se.settle()
	_, ok := se.view(5)
	assert.False(t, ok, "no representation while the scan is missing")

	se.blob("MeshAnchor2", []byte("mesh"))
	se.entity(5, EntityRecord{UserID: "MeshAnchor2", Pose: codec.EncodePose(at(0, 1, 0)), Version: 2})
	se.until(se.has(5))

	v, _ := se.view(5)
	assert.Equal(t, uint64(2), v.Version)
	assertPose(t, at(1, 1, 0), v.World)
	assert.Equal(t, ir.AnchorID(5), v.Anchor)
}
