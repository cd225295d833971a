package cloud

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/roach88/anchorsync/internal/asset"
	"github.com/roach88/anchorsync/internal/scene"
	"github.com/roach88/anchorsync/internal/store"
)

// ScanPrefix marks templates whose asset is a scan mesh kept in blob storage.
const ScanPrefix = "MeshAnchor"

// ScanExt is the file extension of scan blobs.
const ScanExt = ".gltf"

// Catalog is a resolver that can learn new templates. *scene.Scene
// implements it.
type Catalog interface {
	scene.Resolver
	Register(template, assetPath string)
}

// ScanResolver resolves scan templates once their mesh is on disk and
// defers everything else to the base catalog.
//
// Resolving a scan that is not downloaded yet starts a background fetch,
// unless one is already in flight, and reports scene.ErrAssetPending. The
// engine abandons that add; ready is called after the download so the
// entities can be announced again.
type ScanResolver struct {
	base    Catalog
	src     asset.Source
	cache   asset.DiskCache
	fetcher *asset.Fetcher
	dir     string
	log     *slog.Logger

	mu    sync.Mutex
	local map[string]string // template -> cached path
	ready func(template string)
}

// NewScanResolver creates a resolver that downloads scans from dir in src.
func NewScanResolver(base Catalog, src asset.Source, dir string, cache asset.DiskCache, f *asset.Fetcher, log *slog.Logger) *ScanResolver {
	if log == nil {
		log = slog.Default()
	}
	return &ScanResolver{
		base:    base,
		src:     src,
		cache:   cache,
		fetcher: f,
		dir:     dir,
		log:     log,
		local:   make(map[string]string),
	}
}

// Scans returns a ScanResolver reading from the adapter's mesh folder that
// re-announces entities through the adapter when a scan arrives.
func (a *Adapter) Scans(base Catalog, cache asset.DiskCache, f *asset.Fetcher) *ScanResolver {
	r := NewScanResolver(base, a.tree, a.paths.Meshes, cache, f, a.log)
	r.OnReady(a.ScanReady)
	return r
}

// OnReady sets the callback run after a scan is downloaded. It runs on the
// fetcher's goroutine.
func (r *ScanResolver) OnReady(fn func(template string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = fn
}

// IsScan reports whether template names a scan mesh.
func IsScan(template string) bool {
	return strings.HasPrefix(template, ScanPrefix)
}

// Path returns the local path of a downloaded scan.
func (r *ScanResolver) Path(template string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.local[template]
	return p, ok
}

// Resolve implements scene.Resolver.
func (r *ScanResolver) Resolve(template string) (scene.Representation, error) {
	if !IsScan(template) {
		return r.base.Resolve(template)
	}
	if _, ok := r.Path(template); ok {
		return r.base.Resolve(template)
	}

	key := store.Join(r.dir, template+ScanExt)
	var path string
	started := r.fetcher.Start(key,
		func() error {
			p, err := r.cache.Sync(context.Background(), r.src, key)
			if err == nil {
				path = p
			}
			return err
		},
		func(err error) {
			if err != nil {
				return
			}
			r.mu.Lock()
			r.local[template] = path
			ready := r.ready
			r.mu.Unlock()

			r.base.Register(template, path)
			if ready != nil {
				ready(template)
			}
		},
	)
	if started {
		r.log.Info("downloading scan", "template", template, "blob", key)
	}
	return nil, fmt.Errorf("%w: %s", scene.ErrAssetPending, template)
}
