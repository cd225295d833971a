package asset

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Source is where assets are downloaded from. *store.Store implements it.
type Source interface {
	BlobSize(ctx context.Context, name string) (int64, error)
	ReadBlob(ctx context.Context, name string) ([]byte, error)
}

// DiskCache keeps downloaded assets in one directory.
type DiskCache struct {
	Dir string
}

// Path returns where key is cached. Path separators in key are flattened.
func (c DiskCache) Path(key string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(key)
	return filepath.Join(c.Dir, name)
}

// Has reports whether key is cached with exactly size bytes.
func (c DiskCache) Has(key string, size int64) bool {
	info, err := os.Stat(c.Path(key))
	return err == nil && info.Mode().IsRegular() && info.Size() == size
}

// Sync makes the cached copy of key match src. A local file of the same size
// as the remote one is trusted and not downloaded again. Returns the local
// path.
func (c DiskCache) Sync(ctx context.Context, src Source, key string) (string, error) {
	size, err := src.BlobSize(ctx, key)
	if err != nil {
		return "", fmt.Errorf("sync %s: %w", key, err)
	}
	path := c.Path(key)
	if c.Has(key, size) {
		return path, nil
	}

	data, err := src.ReadBlob(ctx, key)
	if err != nil {
		return "", fmt.Errorf("sync %s: %w", key, err)
	}
	if err := c.write(path, data); err != nil {
		return "", fmt.Errorf("sync %s: %w", key, err)
	}
	return path, nil
}

// write replaces path atomically.
func (c DiskCache) write(path string, data []byte) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(c.Dir, ".partial-*")
	if err != nil {
		return err
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
