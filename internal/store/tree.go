package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Child is one keyed value under a tree node.
type Child struct {
	Path  string
	Key   string
	Value []byte
	Seq   int64
}

// Join builds a node path from segments, dropping empty ones.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

func validate(path, key string) error {
	if path == "" {
		return fmt.Errorf("store: empty path")
	}
	if key == "" || strings.Contains(key, "/") {
		return fmt.Errorf("store: invalid key %q", key)
	}
	return nil
}

// Set writes the child at path/key, replacing any previous value, and wakes
// local subscribers. Returns the seq stamped on the row.
func (s *Store) Set(ctx context.Context, path, key string, value []byte) (int64, error) {
	if err := validate(path, key); err != nil {
		return 0, err
	}
	if value == nil {
		value = []byte{}
	}

	var seq int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO children (path, key, value, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM children))
		ON CONFLICT(path, key) DO UPDATE SET
			value = excluded.value,
			seq = excluded.seq
		RETURNING seq
	`, path, key, value).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("set %s/%s: %w", path, key, err)
	}

	s.nudge()
	return seq, nil
}

// Get returns one child. Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, path, key string) (Child, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT path, key, value, seq
		FROM children
		WHERE path = ? AND key = ?
	`, path, key)

	var c Child
	if err := row.Scan(&c.Path, &c.Key, &c.Value, &c.Seq); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Child{}, fmt.Errorf("get %s/%s: %w", path, key, ErrNotFound)
		}
		return Child{}, fmt.Errorf("get %s/%s: %w", path, key, err)
	}
	return c, nil
}

// List returns the children of path ordered by key.
//
// Returns an empty slice (not nil) if the node has no children.
func (s *Store) List(ctx context.Context, path string) ([]Child, error) {
	return s.query(ctx, `
		SELECT path, key, value, seq
		FROM children
		WHERE path = ?
		ORDER BY key COLLATE BINARY ASC
	`, path)
}

// Since returns the children of path written after seq, oldest first.
func (s *Store) Since(ctx context.Context, path string, seq int64) ([]Child, error) {
	return s.query(ctx, `
		SELECT path, key, value, seq
		FROM children
		WHERE path = ? AND seq > ?
		ORDER BY seq ASC
	`, path, seq)
}

// Paths returns every node path that has children, sorted.
func (s *Store) Paths(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT path FROM children ORDER BY path COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query paths: %w", err)
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate paths: %w", err)
	}
	return paths, nil
}

// LastSeq returns the highest seq in the tree, or 0 if it is empty.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM children`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Child, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query children: %w", err)
	}
	defer rows.Close()

	children := []Child{}
	for rows.Next() {
		var c Child
		if err := rows.Scan(&c.Path, &c.Key, &c.Value, &c.Seq); err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate children: %w", err)
	}
	return children, nil
}

// PutBlob stores a large asset under name, replacing any previous one.
func (s *Store) PutBlob(ctx context.Context, name string, data []byte) error {
	if name == "" {
		return fmt.Errorf("store: empty blob name")
	}
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (name, data, seq)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM blobs))
		ON CONFLICT(name) DO UPDATE SET
			data = excluded.data,
			seq = excluded.seq
	`, name, data)
	if err != nil {
		return fmt.Errorf("put blob %s: %w", name, err)
	}
	return nil
}

// BlobSize returns the size of a stored asset without reading it.
// Returns ErrNotFound if it does not exist.
func (s *Store) BlobSize(ctx context.Context, name string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT length(data) FROM blobs WHERE name = ?`, name).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("blob %s: %w", name, ErrNotFound)
		}
		return 0, fmt.Errorf("blob %s: %w", name, err)
	}
	return n, nil
}

// ReadBlob returns a stored asset. Returns ErrNotFound if it does not exist.
func (s *Store) ReadBlob(ctx context.Context, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE name = ?`, name).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("blob %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("blob %s: %w", name, err)
	}
	return data, nil
}

// Blobs returns the names of every stored asset, sorted.
func (s *Store) Blobs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM blobs ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query blobs: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan blob: %w", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate blobs: %w", err)
	}
	return names, nil
}
