package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoin(t *testing.T) {
	assert.Equal(t, "users/u1/ns/userdata", Join("users", "/u1/", "", "ns", "userdata/"))
	assert.Equal(t, "", Join())
}

func TestSet_GetRoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	seq, err := s.Set(ctx, "a/b", "k1", []byte(`{"v":1}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	c, err := s.Get(ctx, "a/b", "k1")
	require.NoError(t, err)
	assert.Equal(t, "a/b", c.Path)
	assert.Equal(t, "k1", c.Key)
	assert.Equal(t, []byte(`{"v":1}`), c.Value)
	assert.Equal(t, int64(1), c.Seq)
}

func TestSet_OverwriteAdvancesSeq(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Set(ctx, "p", "k1", []byte("one"))
	require.NoError(t, err)
	_, err = s.Set(ctx, "q", "k2", []byte("two"))
	require.NoError(t, err)
	seq, err := s.Set(ctx, "p", "k1", []byte("three"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq, "seq is global across paths")

	c, err := s.Get(ctx, "p", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("three"), c.Value)

	last, err := s.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last)
}

func TestSet_RejectsBadAddresses(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Set(ctx, "", "k", nil)
	assert.Error(t, err)
	_, err = s.Set(ctx, "p", "", nil)
	assert.Error(t, err)
	_, err = s.Set(ctx, "p", "a/b", nil)
	assert.Error(t, err)
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(context.Background(), "p", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_OrderedByKey(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, k := range []string{"c", "a", "b"} {
		_, err := s.Set(ctx, "p", k, []byte(k))
		require.NoError(t, err)
	}
	_, err := s.Set(ctx, "other", "z", nil)
	require.NoError(t, err)

	children, err := s.List(ctx, "p")
	require.NoError(t, err)
	require.Len(t, children, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{children[0].Key, children[1].Key, children[2].Key})

	empty, err := s.List(ctx, "nothing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	paths, err := s.Paths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"other", "p"}, paths)
}

func TestSince_SeqOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Set(ctx, "p", "b", nil)
	require.NoError(t, err)
	first, err := s.Set(ctx, "p", "a", nil)
	require.NoError(t, err)
	_, err = s.Set(ctx, "p", "b", []byte("again"))
	require.NoError(t, err)

	children, err := s.Since(ctx, "p", first-1)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "a", children[0].Key)
	assert.Equal(t, "b", children[1].Key)
}

func TestBlobs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.BlobSize(ctx, "scan.obj")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.ReadBlob(ctx, "scan.obj")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutBlob(ctx, "scan.obj", []byte("vertices")))
	require.NoError(t, s.PutBlob(ctx, "a.obj", []byte("x")))

	n, err := s.BlobSize(ctx, "scan.obj")
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	data, err := s.ReadBlob(ctx, "scan.obj")
	require.NoError(t, err)
	assert.Equal(t, []byte("vertices"), data)

	names, err := s.Blobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.obj", "scan.obj"}, names)

	assert.Error(t, s.PutBlob(ctx, "", nil))
}
