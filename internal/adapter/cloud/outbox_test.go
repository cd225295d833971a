package cloud

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/anchorsync/internal/store"
)

// flakyTree fails the first n Set calls.
type flakyTree struct {
	mu     sync.Mutex
	fail   int
	writes []string
}

func (f *flakyTree) Set(_ context.Context, path, key string, value []byte) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return 0, errors.New("unavailable")
	}
	f.writes = append(f.writes, key+"="+string(value))
	return int64(len(f.writes)), nil
}

func (f *flakyTree) Subscribe(string, store.Listener) *store.Subscription { return nil }

func (f *flakyTree) BlobSize(context.Context, string) (int64, error) { return 0, store.ErrNotFound }

func (f *flakyTree) ReadBlob(context.Context, string) ([]byte, error) { return nil, store.ErrNotFound }

func TestOutbox_LatestValueWins(t *testing.T) {
	o := newOutbox()
	o.put(write{path: "p", key: "a", value: []byte("1")})
	o.put(write{path: "p", key: "b", value: []byte("1")})
	o.put(write{path: "p", key: "a", value: []byte("2")})
	assert.Equal(t, 2, o.len())

	tree := &flakyTree{}
	require.NoError(t, o.flush(context.Background(), tree))
	assert.Equal(t, []string{"a=2", "b=1"}, tree.writes)
	assert.Equal(t, 0, o.len())
}

func TestOutbox_FailedWritesStayQueued(t *testing.T) {
	o := newOutbox()
	o.put(write{path: "p", key: "a", value: []byte("1")})
	o.put(write{path: "p", key: "b", value: []byte("1")})

	tree := &flakyTree{fail: 1}
	require.Error(t, o.flush(context.Background(), tree))
	assert.Equal(t, 2, o.len())

	require.NoError(t, o.flush(context.Background(), tree))
	assert.Equal(t, []string{"a=1", "b=1"}, tree.writes)
}

func TestOutbox_RestoreKeepsNewerValue(t *testing.T) {
	o := newOutbox()
	o.put(write{path: "p", key: "a", value: []byte("old")})
	ws := o.take()
	o.put(write{path: "p", key: "a", value: []byte("new")})
	o.put(write{path: "p", key: "c", value: []byte("1")})

	o.restore(ws)

	tree := &flakyTree{}
	require.NoError(t, o.flush(context.Background(), tree))
	assert.Equal(t, []string{"a=new", "c=1"}, tree.writes)
}

func TestAdapter_WriterRetriesUntilAccepted(t *testing.T) {
	tree := &flakyTree{fail: 3}
	var mu sync.Mutex
	var states []ConnState
	a := New(tree, NewPaths("u", "n"), WithLogger(quiet()), WithRetryInterval(5*time.Millisecond),
		WithStateHook(func(s ConnState) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, s)
		}))
	a.out.put(write{path: "p", key: "a", value: []byte("1")})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.writeLoop(ctx) }()

	require.Eventually(t, func() bool { return a.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	tree.mu.Lock()
	assert.Equal(t, []string{"a=1"}, tree.writes)
	tree.mu.Unlock()
	mu.Lock()
	assert.Equal(t, []ConnState{Connecting, Connected}, states)
	mu.Unlock()
}
