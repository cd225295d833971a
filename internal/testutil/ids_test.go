package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialIDs_DefaultStart(t *testing.T) {
	gen := NewSequentialIDs(0)

	assert.Equal(t, uint64(1), gen.NewID())
	assert.Equal(t, uint64(2), gen.NewID())
	assert.Equal(t, uint64(3), gen.NewID())
}

func TestSequentialIDs_CustomStart(t *testing.T) {
	gen := NewSequentialIDs(100)

	assert.Equal(t, uint64(100), gen.NewID())
	assert.Equal(t, uint64(101), gen.NewID())
}

func TestSequentialIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialIDs(1)

	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.NewID()
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %d", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
