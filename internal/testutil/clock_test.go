package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_StartsAtEpoch(t *testing.T) {
	clock := NewManualClock(time.Time{})
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_CustomStart(t *testing.T) {
	start := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)
	assert.Equal(t, start, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(time.Time{})

	got := clock.Advance(250 * time.Millisecond)
	assert.Equal(t, Epoch.Add(250*time.Millisecond), got)
	assert.Equal(t, got, clock.Now())

	// Negative steps are ignored
	clock.Advance(-time.Second)
	assert.Equal(t, got, clock.Now())
}

func TestManualClock_Reset(t *testing.T) {
	clock := NewManualClock(time.Time{})
	clock.Advance(time.Hour)

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(time.Time{})
	const numGoroutines = 50
	const callsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < callsPerGoroutine; j++ {
				clock.Advance(time.Millisecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, Epoch.Add(numGoroutines*callsPerGoroutine*time.Millisecond), clock.Now())
}
