package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedClock(t *testing.T) {
	start := time.Date(2025, 3, 10, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))
	clock := NewFixedClock(start)

	assert.True(t, clock.Now().Equal(start))
	assert.Equal(t, time.UTC, clock.Now().Location())

	clock.Advance(90 * time.Minute)
	assert.True(t, clock.Now().Equal(start.Add(90*time.Minute)))

	clock.Set(start)
	assert.True(t, clock.Now().Equal(start))
}

func TestFixedRunIDGenerator(t *testing.T) {
	gen := NewFixedRunIDGenerator("run-123")
	assert.Equal(t, "run-123", gen.Generate())
	assert.Equal(t, "run-123", gen.Generate())

	assert.Equal(t, "test-run-default", NewFixedRunIDGenerator("").Generate())
}

func TestSequentialIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequentialIDGenerator("run")
	const workers = 10

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*50)
	assert.True(t, seen["run-1"])
}
