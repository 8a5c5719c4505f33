// ABOUTME: Tests for the handled-event filter
// ABOUTME: Validates first-sighting semantics, window expiry, capacity, and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFilter_FirstSighting(t *testing.T) {
	f := NewFilter(time.Minute, 10)

	assert.True(t, f.First("$event1"))
	assert.False(t, f.First("$event1"))
	assert.True(t, f.First("$event2"))
	assert.Equal(t, 2, f.Len())
}

func TestFilter_WindowExpiry(t *testing.T) {
	f := NewFilter(time.Minute, 10)
	now := time.Now()
	f.now = func() time.Time { return now }

	assert.True(t, f.First("$event"))

	now = now.Add(time.Minute)
	assert.False(t, f.First("$event"), "still inside the window")

	now = now.Add(time.Minute + time.Second)
	assert.True(t, f.First("$event"), "window passed")
}

func TestFilter_PrunesExpired(t *testing.T) {
	f := NewFilter(time.Second, 10)
	now := time.Now()
	f.now = func() time.Time { return now }

	f.First("$a")
	f.First("$b")
	now = now.Add(2 * time.Second)
	f.First("$c")

	assert.Equal(t, 1, f.Len())
}

func TestFilter_CapacityDropsOldest(t *testing.T) {
	f := NewFilter(time.Hour, 3)

	for i := 0; i < 4; i++ {
		assert.True(t, f.First(fmt.Sprintf("$e%d", i)))
	}

	assert.Equal(t, 3, f.Len())
	assert.True(t, f.First("$e0"), "oldest id was dropped")
	assert.False(t, f.First("$e3"))
}

func TestFilter_ZeroCapacity(t *testing.T) {
	f := NewFilter(time.Hour, 0)

	assert.True(t, f.First("$a"))
	assert.False(t, f.First("$a"))
	assert.True(t, f.First("$b"))
	assert.Equal(t, 1, f.Len())
}

func TestFilter_ConcurrentSingleWinner(t *testing.T) {
	f := NewFilter(time.Minute, 100)
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if f.First("$same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}
