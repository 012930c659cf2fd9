package clockpkg

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotonicStrictlyIncreasing(t *testing.T) {
	frozen := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	clock := NewMonotonic(frozen)

	prev := clock.Now()
	for i := 0; i < 100; i++ {
		next := clock.Now()
		require.True(t, next.After(prev), "%v is not after %v", next, prev)
		prev = next
	}
}

func TestMonotonicConcurrentUnique(t *testing.T) {
	clock := NewMonotonic(SystemClock{})

	const n = 200

	var (
		mu   sync.Mutex
		seen = make(map[time.Time]struct{}, n)
		wg   sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ts := clock.Now()

			mu.Lock()
			seen[ts] = struct{}{}
			mu.Unlock()
		}()
	}

	wg.Wait()

	require.Len(t, seen, n)
}

func TestMonotonicTruncatesToMicroseconds(t *testing.T) {
	base := NewFake(time.Date(2024, 1, 1, 0, 0, 0, 1500, time.UTC))
	got := NewMonotonic(base).Now()

	require.Equal(t, 0, got.Nanosecond()%1000)
}
