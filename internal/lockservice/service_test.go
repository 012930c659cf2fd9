package lockservice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) *Redis {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewRedis(rdb, RedisOptions{
		Expiry:     5 * time.Second,
		Tries:      1000,
		RetryDelay: time.Millisecond,
	})
}

func TestWithAccountLockSerializes(t *testing.T) {
	testCases := []struct {
		name   string
		locker func(t *testing.T) Locker
	}{
		{
			name:   "Local",
			locker: func(*testing.T) Locker { return NewLocal() },
		},
		{
			name:   "Redis",
			locker: func(t *testing.T) Locker { return newRedisLocker(t) },
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			s := New(tc.locker(t))
			ctx := context.Background()

			const workers = 20

			var (
				wg       sync.WaitGroup
				inside   atomic.Int32
				overlaps atomic.Int32
				total    atomic.Int32
			)

			for i := 0; i < workers; i++ {
				wg.Add(1)

				go func() {
					defer wg.Done()

					err := s.WithAccountLock(ctx, "acc-1", func(context.Context) error {
						if inside.Add(1) > 1 {
							overlaps.Add(1)
						}

						time.Sleep(time.Millisecond)

						total.Add(1)
						inside.Add(-1)

						return nil
					})
					require.NoError(t, err)
				}()
			}

			wg.Wait()

			require.Zero(t, overlaps.Load())
			require.EqualValues(t, workers, total.Load())
		})
	}
}

func TestWithAccountLockReleasesOnError(t *testing.T) {
	local := NewLocal()
	s := New(local)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := s.WithAccountLock(ctx, "acc-1", func(context.Context) error { return errBoom })
	require.ErrorIs(t, err, errBoom)
	require.Zero(t, local.size())

	require.Panics(t, func() {
		_ = s.WithAccountLock(ctx, "acc-1", func(context.Context) error { panic("boom") })
	})
	require.Zero(t, local.size())

	err = s.WithAccountLock(ctx, "acc-1", func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestWithAccountLockCancelled(t *testing.T) {
	s := New(NewLocal())
	held := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_ = s.WithAccountLock(context.Background(), "acc-1", func(context.Context) error {
			close(held)
			<-done
			return nil
		})
	}()

	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	called := false
	err := s.WithAccountLock(ctx, "acc-1", func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, called)

	close(done)
}

func TestWithAccountsLockOppositeOrder(t *testing.T) {
	s := New(NewLocal())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		ids := []string{"a", "b"}
		if i%2 == 1 {
			ids = []string{"b", "a"}
		}

		wg.Add(1)

		go func(ids []string) {
			defer wg.Done()

			err := s.WithAccountsLock(ctx, ids, func(context.Context) error {
				time.Sleep(100 * time.Microsecond)
				return nil
			})
			require.NoError(t, err)
		}(ids)
	}

	wg.Wait()
}

func TestSortedUnique(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, sortedUnique([]string{"c", "a", "b", "a", "c"}))
	require.Equal(t, []string{"x"}, sortedUnique([]string{"x", "x"}))
	require.Empty(t, sortedUnique(nil))
}
