package lockservice

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Local is an in-process Locker. Waiting honours context cancellation.
type Local struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewLocal returns an empty Local locker.
func NewLocal() *Local {
	return &Local{locks: make(map[string]*localLock)}
}

// Lock implements Locker.
func (l *Local) Lock(ctx context.Context, accountID string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[accountID]
	if !ok {
		lk = &localLock{sem: semaphore.NewWeighted(1)}
		l.locks[accountID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	if err := lk.sem.Acquire(ctx, 1); err != nil {
		l.release(accountID, lk)
		return nil, err
	}

	var once sync.Once

	return func() {
		once.Do(func() {
			lk.sem.Release(1)
			l.release(accountID, lk)
		})
	}, nil
}

// release drops the entry once nobody holds or waits for it.
func (l *Local) release(accountID string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, accountID)
	}
}

// size returns the number of tracked accounts.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
