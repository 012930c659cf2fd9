// Package lockservice serializes mutating operations per account.
package lockservice

import (
	"context"
	"sort"

	"github.com/rs/zerolog"
)

// Locker acquires an exclusive per-account lock. The returned unlock func
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, accountID string) (unlock func(), err error)
}

// Service provides scoped critical sections over a Locker.
type Service struct {
	locker Locker
}

// New returns lock service.
func New(locker Locker) *Service {
	return &Service{locker: locker}
}

// WithAccountLock runs fn while holding the account lock.
// The lock is released on every exit path, panics included.
func (s *Service) WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context) error) error {
	unlock, err := s.locker.Lock(ctx, accountID)
	if err != nil {
		zerolog.Ctx(ctx).Info().Err(err).Msgf("lock account %s", accountID)
		return err
	}
	defer unlock()

	return fn(ctx)
}

// WithAccountsLock runs fn while holding the locks of all given accounts.
// Locks are taken in ascending id order so that opposite transfers never deadlock.
func (s *Service) WithAccountsLock(ctx context.Context, accountIDs []string, fn func(ctx context.Context) error) error {
	ids := sortedUnique(accountIDs)

	unlocks := make([]func(), 0, len(ids))
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	for _, id := range ids {
		unlock, err := s.locker.Lock(ctx, id)
		if err != nil {
			zerolog.Ctx(ctx).Info().Err(err).Msgf("lock account %s", id)
			return err
		}

		unlocks = append(unlocks, unlock)
	}

	return fn(ctx)
}

func sortedUnique(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)

	n := 0

	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}

		out[n] = id
		n++
	}

	return out[:n]
}
