// Package idempotencyservice guards mutating operations against re-execution on retries.
package idempotencyservice

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
)

// Repo provides the key/value store with passive expiry needed by the guard.
type Repo interface {
	Reserve(ctx context.Context, rec domain.IdempotencyRecord, now time.Time) (domain.IdempotencyRecord, bool, error)
	Complete(ctx context.Context, key string, result []byte, expiresAt time.Time) error
	Release(ctx context.Context, key string, reservedAt time.Time) error
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Outcome tells the caller whether to execute the guarded operation.
type Outcome int

// CheckOrReserve outcomes.
const (
	// Fresh obliges the caller to execute the operation and then Complete or Abandon the key.
	Fresh Outcome = iota + 1
	// Duplicate carries the stored result; the operation must not run again.
	Duplicate
)

// Check is the result of CheckOrReserve.
type Check struct {
	Outcome Outcome
	Result  []byte
	// ReservedAt identifies a Fresh reservation; Abandon takes it back.
	ReservedAt time.Time
}

// Default expiries.
const (
	DefaultTTL   = 24 * time.Hour
	DefaultLease = 5 * time.Minute
)

// Service facilitates the idempotency guard logic.
type Service struct {
	repo  Repo
	clock clockpkg.Clock
	ttl   time.Duration
	lease time.Duration
}

// New returns idempotency guard. Non positive durations fall back to the defaults.
func New(repo Repo, clock clockpkg.Clock, ttl, lease time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if lease <= 0 {
		lease = DefaultLease
	}

	return &Service{
		repo:  repo,
		clock: clock,
		ttl:   ttl,
		lease: lease,
	}
}

// Key scopes the client key by operation and account so the same client key
// can be reused on other endpoints or accounts without collision.
func Key(operation, accountID, clientKey string) string {
	return strings.Join([]string{operation, accountID, clientKey}, ":")
}

// CheckOrReserve atomically reserves key unless a live record holds it.
//
// A live completed record yields Duplicate with its stored result. A live
// reservation yields domain.ErrIdempotencyKeyInFlight.
func (s *Service) CheckOrReserve(ctx context.Context, key string) (Check, error) {
	l := zerolog.Ctx(ctx)

	if key == "" {
		return Check{}, domain.ErrIdempotencyKeyRequired
	}

	now := s.clock.Now()

	existing, reserved, err := s.repo.Reserve(ctx, domain.IdempotencyRecord{
		Key:       key,
		Status:    domain.IdempotencyInFlight,
		CreatedAt: now,
		ExpiresAt: now.Add(s.lease),
	}, now)
	if err != nil {
		return Check{}, err
	}

	if reserved {
		return Check{Outcome: Fresh, ReservedAt: now}, nil
	}

	if existing.Status == domain.IdempotencyCompleted {
		l.Info().Msgf("replaying stored result for %q", key)
		return Check{Outcome: Duplicate, Result: existing.Result}, nil
	}

	l.Info().Msgf("idempotency key %q in flight", key)

	return Check{}, domain.ErrIdempotencyKeyInFlight
}

// Complete stores result against the reserved key for the TTL.
//
// The write survives caller cancellation and is retried on transient failures,
// since the guarded effect is already durable when Complete is called.
func (s *Service) Complete(ctx context.Context, key string, result any) error {
	l := zerolog.Ctx(ctx)

	b, err := json.Marshal(result)
	if err != nil {
		l.Error().Err(err).Send()
		return err
	}

	ctx = context.WithoutCancel(ctx)
	expiresAt := s.clock.Now().Add(s.ttl)

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := s.repo.Complete(ctx, key, b, expiresAt)
		if err != nil && !errors.Is(err, domain.ErrStorageUnavailable) {
			return struct{}{}, backoff.Permanent(err)
		}

		return struct{}{}, err
	}, retryOptions()...)
	if err != nil {
		l.Error().Err(err).Msgf("complete idempotency key %q", key)
		return err
	}

	return nil
}

// Abandon releases the reservation made at reservedAt without storing a result.
// A newer reservation of the same key, taken after the lease ran out, is left alone.
func (s *Service) Abandon(ctx context.Context, key string, reservedAt time.Time) {
	if err := s.repo.Release(context.WithoutCancel(ctx), key, reservedAt); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msgf("abandon idempotency key %q", key)
	}
}

// Sweep reclaims expired records. Reads already ignore them.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.Purge(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	if n > 0 {
		zerolog.Ctx(ctx).Debug().Msgf("purged %d idempotency records", n)
	}

	return n, nil
}

func retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = time.Second

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(5),
	}
}
