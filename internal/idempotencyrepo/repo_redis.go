package idempotencyrepo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
)

const keyPrefix = "idempotency:"

// RepoRedis keeps idempotency records in Redis. Expiry is left to key TTLs.
type RepoRedis struct {
	rdb   redis.UniversalClient
	clock clockpkg.Clock
}

// NewRepoRedis returns idempotency RepoRedis.
func NewRepoRedis(rdb redis.UniversalClient, clock clockpkg.Clock) *RepoRedis {
	return &RepoRedis{rdb: rdb, clock: clock}
}

// Reserve inserts rec unless a live record exists for its key.
// It returns the live record and false when the key is taken.
func (r *RepoRedis) Reserve(ctx context.Context, rec domain.IdempotencyRecord, now time.Time) (domain.IdempotencyRecord, bool, error) {
	l := zerolog.Ctx(ctx)

	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return domain.IdempotencyRecord{}, false, domain.ErrStorageUnavailable
	}

	b, err := json.Marshal(rec)
	if err != nil {
		l.Error().Err(err).Send()
		return domain.IdempotencyRecord{}, false, err
	}

	ok, err := r.rdb.SetNX(ctx, keyPrefix+rec.Key, b, ttl).Result()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.IdempotencyRecord{}, false, domain.ErrStorageUnavailable
	}

	if ok {
		return rec, true, nil
	}

	existing, err := r.get(ctx, r.rdb, rec.Key)
	if errors.Is(err, redis.Nil) {
		// Expired or released between the two commands; the caller retries.
		return domain.IdempotencyRecord{Key: rec.Key, Status: domain.IdempotencyInFlight}, false, nil
	}

	if err != nil {
		l.Error().Err(err).Send()
		return domain.IdempotencyRecord{}, false, domain.ErrStorageUnavailable
	}

	return existing, false, nil
}

// Complete stores the result against an in flight key.
func (r *RepoRedis) Complete(ctx context.Context, key string, result []byte, expiresAt time.Time) error {
	l := zerolog.Ctx(ctx)

	var notFound bool

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := r.get(ctx, tx, key)
		if errors.Is(err, redis.Nil) || (err == nil && rec.Status != domain.IdempotencyInFlight) {
			notFound = true
			return nil
		}

		if err != nil {
			return err
		}

		rec.Status = domain.IdempotencyCompleted
		rec.Result = result
		rec.ExpiresAt = expiresAt

		b, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		ttl := expiresAt.Sub(r.clock.Now())

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if ttl <= 0 {
				pipe.Del(ctx, keyPrefix+key)
				return nil
			}

			pipe.Set(ctx, keyPrefix+key, b, ttl)

			return nil
		})

		return err
	}, keyPrefix+key)
	if err != nil {
		l.Error().Err(err).Msgf("Complete(ctx, %q)", key)
		return domain.ErrStorageUnavailable
	}

	if notFound {
		return domain.ErrReservationNotFound
	}

	return nil
}

// Release removes the in flight reservation created at reservedAt.
func (r *RepoRedis) Release(ctx context.Context, key string, reservedAt time.Time) error {
	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := r.get(ctx, tx, key)
		if errors.Is(err, redis.Nil) {
			return nil
		}

		if err != nil {
			return err
		}

		if rec.Status != domain.IdempotencyInFlight || !rec.CreatedAt.Equal(reservedAt) {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, keyPrefix+key)
			return nil
		})

		return err
	}, keyPrefix+key)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msgf("Release(ctx, %q)", key)
		return domain.ErrStorageUnavailable
	}

	return nil
}

// Purge is a no-op since Redis expires keys on its own.
func (r *RepoRedis) Purge(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RepoRedis) get(ctx context.Context, c getter, key string) (domain.IdempotencyRecord, error) {
	var rec domain.IdempotencyRecord

	b, err := c.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return rec, err
	}

	err = json.Unmarshal(b, &rec)

	return rec, err
}
