// Package idempotencyrepo manages the key/value store behind the idempotency guard.
package idempotencyrepo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/dbpkg"
)

// RepoPGS keeps idempotency records in Postgres.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns idempotency RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{db: db}
}

// reserveQuery inserts the reservation, or takes over a row that already expired.
// A live row makes the statement return nothing.
const reserveQuery = `
INSERT INTO
    idempotency_keys (key, status, result, created_at, expires_at)
VALUES
    ($1, 'in_flight', NULL, $2, $3)
ON CONFLICT (key) DO UPDATE
SET status = 'in_flight', result = NULL, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
WHERE idempotency_keys.expires_at <= $4
RETURNING key
`

const getQuery = `
SELECT key, status, result, created_at, expires_at
FROM idempotency_keys
WHERE key = $1
`

// Reserve inserts rec unless a live record exists for its key.
// It returns the live record and false when the key is taken.
func (r *RepoPGS) Reserve(ctx context.Context, rec domain.IdempotencyRecord, now time.Time) (domain.IdempotencyRecord, bool, error) {
	l := zerolog.Ctx(ctx)

	var key string

	err := r.db.QueryRowContext(ctx, reserveQuery, rec.Key, rec.CreatedAt, rec.ExpiresAt, now).Scan(&key)
	if err == nil {
		return rec, true, nil
	}

	if !errors.Is(err, sql.ErrNoRows) {
		l.Error().Err(err).Send()
		return domain.IdempotencyRecord{}, false, domain.ErrStorageUnavailable
	}

	var existing domain.IdempotencyRecord

	err = r.db.QueryRowContext(ctx, getQuery, rec.Key).Scan(
		&existing.Key,
		&existing.Status,
		&existing.Result,
		&existing.CreatedAt,
		&existing.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Released between the two statements; the caller retries.
			return domain.IdempotencyRecord{Key: rec.Key, Status: domain.IdempotencyInFlight}, false, nil
		}

		l.Error().Err(err).Send()

		return domain.IdempotencyRecord{}, false, domain.ErrStorageUnavailable
	}

	return existing, false, nil
}

const completeQuery = `
UPDATE idempotency_keys
SET status = 'completed', result = $2, expires_at = $3
WHERE key = $1 AND status = 'in_flight'
`

// Complete stores the result against an in flight key.
func (r *RepoPGS) Complete(ctx context.Context, key string, result []byte, expiresAt time.Time) error {
	l := zerolog.Ctx(ctx)

	res, err := r.db.ExecContext(ctx, completeQuery, key, result, expiresAt)
	if err != nil {
		l.Error().Err(err).Send()
		return domain.ErrStorageUnavailable
	}

	n, err := res.RowsAffected()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.ErrStorageUnavailable
	}

	if n == 0 {
		return domain.ErrReservationNotFound
	}

	return nil
}

const releaseQuery = `
DELETE FROM idempotency_keys
WHERE key = $1 AND status = 'in_flight' AND created_at = $2
`

// Release removes the in flight reservation created at reservedAt.
func (r *RepoPGS) Release(ctx context.Context, key string, reservedAt time.Time) error {
	if _, err := r.db.ExecContext(ctx, releaseQuery, key, reservedAt); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Send()
		return domain.ErrStorageUnavailable
	}

	return nil
}

const purgeQuery = `
DELETE FROM idempotency_keys
WHERE expires_at <= $1
`

// Purge deletes records that expired before the given time.
func (r *RepoPGS) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, purgeQuery, before)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Send()
		return 0, domain.ErrStorageUnavailable
	}

	return res.RowsAffected()
}
