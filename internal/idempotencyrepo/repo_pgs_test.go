//go:build integration

package idempotencyrepo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/integrationtest"
)

func TestRepoPGS(t *testing.T) {
	ctx := context.Background()

	config := integrationtest.LoadConfig(t, integrationtest.ConfigPath)
	tx := integrationtest.SetupTX(t, config.DBDriver, config.DBSource)
	repo := NewRepoPGS(tx)

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := "deposit:" + uuid.NewString() + ":k1"

	rec := domain.IdempotencyRecord{
		Key:       key,
		Status:    domain.IdempotencyInFlight,
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}

	_, reserved, err := repo.Reserve(ctx, rec, now)
	require.NoError(t, err)
	require.True(t, reserved)

	existing, reserved, err := repo.Reserve(ctx, rec, now)
	require.NoError(t, err)
	require.False(t, reserved)
	require.Equal(t, domain.IdempotencyInFlight, existing.Status)

	require.NoError(t, repo.Complete(ctx, key, []byte(`{"ok":true}`), now.Add(24*time.Hour)))
	require.ErrorIs(t, repo.Complete(ctx, key, []byte(`{}`), now.Add(24*time.Hour)), domain.ErrReservationNotFound)

	existing, reserved, err = repo.Reserve(ctx, rec, now.Add(time.Hour))
	require.NoError(t, err)
	require.False(t, reserved)
	require.Equal(t, domain.IdempotencyCompleted, existing.Status)
	require.JSONEq(t, `{"ok":true}`, string(existing.Result))

	// Expired completed records are taken over by a new reservation.
	later := now.Add(25 * time.Hour)
	retaken := rec
	retaken.CreatedAt = later
	retaken.ExpiresAt = later.Add(5 * time.Minute)

	_, reserved, err = repo.Reserve(ctx, retaken, later)
	require.NoError(t, err)
	require.True(t, reserved)

	// Releasing with the expired reservation's time leaves the new one in place.
	require.NoError(t, repo.Release(ctx, key, now))

	_, reserved, err = repo.Reserve(ctx, rec, later)
	require.NoError(t, err)
	require.False(t, reserved)

	require.NoError(t, repo.Release(ctx, key, later))

	_, reserved, err = repo.Reserve(ctx, rec, now)
	require.NoError(t, err)
	require.True(t, reserved)

	n, err := repo.Purge(ctx, now.Add(10*time.Minute))
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(1))
}
