package projection

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/amountpkg"
)

const balancesKey = "projection:balances"

// Redis keeps projected balances in one Redis hash shared by all instances.
type Redis struct {
	rdb redis.UniversalClient
}

// NewRedis returns a Redis projection.
func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

// EmitAudit applies the audit record.
func (r *Redis) EmitAudit(ctx context.Context, rec domain.AuditRecord) error {
	return r.Set(ctx, rec.AccountID, rec.BalanceAfter)
}

// EmitMismatch is a no-op; mismatches are never applied to the projection.
func (r *Redis) EmitMismatch(context.Context, domain.Mismatch) error {
	return nil
}

// Set overwrites the projected balance of the account.
func (r *Redis) Set(ctx context.Context, accountID string, balance decimal.Decimal) error {
	if err := r.rdb.HSet(ctx, balancesKey, accountID, amountpkg.String(balance)).Err(); err != nil {
		return domain.ErrStorageUnavailable
	}

	return nil
}

// Balance returns the projected balance and whether the account is known.
func (r *Redis) Balance(ctx context.Context, accountID string) (decimal.Decimal, bool, error) {
	s, err := r.rdb.HGet(ctx, balancesKey, accountID).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, nil
	}

	if err != nil {
		return decimal.Zero, false, domain.ErrStorageUnavailable
	}

	b, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, err
	}

	return b, true, nil
}
