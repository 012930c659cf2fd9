package lockservice

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
)

const lockKeyPrefix = "lock:account:"

// RedisOptions tune the distributed lock.
type RedisOptions struct {
	Expiry     time.Duration // lease of a held lock
	Tries      int
	RetryDelay time.Duration
}

// DefaultRedisOptions returns the options used when fields are left zero.
func DefaultRedisOptions() RedisOptions {
	return RedisOptions{
		Expiry:     10 * time.Second,
		Tries:      32,
		RetryDelay: 50 * time.Millisecond,
	}
}

// Redis is a Locker shared by every ledger instance through Redis.
type Redis struct {
	rs   *redsync.Redsync
	opts RedisOptions
}

// NewRedis returns a Redis locker.
func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	def := DefaultRedisOptions()

	if opts.Expiry <= 0 {
		opts.Expiry = def.Expiry
	}

	if opts.Tries <= 0 {
		opts.Tries = def.Tries
	}

	if opts.RetryDelay <= 0 {
		opts.RetryDelay = def.RetryDelay
	}

	return &Redis{
		rs:   redsync.New(goredis.NewPool(rdb)),
		opts: opts,
	}
}

// Lock implements Locker.
func (r *Redis) Lock(ctx context.Context, accountID string) (func(), error) {
	mutex := r.rs.NewMutex(
		lockKeyPrefix+accountID,
		redsync.WithExpiry(r.opts.Expiry),
		redsync.WithTries(r.opts.Tries),
		redsync.WithRetryDelay(r.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("%w: lock account %s: %v", domain.ErrStorageUnavailable, accountID, err)
	}

	return func() {
		if ok, err := mutex.UnlockContext(context.WithoutCancel(ctx)); !ok || err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msgf("unlock account %s", accountID)
		}
	}, nil
}
