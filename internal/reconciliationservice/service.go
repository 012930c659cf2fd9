// Package reconciliationservice compares ledger balances against a cached projection.
//
// Drift is reported, never repaired.
package reconciliationservice

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/metrics"
	"github.com/go-petr/pet-ledger/internal/reportsink"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
)

const pageSize = 500

// Ledger provides the authoritative balances.
type Ledger interface {
	ListAccountIDs(ctx context.Context, afterID string, limit int) ([]string, error)
	CurrentBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Projection provides the cached balances under check.
type Projection interface {
	Balance(ctx context.Context, accountID string) (decimal.Decimal, bool, error)
}

// Task is extra periodic work run after every scan.
type Task func(ctx context.Context) error

// Config tunes the engine.
type Config struct {
	Interval    time.Duration
	ShardIndex  int
	ShardCount  int
	Concurrency int
}

// Engine facilitates reconciliation logic.
type Engine struct {
	ledger     Ledger
	projection Projection
	sink       reportsink.Sink
	metrics    *metrics.Metrics
	clock      clockpkg.Clock
	cfg        Config

	mu       sync.Mutex
	suspects map[string]struct{} // mismatched on the previous scan
	lastScan time.Time
}

// New returns reconciliation engine.
func New(ledger Ledger, projection Projection, sink reportsink.Sink, m *metrics.Metrics, clock clockpkg.Clock, cfg Config) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}

	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	return &Engine{
		ledger:     ledger,
		projection: projection,
		sink:       sink,
		metrics:    m,
		clock:      clock,
		cfg:        cfg,
		suspects:   make(map[string]struct{}),
	}
}

// Owns reports whether the account belongs to the engine shard.
func (e *Engine) Owns(accountID string) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(accountID)) // never fails

	return int(h.Sum32()%uint32(e.cfg.ShardCount)) == e.cfg.ShardIndex
}

// Scan checks every account of the shard once and returns the mismatches
// confirmed by two consecutive scans. Confirmed mismatches are emitted to the sink.
func (e *Engine) Scan(ctx context.Context) ([]domain.Mismatch, error) {
	l := zerolog.Ctx(ctx)
	started := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	windowEnd := e.clock.Now()
	windowStart := e.lastScan

	var (
		mu      sync.Mutex
		current = make(map[string]domain.Mismatch)
	)

	check := func(ctx context.Context, accountID string) error {
		observed, ok, err := e.projection.Balance(ctx, accountID)
		if err != nil {
			l.Error().Err(err).Msgf("projected balance of %s", accountID)
			return nil
		}

		if !ok {
			return nil
		}

		// Every stored event counts, including ones stamped by a writer whose clock runs ahead.
		expected, err := e.ledger.CurrentBalance(ctx, accountID)
		if errors.Is(err, domain.ErrAccountNotFound) {
			return nil
		}

		if err != nil {
			l.Error().Err(err).Msgf("ledger balance of %s", accountID)
			return nil
		}

		e.metrics.ReconAccounts.Inc()

		if expected.Equal(observed) {
			return nil
		}

		mu.Lock()
		current[accountID] = domain.Mismatch{
			AccountID:   accountID,
			Expected:    expected,
			Observed:    observed,
			WindowStart: windowStart,
			WindowEnd:   windowEnd,
		}
		mu.Unlock()

		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	var afterID string

	for {
		ids, err := e.ledger.ListAccountIDs(gctx, afterID, pageSize)
		if err != nil {
			_ = g.Wait()
			return nil, err
		}

		for _, id := range ids {
			if !e.Owns(id) {
				continue
			}

			id := id

			g.Go(func() error { return check(gctx, id) })
		}

		if len(ids) < pageSize {
			break
		}

		afterID = ids[len(ids)-1]
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	confirmed := make([]domain.Mismatch, 0)
	detectedAt := e.clock.Now()

	for id, m := range current {
		if _, seen := e.suspects[id]; !seen {
			l.Info().Msgf("account %s differs from projection, waiting for next scan", id)
			continue
		}

		m.DetectedAt = detectedAt
		confirmed = append(confirmed, m)

		e.metrics.ReconMismatches.Inc()

		if err := e.sink.EmitMismatch(ctx, m); err != nil {
			l.Error().Err(err).Msgf("emit mismatch of %s", id)
		}
	}

	e.suspects = make(map[string]struct{}, len(current))
	for id := range current {
		e.suspects[id] = struct{}{}
	}

	e.lastScan = windowEnd

	e.metrics.ReconScans.Inc()
	e.metrics.ReconDuration.Observe(time.Since(started).Seconds())

	return confirmed, nil
}

// Run scans on every interval tick until ctx is done, running tasks after each scan.
func (e *Engine) Run(ctx context.Context, tasks ...Task) error {
	l := zerolog.Ctx(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := e.Scan(ctx); err != nil && ctx.Err() == nil {
			l.Error().Err(err).Msg("reconciliation scan")
		}

		for _, task := range tasks {
			if err := task(ctx); err != nil && ctx.Err() == nil {
				l.Error().Err(err).Msg("reconciliation task")
			}
		}
	}
}
