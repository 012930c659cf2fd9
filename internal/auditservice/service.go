// Package auditservice writes and reads the audit trail kept alongside ledger mutations.
package auditservice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/reportsink"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
)

// Trail page bounds.
const (
	DefaultTrailSize = 50
	MaxTrailSize     = 500
)

// DefaultEmitTimeout bounds a single sink delivery made under the account lock.
const DefaultEmitTimeout = 2 * time.Second

// Repo provides write-once audit storage.
type Repo interface {
	Create(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error)
	List(ctx context.Context, accountID string, limit int) ([]domain.AuditRecord, error)
}

// AccountGetter resolves accounts so that unknown ids are reported as such.
type AccountGetter interface {
	GetAccount(ctx context.Context, id string) (domain.Account, error)
}

// Service facilitates audit logic.
type Service struct {
	repo     Repo
	sink     reportsink.Sink
	accounts AccountGetter
	clock    clockpkg.Clock

	emitTimeout time.Duration
}

// Option configures the audit service.
type Option func(*Service)

// WithEmitTimeout sets how long Record waits for the sink. Non-positive values keep the default.
func WithEmitTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.emitTimeout = d
		}
	}
}

// New returns audit service.
func New(repo Repo, sink reportsink.Sink, accounts AccountGetter, clock clockpkg.Clock, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		sink:        sink,
		accounts:    accounts,
		clock:       clock,
		emitTimeout: DefaultEmitTimeout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Record stores and emits the audit record of an appended event.
//
// The event is already durable, so failures are logged and never returned.
// Callers hold the account lock, which keeps audit order equal to event order;
// sink delivery is cut off after the emit timeout so the lock is never held longer.
func (s *Service) Record(ctx context.Context, e domain.LedgerEvent, before decimal.Decimal) domain.AuditRecord {
	l := zerolog.Ctx(ctx)
	ctx = context.WithoutCancel(ctx)

	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	rec := domain.AuditRecord{
		ID:            id,
		AccountID:     e.AccountID,
		EventID:       e.ID,
		Kind:          e.Kind,
		Actor:         e.Actor,
		BalanceBefore: before,
		BalanceAfter:  before.Add(e.Amount),
		CreatedAt:     s.clock.Now(),
	}

	if _, err := s.repo.Create(ctx, rec); err != nil {
		l.Error().Err(err).Msgf("store audit record of event %s", e.ID)
	}

	emitCtx, cancel := context.WithTimeout(ctx, s.emitTimeout)
	defer cancel()

	if err := s.sink.EmitAudit(emitCtx, rec); err != nil {
		l.Error().Err(err).Msgf("emit audit record of event %s", e.ID)
	}

	return rec
}

// Trail returns the latest audit records of the account, newest first.
func (s *Service) Trail(ctx context.Context, accountID string, limit int) ([]domain.AuditRecord, error) {
	if _, err := s.accounts.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	switch {
	case limit <= 0:
		limit = DefaultTrailSize
	case limit > MaxTrailSize:
		limit = MaxTrailSize
	}

	return s.repo.List(ctx, accountID, limit)
}
