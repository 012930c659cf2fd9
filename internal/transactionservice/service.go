// Package transactionservice applies deposits and withdrawals as single ledger appends.
package transactionservice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/idempotencyservice"
	"github.com/go-petr/pet-ledger/internal/metrics"
	"github.com/go-petr/pet-ledger/pkg/amountpkg"
)

// Idempotency key scopes.
const (
	OpDeposit  = "deposit"
	OpWithdraw = "withdraw"
)

// Ledger provides the ledger operations needed by the processor.
type Ledger interface {
	AppendEvent(ctx context.Context, arg domain.AppendEventParams) (domain.LedgerEvent, error)
	CurrentBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
}

// Guard provides the idempotency guard.
type Guard interface {
	CheckOrReserve(ctx context.Context, key string) (idempotencyservice.Check, error)
	Complete(ctx context.Context, key string, result any) error
	Abandon(ctx context.Context, key string, reservedAt time.Time)
}

// Locker provides per-account critical sections.
type Locker interface {
	WithAccountLock(ctx context.Context, accountID string, fn func(ctx context.Context) error) error
}

// Auditor records audit snapshots of appended events.
type Auditor interface {
	Record(ctx context.Context, e domain.LedgerEvent, before decimal.Decimal) domain.AuditRecord
}

// Service facilitates deposit and withdrawal logic.
type Service struct {
	ledger  Ledger
	guard   Guard
	locks   Locker
	audit   Auditor
	metrics *metrics.Metrics
}

// New returns transaction service.
func New(ledger Ledger, guard Guard, locks Locker, audit Auditor, m *metrics.Metrics) *Service {
	return &Service{
		ledger:  ledger,
		guard:   guard,
		locks:   locks,
		audit:   audit,
		metrics: m,
	}
}

// Deposit credits the account. Repeating the idempotency key returns the stored result.
func (s *Service) Deposit(ctx context.Context, arg domain.TransactionParams) (domain.TransactionResult, error) {
	return s.apply(ctx, OpDeposit, domain.EventDeposit, arg)
}

// Withdraw debits the account if its balance covers the amount.
// Repeating the idempotency key returns the stored result.
func (s *Service) Withdraw(ctx context.Context, arg domain.TransactionParams) (domain.TransactionResult, error) {
	return s.apply(ctx, OpWithdraw, domain.EventWithdrawal, arg)
}

func (s *Service) apply(ctx context.Context, op string, kind domain.EventKind, arg domain.TransactionParams) (domain.TransactionResult, error) {
	l := zerolog.Ctx(ctx)

	if err := amountpkg.Validate(arg.Amount); err != nil {
		l.Info().Err(err).Msgf("%s %s", op, arg.Amount)
		return domain.TransactionResult{}, domain.ErrInvalidAmount
	}

	if arg.IdempotencyKey == "" {
		return domain.TransactionResult{}, domain.ErrIdempotencyKeyRequired
	}

	key := idempotencyservice.Key(op, arg.AccountID, arg.IdempotencyKey)

	check, err := s.guard.CheckOrReserve(ctx, key)
	if err != nil {
		return domain.TransactionResult{}, err
	}

	if check.Outcome == idempotencyservice.Duplicate {
		var stored domain.TransactionResult
		if err := json.Unmarshal(check.Result, &stored); err != nil {
			l.Error().Err(err).Msgf("decode stored result of %q", key)
			return domain.TransactionResult{}, err
		}

		s.metrics.IdempotentReplays.WithLabelValues(op).Inc()

		return stored, nil
	}

	var result domain.TransactionResult

	err = s.locks.WithAccountLock(ctx, arg.AccountID, func(ctx context.Context) error {
		before, err := s.ledger.CurrentBalance(ctx, arg.AccountID)
		if err != nil {
			return err
		}

		amount := arg.Amount
		if kind == domain.EventWithdrawal {
			if before.LessThan(arg.Amount) {
				l.Info().Msgf("withdraw %s from %s: balance %s", arg.Amount, arg.AccountID, before)
				return domain.ErrInsufficientFunds
			}

			amount = amount.Neg()
		}

		e, err := s.ledger.AppendEvent(ctx, domain.AppendEventParams{
			AccountID:   arg.AccountID,
			Kind:        kind,
			Amount:      amount,
			Actor:       arg.Actor,
			Description: arg.Description,
		})
		if err != nil {
			return err
		}

		rec := s.audit.Record(ctx, e, before)

		result = domain.TransactionResult{
			Event:         e,
			BalanceBefore: rec.BalanceBefore,
			BalanceAfter:  rec.BalanceAfter,
		}

		return nil
	})
	if err != nil {
		s.guard.Abandon(ctx, key, check.ReservedAt)
		s.metrics.Transactions.WithLabelValues(string(kind), metrics.OutcomeFailure).Inc()

		return domain.TransactionResult{}, err
	}

	s.metrics.Transactions.WithLabelValues(string(kind), metrics.OutcomeSuccess).Inc()

	// The event is durable; a failed Complete only costs the replay protection.
	if err := s.guard.Complete(ctx, key, result); err != nil {
		l.Error().Err(err).Msgf("store result of %q", key)
	}

	return result, nil
}
