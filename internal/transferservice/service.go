// Package transferservice runs transfers as a two step saga with compensation.
package transferservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/idempotencyservice"
	"github.com/go-petr/pet-ledger/internal/metrics"
	"github.com/go-petr/pet-ledger/pkg/amountpkg"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
)

// OpTransfer is the idempotency key scope of transfers.
const OpTransfer = "transfer"

const recoveryBatch = 100

// Ledger provides the ledger operations needed by the saga.
type Ledger interface {
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	AppendEvent(ctx context.Context, arg domain.AppendEventParams) (domain.LedgerEvent, error)
	CurrentBalance(ctx context.Context, accountID string) (decimal.Decimal, error)
	SagaEvents(ctx context.Context, sagaID uuid.UUID) ([]domain.LedgerEvent, error)
	OrphanDebits(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEvent, error)
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
	WithAccountsLock(ctx context.Context, accountIDs []string, fn func(ctx context.Context) error) error
}

// Auditor records audit snapshots of appended events.
type Auditor interface {
	Record(ctx context.Context, e domain.LedgerEvent, before decimal.Decimal) domain.AuditRecord
}

// errSagaClosed stops a step whose saga already reached a terminal state.
var errSagaClosed = errors.New("saga already closed")

// Service facilitates transfer saga logic.
type Service struct {
	ledger      Ledger
	guard       Guard
	locks       Locker
	audit       Auditor
	metrics     *metrics.Metrics
	clock       clockpkg.Clock
	recoveryAge time.Duration
}

// New returns transfer service. Debits older than recoveryAge without a credit
// or a reversal are compensated by Recover.
func New(ledger Ledger, guard Guard, locks Locker, audit Auditor, m *metrics.Metrics, clock clockpkg.Clock, recoveryAge time.Duration) *Service {
	return &Service{
		ledger:      ledger,
		guard:       guard,
		locks:       locks,
		audit:       audit,
		metrics:     m,
		clock:       clock,
		recoveryAge: recoveryAge,
	}
}

func (s *Service) validRequest(ctx context.Context, arg domain.TransferParams) error {
	l := zerolog.Ctx(ctx)

	if arg.FromAccountID == arg.ToAccountID {
		return domain.ErrSameAccount
	}

	if err := amountpkg.Validate(arg.Amount); err != nil {
		l.Info().Err(err).Msgf("transfer %s", arg.Amount)
		return domain.ErrInvalidAmount
	}

	if arg.IdempotencyKey == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	from, err := s.ledger.GetAccount(ctx, arg.FromAccountID)
	if err != nil {
		return err
	}

	to, err := s.ledger.GetAccount(ctx, arg.ToAccountID)
	if err != nil {
		return err
	}

	if from.Currency != to.Currency {
		l.Info().Msgf("transfer %s -> %s: %s != %s", from.ID, to.ID, from.Currency, to.Currency)
		return domain.ErrCurrencyMismatch
	}

	return nil
}

// Transfer moves the amount between two accounts.
//
// A failed credit is compensated before returning domain.ErrTransferFailed,
// so the source balance is restored. The terminal outcome, success or
// compensated failure, is what a retry with the same key receives.
func (s *Service) Transfer(ctx context.Context, arg domain.TransferParams) (domain.TransferResult, error) {
	l := zerolog.Ctx(ctx)

	if err := s.validRequest(ctx, arg); err != nil {
		return domain.TransferResult{}, err
	}

	key := idempotencyservice.Key(OpTransfer, arg.FromAccountID, arg.IdempotencyKey)

	check, err := s.guard.CheckOrReserve(ctx, key)
	if err != nil {
		return domain.TransferResult{}, err
	}

	if check.Outcome == idempotencyservice.Duplicate {
		var stored domain.TransferResult
		if err := json.Unmarshal(check.Result, &stored); err != nil {
			l.Error().Err(err).Msgf("decode stored result of %q", key)
			return domain.TransferResult{}, err
		}

		s.metrics.IdempotentReplays.WithLabelValues(OpTransfer).Inc()

		return stored, outcomeErr(stored)
	}

	sagaID, err := uuid.NewV7()
	if err != nil {
		s.guard.Abandon(ctx, key, check.ReservedAt)
		return domain.TransferResult{}, domain.ErrStorageUnavailable
	}

	result := domain.TransferResult{
		SagaID:        sagaID,
		State:         domain.SagaStarted,
		FromAccountID: arg.FromAccountID,
		ToAccountID:   arg.ToAccountID,
		Amount:        arg.Amount,
	}

	debit, err := s.debit(ctx, sagaID, arg)
	if err != nil {
		// Nothing durable happened, a retry may run again.
		s.guard.Abandon(ctx, key, check.ReservedAt)
		return domain.TransferResult{}, err
	}

	result.State = domain.SagaDebitApplied
	result.Debit = &debit

	credit, err := s.credit(ctx, sagaID, arg)
	if err == nil {
		result.State = domain.SagaCreditApplied
		result.Credit = &credit

		return s.finish(ctx, key, result)
	}

	l.Info().Err(err).Msgf("credit of saga %s failed, compensating", sagaID)

	result.FailureReason = err.Error()

	reversal, cerr := s.compensate(ctx, debit)
	switch {
	case cerr == nil:
		result.State = domain.SagaCompensationApplied
		result.Reversal = reversal
		s.metrics.Compensations.Inc()
	case errors.Is(cerr, errSagaClosed):
		// The recovery sweep closed the saga first.
		return s.reload(ctx, key, result)
	default:
		// The reservation lapses and the recovery sweep reverses the debit.
		l.Error().Err(cerr).Msgf("compensate saga %s", sagaID)
		s.metrics.Transfers.WithLabelValues(string(result.State)).Inc()

		return result, fmt.Errorf("%w: %s", domain.ErrTransferFailed, result.FailureReason)
	}

	return s.finish(ctx, key, result)
}

// debit is the first saga step, done under the source lock only.
func (s *Service) debit(ctx context.Context, sagaID uuid.UUID, arg domain.TransferParams) (domain.LedgerEvent, error) {
	var debit domain.LedgerEvent

	err := s.locks.WithAccountLock(ctx, arg.FromAccountID, func(ctx context.Context) error {
		before, err := s.ledger.CurrentBalance(ctx, arg.FromAccountID)
		if err != nil {
			return err
		}

		if before.LessThan(arg.Amount) {
			zerolog.Ctx(ctx).Info().Msgf("transfer %s from %s: balance %s", arg.Amount, arg.FromAccountID, before)
			return domain.ErrInsufficientFunds
		}

		debit, err = s.ledger.AppendEvent(ctx, domain.AppendEventParams{
			AccountID:   arg.FromAccountID,
			Kind:        domain.EventTransferDebit,
			Amount:      arg.Amount.Neg(),
			Actor:       arg.Actor,
			Description: arg.Description,
			Metadata: map[string]string{
				domain.MetaSagaID:       sagaID.String(),
				domain.MetaCounterparty: arg.ToAccountID,
			},
			SagaID: &sagaID,
		})
		if err != nil {
			return err
		}

		s.audit.Record(ctx, debit, before)

		return nil
	})

	return debit, err
}

// credit is the second saga step, done under the destination lock only.
func (s *Service) credit(ctx context.Context, sagaID uuid.UUID, arg domain.TransferParams) (domain.LedgerEvent, error) {
	var credit domain.LedgerEvent

	err := s.locks.WithAccountLock(ctx, arg.ToAccountID, func(ctx context.Context) error {
		events, err := s.ledger.SagaEvents(ctx, sagaID)
		if err != nil {
			return err
		}

		if domain.SagaStateOf(events).Terminal() {
			return errSagaClosed
		}

		before, err := s.ledger.CurrentBalance(ctx, arg.ToAccountID)
		if err != nil {
			return err
		}

		credit, err = s.ledger.AppendEvent(ctx, domain.AppendEventParams{
			AccountID:   arg.ToAccountID,
			Kind:        domain.EventTransferCredit,
			Amount:      arg.Amount,
			Actor:       arg.Actor,
			Description: arg.Description,
			Metadata: map[string]string{
				domain.MetaSagaID:       sagaID.String(),
				domain.MetaCounterparty: arg.FromAccountID,
			},
			SagaID: &sagaID,
		})
		if err != nil {
			return err
		}

		s.audit.Record(ctx, credit, before)

		return nil
	})

	return credit, err
}

// compensate credits the debited amount back to the source account.
//
// Both account locks are held so that a concurrent credit or a second
// compensation of the same saga observes this one. It returns errSagaClosed
// when the saga already has a credit or a reversal.
func (s *Service) compensate(ctx context.Context, debit domain.LedgerEvent) (*domain.LedgerEvent, error) {
	ctx = context.WithoutCancel(ctx)
	sagaID := *debit.SagaID
	counterparty := debit.Metadata[domain.MetaCounterparty]

	ids := []string{debit.AccountID}
	if counterparty != "" {
		ids = append(ids, counterparty)
	}

	return backoff.Retry(ctx, func() (*domain.LedgerEvent, error) {
		var reversal *domain.LedgerEvent

		err := s.locks.WithAccountsLock(ctx, ids, func(ctx context.Context) error {
			events, err := s.ledger.SagaEvents(ctx, sagaID)
			if err != nil {
				return err
			}

			if domain.SagaStateOf(events).Terminal() {
				return errSagaClosed
			}

			before, err := s.ledger.CurrentBalance(ctx, debit.AccountID)
			if err != nil {
				return err
			}

			e, err := s.ledger.AppendEvent(ctx, domain.AppendEventParams{
				AccountID:   debit.AccountID,
				Kind:        domain.EventTransferDebitReversal,
				Amount:      debit.Amount.Neg(),
				Actor:       debit.Actor,
				Description: "reversal of " + debit.ID.String(),
				Metadata: map[string]string{
					domain.MetaSagaID:       sagaID.String(),
					domain.MetaCounterparty: counterparty,
					domain.MetaReverses:     debit.ID.String(),
				},
				SagaID: &sagaID,
			})
			if err != nil {
				return err
			}

			s.audit.Record(ctx, e, before)
			reversal = &e

			return nil
		})
		if err != nil && !errors.Is(err, domain.ErrStorageUnavailable) {
			return nil, backoff.Permanent(err)
		}

		return reversal, err
	}, retryOptions()...)
}

// reload rebuilds the result from the saga events after another actor closed it.
func (s *Service) reload(ctx context.Context, key string, result domain.TransferResult) (domain.TransferResult, error) {
	events, err := s.ledger.SagaEvents(context.WithoutCancel(ctx), result.SagaID)
	if err != nil {
		return result, fmt.Errorf("%w: %s", domain.ErrTransferFailed, result.FailureReason)
	}

	for i := range events {
		e := events[i]

		switch e.Kind {
		case domain.EventTransferCredit:
			result.Credit = &e
		case domain.EventTransferDebitReversal:
			result.Reversal = &e
		}
	}

	result.State = domain.SagaStateOf(events)
	if result.State == domain.SagaCreditApplied {
		result.FailureReason = ""
	}

	return s.finish(ctx, key, result)
}

// finish stores the terminal outcome against the idempotency key.
func (s *Service) finish(ctx context.Context, key string, result domain.TransferResult) (domain.TransferResult, error) {
	s.metrics.Transfers.WithLabelValues(string(result.State)).Inc()

	if err := s.guard.Complete(ctx, key, result); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msgf("store result of %q", key)
	}

	return result, outcomeErr(result)
}

// Recover compensates transfer debits whose saga stalled before the credit,
// for example after a crash between the two steps. It returns the number of
// sagas it closed.
func (s *Service) Recover(ctx context.Context) (int, error) {
	l := zerolog.Ctx(ctx)

	debits, err := s.ledger.OrphanDebits(ctx, s.clock.Now().Add(-s.recoveryAge), recoveryBatch)
	if err != nil {
		return 0, err
	}

	var recovered int

	for _, debit := range debits {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}

		_, err := s.compensate(ctx, debit)
		if errors.Is(err, errSagaClosed) {
			continue
		}

		if err != nil {
			l.Error().Err(err).Msgf("recover saga %s", debit.SagaID)
			continue
		}

		l.Warn().Msgf("reversed orphaned debit %s of saga %s", debit.ID, debit.SagaID)
		s.metrics.RecoveredSagas.Inc()
		recovered++
	}

	return recovered, nil
}

func outcomeErr(result domain.TransferResult) error {
	if result.State == domain.SagaCompensationApplied {
		return fmt.Errorf("%w: %s", domain.ErrTransferFailed, result.FailureReason)
	}

	return nil
}

func retryOptions() []backoff.RetryOption {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	return []backoff.RetryOption{
		backoff.WithBackOff(b),
		backoff.WithMaxTries(6),
	}
}
