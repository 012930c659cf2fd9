// Package ledgerservice manages the append-only ledger: accounts, events and derived balances.
package ledgerservice

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/amountpkg"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
	"github.com/go-petr/pet-ledger/pkg/currencypkg"
)

// Page size bounds for History.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// AccountRepo provides account data access needed by the ledger service.
type AccountRepo interface {
	Create(ctx context.Context, a domain.Account) (domain.Account, error)
	Get(ctx context.Context, id string) (domain.Account, error)
	UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) (domain.Account, error)
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// EventRepo provides append-only event storage needed by the ledger service.
type EventRepo interface {
	Append(ctx context.Context, e domain.LedgerEvent) (domain.LedgerEvent, error)
	Sum(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error)
	Head(ctx context.Context, accountID string) (domain.AccountHead, error)
	List(ctx context.Context, accountID string, cursor *domain.Cursor, limit int) ([]domain.LedgerEvent, error)
	ListBySaga(ctx context.Context, sagaID uuid.UUID) ([]domain.LedgerEvent, error)
	ListOrphanDebits(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEvent, error)
}

// Service facilitates ledger logic. It is the only component that writes events.
type Service struct {
	accounts AccountRepo
	events   EventRepo
	clock    clockpkg.Clock
}

// New returns ledger service.
func New(ar AccountRepo, er EventRepo, clock clockpkg.Clock) *Service {
	return &Service{
		accounts: ar,
		events:   er,
		clock:    clock,
	}
}

// Clock returns the clock that stamps events.
func (s *Service) Clock() clockpkg.Clock {
	return s.clock
}

// CreateAccount creates an active account in the given currency.
func (s *Service) CreateAccount(ctx context.Context, currency string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	if !currencypkg.IsSupportedCurrency(currency) {
		l.Info().Msgf("unsupported currency %q", currency)
		return domain.Account{}, domain.ErrUnsupportedCurrency
	}

	id, err := uuid.NewV7()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.Account{}, domain.ErrStorageUnavailable
	}

	return s.accounts.Create(ctx, domain.Account{
		ID:        id.String(),
		Currency:  currency,
		Status:    domain.AccountActive,
		CreatedAt: s.clock.Now(),
	})
}

// GetAccount returns the account with the given id.
func (s *Service) GetAccount(ctx context.Context, id string) (domain.Account, error) {
	return s.accounts.Get(ctx, id)
}

// SetStatus changes the account lifecycle status.
func (s *Service) SetStatus(ctx context.Context, id string, status domain.AccountStatus) (domain.Account, error) {
	if !status.Valid() {
		return domain.Account{}, domain.ErrInvalidStatus
	}

	return s.accounts.UpdateStatus(ctx, id, status)
}

// ListAccountIDs returns up to limit account ids strictly greater than afterID, ascending.
func (s *Service) ListAccountIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	return s.accounts.ListIDs(ctx, afterID, limit)
}

// AppendEvent writes exactly one immutable event to the account.
//
// The event is stamped after the latest event of the account even when the local
// clock lags, so per-account event order follows lock order across instances.
// Callers that check the balance before appending must hold the account lock.
func (s *Service) AppendEvent(ctx context.Context, arg domain.AppendEventParams) (domain.LedgerEvent, error) {
	l := zerolog.Ctx(ctx)

	if !arg.Kind.Valid() {
		return domain.LedgerEvent{}, domain.ErrInvalidEventKind
	}

	if !arg.Kind.ValidAmount(arg.Amount) || !amountpkg.FitsScale(arg.Amount) || !amountpkg.FitsRange(arg.Amount) {
		l.Info().Msgf("invalid amount %s for %s", arg.Amount, arg.Kind)
		return domain.LedgerEvent{}, domain.ErrInvalidAmount
	}

	account, err := s.accounts.Get(ctx, arg.AccountID)
	if err != nil {
		return domain.LedgerEvent{}, err
	}

	if !arg.Kind.AllowedOn(account.Status) {
		l.Info().Msgf("account %s is %s", account.ID, account.Status)
		return domain.LedgerEvent{}, domain.ErrAccountNotActive
	}

	head, err := s.events.Head(ctx, arg.AccountID)
	if err != nil {
		return domain.LedgerEvent{}, err
	}

	createdAt := s.clock.Now()
	if !head.LastEventAt.IsZero() && !createdAt.After(head.LastEventAt) {
		l.Debug().Msgf("clock %s behind latest event %s of %s", createdAt, head.LastEventAt, arg.AccountID)
		createdAt = head.LastEventAt.Add(time.Microsecond)
	}

	id, err := uuid.NewV7()
	if err != nil {
		l.Error().Err(err).Send()
		return domain.LedgerEvent{}, domain.ErrStorageUnavailable
	}

	return s.events.Append(ctx, domain.LedgerEvent{
		ID:          id,
		AccountID:   arg.AccountID,
		Kind:        arg.Kind,
		Amount:      arg.Amount,
		Actor:       arg.Actor,
		Description: arg.Description,
		Metadata:    arg.Metadata,
		SagaID:      arg.SagaID,
		CreatedAt:   createdAt,
	})
}

// BalanceOf sums the account events created at or before asOf.
// A zero asOf returns the current balance.
func (s *Service) BalanceOf(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error) {
	if asOf.IsZero() {
		return s.CurrentBalance(ctx, accountID)
	}

	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return decimal.Zero, err
	}

	return s.events.Sum(ctx, accountID, asOf)
}

// CurrentBalance sums every event of the account regardless of the local clock.
// Sufficiency checks under the account lock rely on it.
func (s *Service) CurrentBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return decimal.Zero, err
	}

	head, err := s.events.Head(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}

	return head.Balance, nil
}

// History returns one page of account events, newest first.
// An empty cursor starts from the newest event.
func (s *Service) History(ctx context.Context, accountID, cursor string, limit int) (domain.HistoryPage, error) {
	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return domain.HistoryPage{}, err
	}

	var c *domain.Cursor

	if cursor != "" {
		decoded, err := domain.DecodeCursor(cursor)
		if err != nil {
			zerolog.Ctx(ctx).Info().Err(err).Send()
			return domain.HistoryPage{}, domain.ErrInvalidCursor
		}

		c = &decoded
	}

	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	// One extra row tells whether another page exists.
	events, err := s.events.List(ctx, accountID, c, limit+1)
	if err != nil {
		return domain.HistoryPage{}, err
	}

	page := domain.HistoryPage{Events: events}

	if len(events) > limit {
		page.Events = events[:limit]
		page.NextCursor = domain.CursorFor(page.Events[limit-1]).Encode()
	}

	return page, nil
}

// SagaEvents returns the events written under the saga id, oldest first.
func (s *Service) SagaEvents(ctx context.Context, sagaID uuid.UUID) ([]domain.LedgerEvent, error) {
	return s.events.ListBySaga(ctx, sagaID)
}

// OrphanDebits returns transfer debits older than before with no credit and no reversal.
func (s *Service) OrphanDebits(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEvent, error) {
	return s.events.ListOrphanDebits(ctx, before, limit)
}
