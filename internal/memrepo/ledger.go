// Package memrepo provides in-memory implementations of the ledger repositories.
//
// They back single-node deployments (STORAGE_BACKEND=memory) and the service tests.
package memrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
)

// Ledger stores accounts and their append-only events.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]domain.Account
	ids      []string // account ids in creation order
	events   map[string][]domain.LedgerEvent
	eventIDs map[uuid.UUID]struct{}
	sagas    map[uuid.UUID][]domain.LedgerEvent
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[string]domain.Account),
		events:   make(map[string][]domain.LedgerEvent),
		eventIDs: make(map[uuid.UUID]struct{}),
		sagas:    make(map[uuid.UUID][]domain.LedgerEvent),
	}
}

// Create stores the account.
func (l *Ledger) Create(_ context.Context, a domain.Account) (domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.accounts[a.ID]; ok {
		return domain.Account{}, domain.ErrAccountAlreadyExists
	}

	l.accounts[a.ID] = a
	l.ids = append(l.ids, a.ID)

	return a, nil
}

// Get returns the account with the given id.
func (l *Ledger) Get(_ context.Context, id string) (domain.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	return a, nil
}

// UpdateStatus changes the account status and returns the changed account.
func (l *Ledger) UpdateStatus(_ context.Context, id string, status domain.AccountStatus) (domain.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}

	a.Status = status
	l.accounts[id] = a

	return a, nil
}

// ListIDs returns up to limit account ids sorted ascending, strictly after afterID.
func (l *Ledger) ListIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	l.mu.RLock()
	ids := make([]string, 0, len(l.ids))
	for _, id := range l.ids {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	l.mu.RUnlock()

	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	return ids, nil
}

// Append stores the event if its account exists and accepts the event kind.
func (l *Ledger) Append(_ context.Context, e domain.LedgerEvent) (domain.LedgerEvent, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[e.AccountID]
	if !ok {
		return domain.LedgerEvent{}, domain.ErrAccountNotFound
	}

	if !e.Kind.AllowedOn(a.Status) {
		return domain.LedgerEvent{}, domain.ErrAccountNotActive
	}

	if _, ok := l.eventIDs[e.ID]; ok {
		return domain.LedgerEvent{}, domain.ErrDuplicateEvent
	}

	e.Metadata = copyMetadata(e.Metadata)

	l.eventIDs[e.ID] = struct{}{}
	l.events[e.AccountID] = append(l.events[e.AccountID], e)

	if e.SagaID != nil {
		l.sagas[*e.SagaID] = append(l.sagas[*e.SagaID], e)
	}

	return e, nil
}

// Sum adds up the amounts of every event of the account created at or before asOf.
func (l *Ledger) Sum(_ context.Context, accountID string, asOf time.Time) (decimal.Decimal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.accounts[accountID]; !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}

	sum := decimal.Zero

	for _, e := range l.events[accountID] {
		if !e.CreatedAt.After(asOf) {
			sum = sum.Add(e.Amount)
		}
	}

	return sum, nil
}

// Head sums every event of the account and reports the latest event timestamp.
func (l *Ledger) Head(_ context.Context, accountID string) (domain.AccountHead, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, ok := l.accounts[accountID]; !ok {
		return domain.AccountHead{}, domain.ErrAccountNotFound
	}

	head := domain.AccountHead{Balance: decimal.Zero}

	for _, e := range l.events[accountID] {
		head.Balance = head.Balance.Add(e.Amount)

		if e.CreatedAt.After(head.LastEventAt) {
			head.LastEventAt = e.CreatedAt
		}
	}

	return head, nil
}

// List returns up to limit events of the account, newest first, strictly after cursor.
func (l *Ledger) List(_ context.Context, accountID string, cursor *domain.Cursor, limit int) ([]domain.LedgerEvent, error) {
	l.mu.RLock()
	all := append([]domain.LedgerEvent(nil), l.events[accountID]...)
	l.mu.RUnlock()

	sortNewestFirst(all)

	items := []domain.LedgerEvent{}

	for _, e := range all {
		if cursor != nil && !cursor.Before(e) {
			continue
		}

		items = append(items, e)

		if len(items) == limit {
			break
		}
	}

	return items, nil
}

// ListBySaga returns the events written under the saga id in (created_at, id) order.
func (l *Ledger) ListBySaga(_ context.Context, sagaID uuid.UUID) ([]domain.LedgerEvent, error) {
	l.mu.RLock()
	items := append([]domain.LedgerEvent(nil), l.sagas[sagaID]...)
	l.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID.String() < items[j].ID.String()
		}

		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	return items, nil
}

// ListOrphanDebits returns transfer debits created before the given time
// whose saga has neither a credit nor a reversal.
func (l *Ledger) ListOrphanDebits(_ context.Context, before time.Time, limit int) ([]domain.LedgerEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	items := []domain.LedgerEvent{}

	for _, events := range l.sagas {
		state := domain.SagaStateOf(events)
		if state != domain.SagaDebitApplied {
			continue
		}

		for _, e := range events {
			if e.Kind == domain.EventTransferDebit && e.CreatedAt.Before(before) {
				items = append(items, e)
			}
		}
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}

	return items, nil
}

func sortNewestFirst(events []domain.LedgerEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID.String() > events[j].ID.String()
		}

		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}
