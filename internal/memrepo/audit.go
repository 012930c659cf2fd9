package memrepo

import (
	"context"
	"sync"

	"github.com/go-petr/pet-ledger/internal/domain"
)

// Audit stores write once audit records.
type Audit struct {
	mu      sync.RWMutex
	records map[string][]domain.AuditRecord
}

// NewAudit returns an empty Audit.
func NewAudit() *Audit {
	return &Audit{records: make(map[string][]domain.AuditRecord)}
}

// Create stores the audit record.
func (a *Audit) Create(_ context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.records[rec.AccountID] = append(a.records[rec.AccountID], rec)

	return rec, nil
}

// List returns up to limit audit records of the account, newest first.
func (a *Audit) List(_ context.Context, accountID string, limit int) ([]domain.AuditRecord, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	records := a.records[accountID]
	items := []domain.AuditRecord{}

	for i := len(records) - 1; i >= 0; i-- {
		items = append(items, records[i])

		if len(items) == limit {
			break
		}
	}

	return items, nil
}
