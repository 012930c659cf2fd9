// Package projection maintains read-side account balances from audit records.
//
// A projection is a cache. The ledger never reads it for money decisions,
// the reconciliation engine compares it against the event log.
package projection

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
)

// Memory keeps projected balances in process.
type Memory struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
}

// NewMemory returns an empty Memory projection.
func NewMemory() *Memory {
	return &Memory{balances: make(map[string]decimal.Decimal)}
}

// EmitAudit applies the audit record.
func (m *Memory) EmitAudit(ctx context.Context, rec domain.AuditRecord) error {
	return m.Set(ctx, rec.AccountID, rec.BalanceAfter)
}

// EmitMismatch is a no-op; mismatches are never applied to the projection.
func (m *Memory) EmitMismatch(context.Context, domain.Mismatch) error {
	return nil
}

// Set overwrites the projected balance of the account.
func (m *Memory) Set(_ context.Context, accountID string, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[accountID] = balance

	return nil
}

// Balance returns the projected balance and whether the account is known.
func (m *Memory) Balance(_ context.Context, accountID string) (decimal.Decimal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[accountID]

	return b, ok, nil
}
