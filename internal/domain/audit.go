package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrReconciliationMismatch indicates drift between the ledger and a cached balance.
var ErrReconciliationMismatch = errors.New("reconciliation mismatch")

// AuditRecord is a write once snapshot taken alongside each mutation.
// Balance logic never reads it.
type AuditRecord struct {
	ID            uuid.UUID       `json:"id"`
	AccountID     string          `json:"account_id"`
	EventID       uuid.UUID       `json:"event_id"`
	Kind          EventKind       `json:"kind"`
	Actor         string          `json:"actor"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Mismatch is a reconciliation failure report.
type Mismatch struct {
	AccountID   string          `json:"account_id"`
	Expected    decimal.Decimal `json:"expected"` // ledger sum
	Observed    decimal.Decimal `json:"observed"` // cached balance
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	DetectedAt  time.Time       `json:"detected_at"`
}
