package domain

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount indicates zero, malformed or wrongly signed amount.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidEventKind indicates an unknown ledger event kind.
	ErrInvalidEventKind = errors.New("invalid event kind")
	// ErrInvalidCursor indicates a malformed history cursor.
	ErrInvalidCursor = errors.New("invalid cursor")
	// ErrDuplicateEvent indicates that an event with the same id already exists.
	ErrDuplicateEvent = errors.New("duplicate event id")
)

// EventKind is the kind of ledger event.
type EventKind string

// Ledger event kinds.
const (
	EventDeposit               EventKind = "deposit"
	EventWithdrawal            EventKind = "withdrawal"
	EventTransferDebit         EventKind = "transfer_debit"
	EventTransferCredit        EventKind = "transfer_credit"
	EventTransferDebitReversal EventKind = "transfer_debit_reversal"
)

// Metadata keys set on transfer events.
const (
	MetaSagaID       = "saga_id"
	MetaCounterparty = "counterparty_account_id"
	MetaReverses     = "reverses_event_id"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventDeposit, EventWithdrawal, EventTransferDebit, EventTransferCredit, EventTransferDebitReversal:
		return true
	}

	return false
}

// ValidAmount reports whether the amount sign matches the event kind.
// Deposits, credits and reversals are positive; withdrawals and debits are negative.
func (k EventKind) ValidAmount(amount decimal.Decimal) bool {
	switch k {
	case EventDeposit, EventTransferCredit, EventTransferDebitReversal:
		return amount.IsPositive()
	case EventWithdrawal, EventTransferDebit:
		return amount.IsNegative()
	}

	return false
}

// AllowedOn reports whether an account in the given status accepts the event kind.
// Frozen accounts only take reversals.
func (k EventKind) AllowedOn(status AccountStatus) bool {
	switch status {
	case AccountActive:
		return true
	case AccountFrozen:
		return k == EventTransferDebitReversal
	}

	return false
}

// LedgerEvent is an immutable fact about money moving in or out of an account.
type LedgerEvent struct {
	ID          uuid.UUID         `json:"id"`
	AccountID   string            `json:"account_id"`
	Kind        EventKind         `json:"kind"`
	Amount      decimal.Decimal   `json:"amount"` // signed
	Actor       string            `json:"actor"`
	Description string            `json:"description,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SagaID      *uuid.UUID        `json:"saga_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// AccountHead is the sum of every event of an account and the timestamp of its latest one.
// LastEventAt is zero for an account with no events.
type AccountHead struct {
	Balance     decimal.Decimal
	LastEventAt time.Time
}

// AppendEventParams is the input data to append a ledger event.
type AppendEventParams struct {
	AccountID   string
	Kind        EventKind
	Amount      decimal.Decimal
	Actor       string
	Description string
	Metadata    map[string]string
	SagaID      *uuid.UUID
}

// Cursor points at the last event of a history page.
// The next page starts strictly after it in (created_at, id) descending order.
type Cursor struct {
	CreatedAt time.Time
	EventID   uuid.UUID
}

// CursorFor returns the cursor positioned at e.
func CursorFor(e LedgerEvent) Cursor {
	return Cursor{CreatedAt: e.CreatedAt, EventID: e.ID}
}

// Before reports whether e sorts strictly after the cursor in newest first order.
func (c Cursor) Before(e LedgerEvent) bool {
	if e.CreatedAt.Equal(c.CreatedAt) {
		return e.ID.String() < c.EventID.String()
	}

	return e.CreatedAt.Before(c.CreatedAt)
}

// Encode returns the opaque string form of the cursor.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixMicro(), 10) + "|" + c.EventID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses the opaque cursor produced by Encode.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, ErrInvalidCursor
	}

	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return Cursor{}, ErrInvalidCursor
	}

	micros, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	eventID, err := uuid.Parse(id)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	return Cursor{CreatedAt: time.UnixMicro(micros).UTC(), EventID: eventID}, nil
}

// HistoryPage is one page of account history, newest first.
type HistoryPage struct {
	Events     []LedgerEvent `json:"events"`
	NextCursor string        `json:"next_cursor,omitempty"`
}
