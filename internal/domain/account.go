// Package domain provides definitions of all ledger entities.
package domain

import (
	"errors"
	"time"
)

var (
	// ErrAccountNotFound indicates that the account is not found.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountAlreadyExists indicates that an account with the same id already exists.
	ErrAccountAlreadyExists = errors.New("account already exists")
	// ErrAccountNotActive indicates that the account is frozen or closed.
	ErrAccountNotActive = errors.New("account not active")
	// ErrInvalidStatus indicates an unknown account status.
	ErrInvalidStatus = errors.New("invalid account status")
	// ErrUnsupportedCurrency indicates a currency the ledger does not keep.
	ErrUnsupportedCurrency = errors.New("unsupported currency")
	// ErrCurrencyMismatch indicates that accounts have different currencies.
	ErrCurrencyMismatch = errors.New("accounts currency mismatch")
	// ErrStorageUnavailable indicates a transient storage failure, safe to retry by the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// AccountStatus is the lifecycle status of an account.
type AccountStatus string

// Account statuses.
const (
	AccountActive AccountStatus = "active"
	AccountFrozen AccountStatus = "frozen"
	AccountClosed AccountStatus = "closed"
)

// Valid reports whether s is a known status.
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountFrozen, AccountClosed:
		return true
	}

	return false
}

// Account holds account identity data. It never carries a balance,
// balances are derived from ledger events.
type Account struct {
	ID        string        `json:"id"`
	Currency  string        `json:"currency"`
	Status    AccountStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}
