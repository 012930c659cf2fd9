package domain

import (
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds indicates that the account balance does not cover the amount.
var ErrInsufficientFunds = errors.New("insufficient funds")

// TransactionParams is the input data for a deposit or a withdrawal.
type TransactionParams struct {
	AccountID      string
	Amount         decimal.Decimal // positive
	Actor          string
	Description    string
	IdempotencyKey string
}

// TransactionResult is the stored outcome of a deposit or a withdrawal.
type TransactionResult struct {
	Event         LedgerEvent     `json:"event"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
}
