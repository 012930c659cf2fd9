package domain

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrSameAccount indicates a transfer from an account to itself.
	ErrSameAccount = errors.New("source and destination accounts are the same")
	// ErrTransferFailed indicates a transfer whose debit was compensated.
	ErrTransferFailed = errors.New("transfer failed")
)

// SagaState is the progress of a transfer saga.
type SagaState string

// Transfer saga states.
const (
	SagaStarted             SagaState = "started"
	SagaDebitApplied        SagaState = "debit_applied"
	SagaCreditApplied       SagaState = "credit_applied"
	SagaCompensationApplied SagaState = "compensation_applied"
)

// Terminal reports whether no further step will run for the saga.
func (s SagaState) Terminal() bool {
	return s == SagaCreditApplied || s == SagaCompensationApplied
}

// TransferParams is the input data for a transfer.
type TransferParams struct {
	FromAccountID  string
	ToAccountID    string
	Amount         decimal.Decimal // positive
	Actor          string
	Description    string
	IdempotencyKey string
}

// TransferResult is the stored terminal outcome of a transfer saga.
type TransferResult struct {
	SagaID        uuid.UUID       `json:"saga_id"`
	State         SagaState       `json:"state"`
	FromAccountID string          `json:"from_account_id"`
	ToAccountID   string          `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Debit         *LedgerEvent    `json:"debit,omitempty"`
	Credit        *LedgerEvent    `json:"credit,omitempty"`
	Reversal      *LedgerEvent    `json:"reversal,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// SagaStateOf derives the saga state from the events written under one saga id.
func SagaStateOf(events []LedgerEvent) SagaState {
	state := SagaStarted

	for _, e := range events {
		switch e.Kind {
		case EventTransferCredit:
			return SagaCreditApplied
		case EventTransferDebitReversal:
			return SagaCompensationApplied
		case EventTransferDebit:
			state = SagaDebitApplied
		}
	}

	return state
}
