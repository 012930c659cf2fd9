package domain

import (
	"errors"
	"time"
)

var (
	// ErrIdempotencyKeyInFlight indicates that a request with the same key is being processed.
	ErrIdempotencyKeyInFlight = errors.New("idempotency key in flight")
	// ErrIdempotencyKeyRequired indicates a missing idempotency key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	// ErrReservationNotFound indicates that the key has no in flight reservation.
	ErrReservationNotFound = errors.New("idempotency reservation not found")
)

// IdempotencyStatus is the state of an idempotency record.
type IdempotencyStatus string

// Idempotency record states.
const (
	IdempotencyInFlight  IdempotencyStatus = "in_flight"
	IdempotencyCompleted IdempotencyStatus = "completed"
)

// IdempotencyRecord maps a key to the serialized result of the original operation.
type IdempotencyRecord struct {
	Key       string            `json:"key"`
	Status    IdempotencyStatus `json:"status"`
	Result    []byte            `json:"result,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Live reports whether the record has not expired at now.
func (r IdempotencyRecord) Live(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}
