package memrepo

import (
	"context"
	"sync"
	"time"

	"github.com/go-petr/pet-ledger/internal/domain"
)

// Idempotency stores idempotency records in a map guarded by a mutex.
type Idempotency struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

// NewIdempotency returns an empty Idempotency store.
func NewIdempotency() *Idempotency {
	return &Idempotency{records: make(map[string]domain.IdempotencyRecord)}
}

// Reserve inserts rec unless a live record exists for its key.
// It returns the live record and false when the key is taken.
func (s *Idempotency) Reserve(_ context.Context, rec domain.IdempotencyRecord, now time.Time) (domain.IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.Key]; ok && existing.Live(now) {
		return existing, false, nil
	}

	s.records[rec.Key] = rec

	return rec, true, nil
}

// Complete stores the result against an in flight key.
func (s *Idempotency) Complete(_ context.Context, key string, result []byte, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || rec.Status != domain.IdempotencyInFlight {
		return domain.ErrReservationNotFound
	}

	rec.Status = domain.IdempotencyCompleted
	rec.Result = append([]byte(nil), result...)
	rec.ExpiresAt = expiresAt
	s.records[key] = rec

	return nil
}

// Release removes the in flight reservation created at reservedAt.
func (s *Idempotency) Release(_ context.Context, key string, reservedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if ok && rec.Status == domain.IdempotencyInFlight && rec.CreatedAt.Equal(reservedAt) {
		delete(s.records, key)
	}

	return nil
}

// Purge deletes records that expired before the given time.
func (s *Idempotency) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64

	for key, rec := range s.records {
		if !rec.ExpiresAt.After(before) {
			delete(s.records, key)
			n++
		}
	}

	return n, nil
}
