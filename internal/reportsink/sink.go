// Package reportsink emits audit records and reconciliation mismatches to external consumers.
package reportsink

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/amountpkg"
)

// Sink consumes audit and reconciliation reports.
type Sink interface {
	EmitAudit(ctx context.Context, rec domain.AuditRecord) error
	EmitMismatch(ctx context.Context, m domain.Mismatch) error
}

// Log writes reports to the context logger.
type Log struct{}

// EmitAudit implements Sink.
func (Log) EmitAudit(ctx context.Context, rec domain.AuditRecord) error {
	zerolog.Ctx(ctx).Debug().
		Str("account_id", rec.AccountID).
		Str("event_id", rec.EventID.String()).
		Str("kind", string(rec.Kind)).
		Str("actor", rec.Actor).
		Str("balance_before", amountpkg.String(rec.BalanceBefore)).
		Str("balance_after", amountpkg.String(rec.BalanceAfter)).
		Msg("audit")

	return nil
}

// EmitMismatch implements Sink.
func (Log) EmitMismatch(ctx context.Context, m domain.Mismatch) error {
	zerolog.Ctx(ctx).Error().
		Err(domain.ErrReconciliationMismatch).
		Str("account_id", m.AccountID).
		Str("expected", amountpkg.String(m.Expected)).
		Str("observed", amountpkg.String(m.Observed)).
		Time("window_start", m.WindowStart).
		Time("window_end", m.WindowEnd).
		Send()

	return nil
}

// Multi fans every report out to all sinks and joins their errors.
type Multi []Sink

// EmitAudit implements Sink.
func (m Multi) EmitAudit(ctx context.Context, rec domain.AuditRecord) error {
	var errs []error

	for _, s := range m {
		if err := s.EmitAudit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// EmitMismatch implements Sink.
func (m Multi) EmitMismatch(ctx context.Context, mm domain.Mismatch) error {
	var errs []error

	for _, s := range m {
		if err := s.EmitMismatch(ctx, mm); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Recorder keeps reports in memory.
type Recorder struct {
	mu         sync.Mutex
	audits     []domain.AuditRecord
	mismatches []domain.Mismatch
}

// EmitAudit implements Sink.
func (r *Recorder) EmitAudit(_ context.Context, rec domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.audits = append(r.audits, rec)

	return nil
}

// EmitMismatch implements Sink.
func (r *Recorder) EmitMismatch(_ context.Context, m domain.Mismatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mismatches = append(r.mismatches, m)

	return nil
}

// Audits returns a copy of the recorded audit records.
func (r *Recorder) Audits() []domain.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.AuditRecord(nil), r.audits...)
}

// Mismatches returns a copy of the recorded mismatches.
func (r *Recorder) Mismatches() []domain.Mismatch {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]domain.Mismatch(nil), r.mismatches...)
}
