// Package eventrepo manages the append-only repository layer of ledger events.
package eventrepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/dbpkg"
)

// RepoPGS facilitates ledger event repository layer logic.
//
// It only ever inserts rows; ledger_events has a trigger rejecting updates and deletes.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns event RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{db: db}
}

const eventColumns = `id, account_id, kind, amount, actor, description, metadata, saga_id, created_at`

// appendQuery inserts only when the account accepts the event kind,
// so a concurrent freeze cannot slip an event in. Frozen accounts still take reversals.
const appendQuery = `
INSERT INTO
    ledger_events (` + eventColumns + `)
SELECT
    $1::uuid, a.id, $3::varchar, $4::numeric, $5::text, $6::text, $7::jsonb, $8::uuid, $9::timestamptz
FROM accounts a
WHERE a.id = $2
  AND (a.status = 'active' OR (a.status = 'frozen' AND $3::varchar = 'transfer_debit_reversal'))
RETURNING ` + eventColumns

const numericOutOfRange pq.ErrorCode = "22003"

const accountStatusQuery = `
SELECT status FROM accounts WHERE id = $1
`

// Append inserts the event and returns the stored row.
func (r *RepoPGS) Append(ctx context.Context, e domain.LedgerEvent) (domain.LedgerEvent, error) {
	l := zerolog.Ctx(ctx)

	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		l.Error().Err(err).Send()
		return domain.LedgerEvent{}, domain.ErrStorageUnavailable
	}

	var sagaID uuid.NullUUID
	if e.SagaID != nil {
		sagaID = uuid.NullUUID{UUID: *e.SagaID, Valid: true}
	}

	row := r.db.QueryRowContext(ctx, appendQuery,
		e.ID,
		e.AccountID,
		e.Kind,
		e.Amount,
		e.Actor,
		e.Description,
		metadata,
		sagaID,
		e.CreatedAt,
	)

	stored, err := scanEvent(row)
	if err == nil {
		return stored, nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerEvent{}, r.inactiveReason(ctx, e.AccountID)
	}

	l.Error().Err(err).Msgf("Append(ctx, %+v)", e)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Constraint {
		case "ledger_events_pkey":
			return domain.LedgerEvent{}, domain.ErrDuplicateEvent
		case "ledger_events_amount_check":
			return domain.LedgerEvent{}, domain.ErrInvalidAmount
		}

		if pqErr.Code == numericOutOfRange {
			return domain.LedgerEvent{}, domain.ErrInvalidAmount
		}
	}

	return domain.LedgerEvent{}, domain.ErrStorageUnavailable
}

func (r *RepoPGS) inactiveReason(ctx context.Context, accountID string) error {
	var status string

	err := r.db.QueryRowContext(ctx, accountStatusQuery, accountID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAccountNotFound
		}

		zerolog.Ctx(ctx).Error().Err(err).Send()

		return domain.ErrStorageUnavailable
	}

	return domain.ErrAccountNotActive
}

const sumQuery = `
SELECT COALESCE(SUM(amount), 0)
FROM ledger_events
WHERE account_id = $1 AND created_at <= $2
`

// Sum adds up the amounts of every event of the account created at or before asOf.
func (r *RepoPGS) Sum(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error) {
	l := zerolog.Ctx(ctx)

	var sum decimal.Decimal

	if err := r.db.QueryRowContext(ctx, sumQuery, accountID, asOf).Scan(&sum); err != nil {
		l.Error().Err(err).Send()
		return decimal.Zero, domain.ErrStorageUnavailable
	}

	return sum, nil
}

const headQuery = `
SELECT COALESCE(SUM(amount), 0), MAX(created_at)
FROM ledger_events
WHERE account_id = $1
`

// Head sums every event of the account and reports the latest event timestamp.
func (r *RepoPGS) Head(ctx context.Context, accountID string) (domain.AccountHead, error) {
	l := zerolog.Ctx(ctx)

	var (
		head domain.AccountHead
		last sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, headQuery, accountID).Scan(&head.Balance, &last); err != nil {
		l.Error().Err(err).Send()
		return domain.AccountHead{}, domain.ErrStorageUnavailable
	}

	if last.Valid {
		head.LastEventAt = last.Time.UTC()
	}

	return head, nil
}

const listQuery = `
SELECT ` + eventColumns + `
FROM ledger_events
WHERE account_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`

const listAfterCursorQuery = `
SELECT ` + eventColumns + `
FROM ledger_events
WHERE account_id = $1 AND (created_at, id) < ($2::timestamptz, $3::uuid)
ORDER BY created_at DESC, id DESC
LIMIT $4
`

// List returns up to limit events of the account, newest first, strictly after cursor.
func (r *RepoPGS) List(ctx context.Context, accountID string, cursor *domain.Cursor, limit int) ([]domain.LedgerEvent, error) {
	if cursor == nil {
		return r.query(ctx, listQuery, accountID, limit)
	}

	return r.query(ctx, listAfterCursorQuery, accountID, cursor.CreatedAt, cursor.EventID, limit)
}

const listBySagaQuery = `
SELECT ` + eventColumns + `
FROM ledger_events
WHERE saga_id = $1
ORDER BY created_at, id
`

// ListBySaga returns the events written under the saga id in (created_at, id) order.
func (r *RepoPGS) ListBySaga(ctx context.Context, sagaID uuid.UUID) ([]domain.LedgerEvent, error) {
	return r.query(ctx, listBySagaQuery, sagaID)
}

const listOrphanDebitsQuery = `
SELECT ` + eventColumns + `
FROM ledger_events d
WHERE d.kind = 'transfer_debit'
    AND d.created_at < $1
    AND NOT EXISTS (
        SELECT 1 FROM ledger_events o
        WHERE o.saga_id = d.saga_id
            AND o.kind IN ('transfer_credit', 'transfer_debit_reversal')
    )
ORDER BY d.created_at
LIMIT $2
`

// ListOrphanDebits returns transfer debits created before the given time
// whose saga has neither a credit nor a reversal.
func (r *RepoPGS) ListOrphanDebits(ctx context.Context, before time.Time, limit int) ([]domain.LedgerEvent, error) {
	return r.query(ctx, listOrphanDebitsQuery, before, limit)
}

func (r *RepoPGS) query(ctx context.Context, query string, args ...interface{}) ([]domain.LedgerEvent, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, domain.ErrStorageUnavailable
	}
	defer rows.Close()

	items := []domain.LedgerEvent{}

	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			l.Error().Err(err).Send()
			return nil, domain.ErrStorageUnavailable
		}

		items = append(items, e)
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, domain.ErrStorageUnavailable
	}

	return items, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(s scanner) (domain.LedgerEvent, error) {
	var (
		e        domain.LedgerEvent
		metadata []byte
		sagaID   uuid.NullUUID
	)

	err := s.Scan(
		&e.ID,
		&e.AccountID,
		&e.Kind,
		&e.Amount,
		&e.Actor,
		&e.Description,
		&metadata,
		&sagaID,
		&e.CreatedAt,
	)
	if err != nil {
		return e, err
	}

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, err
		}
	}

	if sagaID.Valid {
		id := sagaID.UUID
		e.SagaID = &id
	}

	e.CreatedAt = e.CreatedAt.UTC()

	return e, nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}

	return sql.NullString{String: string(b), Valid: true}, nil
}
