// Package auditrepo manages repository layer of audit records.
package auditrepo

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/dbpkg"
)

// RepoPGS facilitates audit repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns audit RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{db: db}
}

const createQuery = `
INSERT INTO
    audit_records (id, account_id, event_id, kind, actor, balance_before, balance_after, created_at)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, account_id, event_id, kind, actor, balance_before, balance_after, created_at
`

// Create creates the audit record and then returns it.
func (r *RepoPGS) Create(ctx context.Context, rec domain.AuditRecord) (domain.AuditRecord, error) {
	l := zerolog.Ctx(ctx)

	row := r.db.QueryRowContext(ctx, createQuery,
		rec.ID,
		rec.AccountID,
		rec.EventID,
		rec.Kind,
		rec.Actor,
		rec.BalanceBefore,
		rec.BalanceAfter,
		rec.CreatedAt,
	)

	var a domain.AuditRecord

	err := row.Scan(
		&a.ID,
		&a.AccountID,
		&a.EventID,
		&a.Kind,
		&a.Actor,
		&a.BalanceBefore,
		&a.BalanceAfter,
		&a.CreatedAt,
	)
	if err != nil {
		l.Error().Err(err).Msgf("Create(ctx, %+v)", rec)
		return a, domain.ErrStorageUnavailable
	}

	a.CreatedAt = a.CreatedAt.UTC()

	return a, nil
}

const listQuery = `
SELECT
	id, account_id, event_id, kind, actor, balance_before, balance_after, created_at
FROM audit_records
WHERE account_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`

// List returns up to limit audit records of the account, newest first.
func (r *RepoPGS) List(ctx context.Context, accountID string, limit int) ([]domain.AuditRecord, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.db.QueryContext(ctx, listQuery, accountID, limit)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, domain.ErrStorageUnavailable
	}
	defer rows.Close()

	items := []domain.AuditRecord{}

	for rows.Next() {
		var a domain.AuditRecord
		if err := rows.Scan(
			&a.ID,
			&a.AccountID,
			&a.EventID,
			&a.Kind,
			&a.Actor,
			&a.BalanceBefore,
			&a.BalanceAfter,
			&a.CreatedAt,
		); err != nil {
			l.Error().Err(err).Send()
			return nil, domain.ErrStorageUnavailable
		}

		a.CreatedAt = a.CreatedAt.UTC()
		items = append(items, a)
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, domain.ErrStorageUnavailable
	}

	return items, nil
}
