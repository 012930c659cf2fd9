// Package accountrepo manages repository layer of accounts.
package accountrepo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/dbpkg"
)

// RepoPGS facilitates account repository layer logic.
type RepoPGS struct {
	db dbpkg.SQLInterface
}

// NewRepoPGS returns account RepoPGS.
func NewRepoPGS(db dbpkg.SQLInterface) *RepoPGS {
	return &RepoPGS{
		db: db,
	}
}

const createQuery = `
INSERT INTO
    accounts (id, currency, status, created_at)
VALUES
    ($1, $2, $3, $4)
RETURNING id, currency, status, created_at
`

// Create creates the account and then returns it.
func (r *RepoPGS) Create(ctx context.Context, a domain.Account) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	row := r.db.QueryRowContext(ctx, createQuery, a.ID, a.Currency, a.Status, a.CreatedAt)

	created, err := scanAccount(row)
	if err != nil {
		l.Error().Err(err).Msgf("Create(ctx, %+v)", a)

		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Constraint == "accounts_pkey" {
			return created, domain.ErrAccountAlreadyExists
		}

		return created, domain.ErrStorageUnavailable
	}

	return created, nil
}

const getQuery = `
SELECT
	id, currency, status, created_at
FROM accounts
WHERE id = $1
`

// Get returns the account with the given id.
func (r *RepoPGS) Get(ctx context.Context, id string) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	a, err := scanAccount(r.db.QueryRowContext(ctx, getQuery, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, domain.ErrAccountNotFound
		}

		l.Error().Err(err).Send()

		return a, domain.ErrStorageUnavailable
	}

	return a, nil
}

const updateStatusQuery = `
UPDATE accounts
SET status = $2
WHERE id = $1
RETURNING id, currency, status, created_at
`

// UpdateStatus changes the account's status and returns the changed account.
func (r *RepoPGS) UpdateStatus(ctx context.Context, id string, status domain.AccountStatus) (domain.Account, error) {
	l := zerolog.Ctx(ctx)

	a, err := scanAccount(r.db.QueryRowContext(ctx, updateStatusQuery, id, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, domain.ErrAccountNotFound
		}

		l.Error().Err(err).Send()

		return a, domain.ErrStorageUnavailable
	}

	return a, nil
}

const listIDsQuery = `
SELECT id
FROM accounts
WHERE id > $1
ORDER BY id
LIMIT $2
`

// ListIDs returns up to limit account ids sorted ascending, strictly after afterID.
func (r *RepoPGS) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	l := zerolog.Ctx(ctx)

	rows, err := r.db.QueryContext(ctx, listIDsQuery, afterID, limit)
	if err != nil {
		l.Error().Err(err).Send()
		return nil, domain.ErrStorageUnavailable
	}
	defer rows.Close()

	items := []string{}

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			l.Error().Err(err).Send()
			return nil, domain.ErrStorageUnavailable
		}

		items = append(items, id)
	}

	if err := rows.Err(); err != nil {
		l.Error().Err(err).Send()
		return nil, domain.ErrStorageUnavailable
	}

	return items, nil
}

func scanAccount(row *sql.Row) (domain.Account, error) {
	var a domain.Account

	err := row.Scan(
		&a.ID,
		&a.Currency,
		&a.Status,
		&a.CreatedAt,
	)
	a.CreatedAt = a.CreatedAt.UTC()

	return a, err
}
