package auditservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/ledgerservice"
	"github.com/go-petr/pet-ledger/internal/memrepo"
	"github.com/go-petr/pet-ledger/internal/reportsink"
	"github.com/go-petr/pet-ledger/pkg/clockpkg"
	"github.com/go-petr/pet-ledger/pkg/currencypkg"
	"github.com/go-petr/pet-ledger/pkg/randompkg"
)

type brokenRepo struct{ *memrepo.Audit }

func (brokenRepo) Create(context.Context, domain.AuditRecord) (domain.AuditRecord, error) {
	return domain.AuditRecord{}, errors.New("disk full")
}

func TestRecordAndTrail(t *testing.T) {
	ctx := context.Background()
	clock := clockpkg.NewFake(time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC))
	ledgerRepo := memrepo.NewLedger()
	ledger := ledgerservice.New(ledgerRepo, ledgerRepo, clock)
	sink := &reportsink.Recorder{}
	s := New(memrepo.NewAudit(), sink, ledger, clock)

	account, err := ledger.CreateAccount(ctx, currencypkg.USD)
	require.NoError(t, err)

	actor := randompkg.Owner()
	before := decimal.Zero

	for _, amt := range []int64{100, -40, 15} {
		kind := domain.EventDeposit
		if amt < 0 {
			kind = domain.EventWithdrawal
		}

		e, err := ledger.AppendEvent(ctx, domain.AppendEventParams{
			AccountID: account.ID,
			Kind:      kind,
			Amount:    decimal.NewFromInt(amt),
			Actor:     actor,
		})
		require.NoError(t, err)

		rec := s.Record(ctx, e, before)
		require.Equal(t, e.ID, rec.EventID)
		require.True(t, rec.BalanceAfter.Equal(before.Add(e.Amount)))

		before = rec.BalanceAfter
	}

	require.Len(t, sink.Audits(), 3)

	trail, err := s.Trail(ctx, account.ID, 2)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, "75", trail[0].BalanceAfter.String())
	require.Equal(t, "60", trail[0].BalanceBefore.String())
	require.Equal(t, actor, trail[0].Actor)
	require.Equal(t, domain.EventWithdrawal, trail[1].Kind)

	_, err = s.Trail(ctx, "missing", 10)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestRecordStorageFailure(t *testing.T) {
	ctx := context.Background()
	clock := clockpkg.SystemClock{}
	sink := &reportsink.Recorder{}
	s := New(brokenRepo{memrepo.NewAudit()}, sink, nil, clock)

	e := domain.LedgerEvent{
		ID:        uuid.New(),
		AccountID: "acc-1",
		Kind:      domain.EventDeposit,
		Amount:    decimal.NewFromInt(5),
	}

	rec := s.Record(ctx, e, decimal.NewFromInt(1))
	require.Equal(t, "6", rec.BalanceAfter.String())
	require.Len(t, sink.Audits(), 1)
}

type stalledSink struct{ reportsink.Recorder }

func (*stalledSink) EmitAudit(ctx context.Context, _ domain.AuditRecord) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRecordSinkTimeout(t *testing.T) {
	repo := memrepo.NewAudit()
	s := New(repo, &stalledSink{}, nil, clockpkg.SystemClock{}, WithEmitTimeout(20*time.Millisecond))

	e := domain.LedgerEvent{
		ID:        uuid.New(),
		AccountID: "acc-1",
		Kind:      domain.EventDeposit,
		Amount:    decimal.NewFromInt(5),
	}

	started := time.Now()
	rec := s.Record(context.Background(), e, decimal.Zero)

	require.Less(t, time.Since(started), time.Second)
	require.Equal(t, "5", rec.BalanceAfter.String())

	stored, err := repo.List(context.Background(), "acc-1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
}
