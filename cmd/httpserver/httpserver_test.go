package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/go-petr/pet-ledger/cmd/httpserver"
	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/middleware"
	"github.com/go-petr/pet-ledger/pkg/configpkg"
	"github.com/go-petr/pet-ledger/pkg/randompkg"
	"github.com/go-petr/pet-ledger/pkg/tokenpkg"
	"github.com/go-petr/pet-ledger/pkg/web"
)

type client struct {
	t      *testing.T
	server *httpserver.Server
	maker  tokenpkg.Maker
	actor  string
}

func newClient(t *testing.T) *client {
	t.Helper()

	config := configpkg.Config{
		TokenSymmetricKey:  randompkg.String(32),
		StorageBackend:     httpserver.BackendMemory,
		IdempotencyBackend: httpserver.BackendMemory,
		LockBackend:        httpserver.BackendLocal,
		ProjectionBackend:  httpserver.BackendMemory,
		ReconInterval:      time.Hour,
		SagaRecoveryAge:    time.Minute,
	}

	server, err := httpserver.New(nil, zerolog.Nop(), config)
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, server.Close()) })

	maker, err := tokenpkg.NewPasetoMaker(config.TokenSymmetricKey)
	require.NoError(t, err)

	return &client{t: t, server: server, maker: maker, actor: randompkg.Owner()}
}

func (c *client) do(method, url, key string, body any, data any) (int, string) {
	c.t.Helper()

	var reader *bytes.Reader

	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(c.t, err)

	if key != "" {
		req.Header.Set(web.IdempotencyKeyHeader, key)
	}

	require.NoError(c.t, middleware.AddAuthorization(req, c.maker, middleware.AuthTypeBearer, c.actor, time.Minute))

	recorder := httptest.NewRecorder()
	c.server.ServeHTTP(recorder, req)

	res := web.Response{Data: data}
	require.NoError(c.t, json.NewDecoder(recorder.Body).Decode(&res))

	return recorder.Code, res.Error
}

func (c *client) createAccount(currency string) domain.Account {
	c.t.Helper()

	var got struct {
		Account domain.Account `json:"account"`
	}

	code, errMsg := c.do(http.MethodPost, "/accounts", "", map[string]string{"currency": currency}, &got)
	require.Equal(c.t, http.StatusCreated, code, errMsg)

	return got.Account
}

func (c *client) balance(id string) string {
	c.t.Helper()

	var got struct {
		Balance string `json:"balance"`
	}

	code, errMsg := c.do(http.MethodGet, "/accounts/"+id+"/balance", "", nil, &got)
	require.Equal(c.t, http.StatusOK, code, errMsg)

	return got.Balance
}

func TestLedgerFlow(t *testing.T) {
	c := newClient(t)

	alice := c.createAccount("USD")
	bob := c.createAccount("USD")
	euro := c.createAccount("EUR")

	depositKey := uuid.NewString()
	deposit := map[string]string{"amount": "100.50", "description": "salary"}

	for i := 0; i < 2; i++ {
		var got struct {
			Transaction domain.TransactionResult `json:"transaction"`
		}

		code, errMsg := c.do(http.MethodPost, "/accounts/"+alice.ID+"/deposits", depositKey, deposit, &got)
		require.Equal(t, http.StatusOK, code, errMsg)
		require.Equal(t, c.actor, got.Transaction.Event.Actor)
	}

	require.Equal(t, "100.5", c.balance(alice.ID))

	code, errMsg := c.do(http.MethodPost, "/accounts/"+alice.ID+"/withdrawals", uuid.NewString(),
		map[string]string{"amount": "1000"}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, domain.ErrInsufficientFunds.Error(), errMsg)

	code, errMsg = c.do(http.MethodPost, "/accounts/"+alice.ID+"/withdrawals", "",
		map[string]string{"amount": "1"}, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, domain.ErrIdempotencyKeyRequired.Error(), errMsg)

	transfer := map[string]string{
		"from_account_id": alice.ID,
		"to_account_id":   bob.ID,
		"amount":          "40.25",
	}

	var moved struct {
		Transfer domain.TransferResult `json:"transfer"`
	}

	code, errMsg = c.do(http.MethodPost, "/transfers", uuid.NewString(), transfer, &moved)
	require.Equal(t, http.StatusOK, code, errMsg)
	require.Equal(t, domain.SagaCreditApplied, moved.Transfer.State)

	require.Equal(t, "60.25", c.balance(alice.ID))
	require.Equal(t, "40.25", c.balance(bob.ID))

	transfer["to_account_id"] = euro.ID
	code, errMsg = c.do(http.MethodPost, "/transfers", uuid.NewString(), transfer, nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, domain.ErrCurrencyMismatch.Error(), errMsg)

	// A frozen destination makes the credit fail; the debit is reversed.
	code, errMsg = c.do(http.MethodPatch, "/accounts/"+bob.ID+"/status", "", map[string]string{"status": "frozen"}, nil)
	require.Equal(t, http.StatusOK, code, errMsg)

	transfer["to_account_id"] = bob.ID
	code, errMsg = c.do(http.MethodPost, "/transfers", uuid.NewString(), transfer, &moved)
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.True(t, strings.HasPrefix(errMsg, domain.ErrTransferFailed.Error()), errMsg)
	require.Equal(t, domain.SagaCompensationApplied, moved.Transfer.State)
	require.Equal(t, "60.25", c.balance(alice.ID))

	var history domain.HistoryPage

	code, errMsg = c.do(http.MethodGet, "/accounts/"+alice.ID+"/history?limit=2", "", nil, &history)
	require.Equal(t, http.StatusOK, code, errMsg)
	require.Len(t, history.Events, 2)
	require.Equal(t, domain.EventTransferDebitReversal, history.Events[0].Kind)
	require.NotEmpty(t, history.NextCursor)

	var trail struct {
		Records []domain.AuditRecord `json:"records"`
	}

	code, errMsg = c.do(http.MethodGet, "/accounts/"+alice.ID+"/audit", "", nil, &trail)
	require.Equal(t, http.StatusOK, code, errMsg)
	require.Len(t, trail.Records, 4)
	require.Equal(t, "60.25", trail.Records[0].BalanceAfter.String())

	mismatches, err := c.server.Reconciler.Scan(context.Background())
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

func TestHealthAndMetrics(t *testing.T) {
	c := newClient(t)

	for _, path := range []string{"/health", "/metrics"} {
		req, err := http.NewRequest(http.MethodGet, path, nil)
		require.NoError(t, err)

		recorder := httptest.NewRecorder()
		c.server.ServeHTTP(recorder, req)

		require.Equal(t, http.StatusOK, recorder.Code, path)
	}
}

func TestUnknownBackend(t *testing.T) {
	_, err := httpserver.New(nil, zerolog.Nop(), configpkg.Config{
		TokenSymmetricKey:  randompkg.String(32),
		StorageBackend:     "cassandra",
		IdempotencyBackend: httpserver.BackendMemory,
		LockBackend:        httpserver.BackendLocal,
		ProjectionBackend:  httpserver.BackendMemory,
	})
	require.ErrorIs(t, err, httpserver.ErrUnknownBackend)
}

func TestIncompatibleBackends(t *testing.T) {
	base := configpkg.Config{
		TokenSymmetricKey:  randompkg.String(32),
		StorageBackend:     httpserver.BackendPostgres,
		IdempotencyBackend: httpserver.BackendRedis,
		LockBackend:        httpserver.BackendRedis,
		ProjectionBackend:  httpserver.BackendRedis,
	}

	testCases := []struct {
		name   string
		modify func(c *configpkg.Config)
	}{
		{
			name: "MemoryProjection",
			modify: func(c *configpkg.Config) {
				c.ProjectionBackend = httpserver.BackendMemory
			},
		},
		{
			name: "MemoryStorage",
			modify: func(c *configpkg.Config) {
				c.StorageBackend = httpserver.BackendMemory
			},
		},
	}

	for _, tc := range testCases {
		tc := tc

		t.Run(tc.name, func(t *testing.T) {
			config := base
			tc.modify(&config)

			_, err := httpserver.New(nil, zerolog.Nop(), config)
			require.ErrorIs(t, err, httpserver.ErrIncompatibleBackends)
		})
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()

	d, err := decimal.NewFromString(s)
	require.NoError(t, err)

	return d
}

func TestJWTTokens(t *testing.T) {
	key := randompkg.String(32)

	server, err := httpserver.New(nil, zerolog.Nop(), configpkg.Config{
		TokenSymmetricKey:  key,
		TokenType:          httpserver.TokenJWT,
		StorageBackend:     httpserver.BackendMemory,
		IdempotencyBackend: httpserver.BackendMemory,
		LockBackend:        httpserver.BackendLocal,
		ProjectionBackend:  httpserver.BackendMemory,
	})
	require.NoError(t, err)

	maker, err := tokenpkg.NewJWTMaker(key)
	require.NoError(t, err)

	c := &client{t: t, server: server, maker: maker, actor: randompkg.Owner()}

	account := c.createAccount("EUR")
	require.Equal(t, "0", c.balance(account.ID))

	code, _ := c.do(http.MethodGet, "/accounts/"+uuid.NewString(), "", nil, nil)
	require.Equal(t, http.StatusNotFound, code)
}
