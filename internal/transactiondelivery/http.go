// Package transactiondelivery manages delivery layer of deposits and withdrawals.
package transactiondelivery

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/internal/middleware"
	"github.com/go-petr/pet-ledger/pkg/amountpkg"
	"github.com/go-petr/pet-ledger/pkg/errorspkg"
	"github.com/go-petr/pet-ledger/pkg/web"
)

// Service provides service layer interface needed by transaction delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package transactiondelivery
type Service interface {
	Deposit(ctx context.Context, arg domain.TransactionParams) (domain.TransactionResult, error)
	Withdraw(ctx context.Context, arg domain.TransactionParams) (domain.TransactionResult, error)
}

// Handler facilitates transaction delivery layer logic.
type Handler struct {
	service Service
}

// NewHandler returns transaction handler.
func NewHandler(s Service) *Handler {
	return &Handler{service: s}
}

type uriRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type request struct {
	Amount      string `json:"amount" binding:"required"`
	Description string `json:"description" binding:"max=255"`
}

type data struct {
	Transaction domain.TransactionResult `json:"transaction"`
}

type response struct {
	Data data `json:"data,omitempty"`
}

// Deposit handles http request to credit account.
func (h *Handler) Deposit(gctx *gin.Context) {
	h.handle(gctx, h.service.Deposit)
}

// Withdraw handles http request to debit account.
func (h *Handler) Withdraw(gctx *gin.Context) {
	h.handle(gctx, h.service.Withdraw)
}

func (h *Handler) handle(gctx *gin.Context, apply func(context.Context, domain.TransactionParams) (domain.TransactionResult, error)) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	var req request
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	amount, err := amountpkg.Parse(req.Amount)
	if err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Error(err))

		return
	}

	result, err := apply(ctx, domain.TransactionParams{
		AccountID:      uri.ID,
		Amount:         amount,
		Actor:          middleware.Actor(gctx),
		Description:    req.Description,
		IdempotencyKey: gctx.GetHeader(web.IdempotencyKeyHeader),
	})
	if err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(statusOf(err), errorBody(err))

		return
	}

	gctx.JSON(http.StatusOK, response{Data: data{result}})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrIdempotencyKeyRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIdempotencyKeyInFlight):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrAccountNotActive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

func errorBody(err error) web.JSONError {
	if statusOf(err) == http.StatusInternalServerError {
		return web.Error(errorspkg.ErrInternal)
	}

	return web.Error(err)
}
