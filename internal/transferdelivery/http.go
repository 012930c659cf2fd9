// Package transferdelivery manages delivery layer of transfers.
package transferdelivery

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

// Service provides service layer interface needed by transfer delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package transferdelivery
type Service interface {
	Transfer(ctx context.Context, arg domain.TransferParams) (domain.TransferResult, error)
}

// Handler facilitates transfer delivery layer logic.
type Handler struct {
	service Service
}

// NewHandler returns transfer handler.
func NewHandler(ts Service) *Handler {
	return &Handler{
		service: ts,
	}
}

type request struct {
	FromAccountID string `json:"from_account_id" binding:"required,uuid"`
	ToAccountID   string `json:"to_account_id" binding:"required,uuid"`
	Amount        string `json:"amount" binding:"required"`
	Description   string `json:"description" binding:"max=255"`
}

type data struct {
	Transfer domain.TransferResult `json:"transfer"`
}

// Create handles http request to create a transfer between two accounts.
//
// A compensated transfer answers 422 with both the error and the saga
// outcome, so the client sees the reversal that restored the source.
func (h *Handler) Create(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

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

	result, err := h.service.Transfer(ctx, domain.TransferParams{
		FromAccountID:  req.FromAccountID,
		ToAccountID:    req.ToAccountID,
		Amount:         amount,
		Actor:          middleware.Actor(gctx),
		Description:    req.Description,
		IdempotencyKey: gctx.GetHeader(web.IdempotencyKeyHeader),
	})
	if err != nil {
		l.Info().Err(err).Send()

		switch {
		case errors.Is(err, domain.ErrTransferFailed):
			gctx.JSON(http.StatusUnprocessableEntity, web.Response{Data: data{result}, Error: err.Error()})
		case errors.Is(err, domain.ErrInvalidAmount),
			errors.Is(err, domain.ErrIdempotencyKeyRequired),
			errors.Is(err, domain.ErrSameAccount),
			errors.Is(err, domain.ErrCurrencyMismatch):
			gctx.JSON(http.StatusBadRequest, web.Error(err))
		case errors.Is(err, domain.ErrAccountNotFound):
			gctx.JSON(http.StatusNotFound, web.Error(err))
		case errors.Is(err, domain.ErrIdempotencyKeyInFlight):
			gctx.JSON(http.StatusConflict, web.Error(err))
		case errors.Is(err, domain.ErrInsufficientFunds),
			errors.Is(err, domain.ErrAccountNotActive):
			gctx.JSON(http.StatusUnprocessableEntity, web.Error(err))
		case errors.Is(err, domain.ErrStorageUnavailable):
			gctx.JSON(http.StatusServiceUnavailable, web.Error(err))
		default:
			gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))
		}

		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: data{result}})
}
