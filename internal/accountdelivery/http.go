// Package accountdelivery manages delivery layer of accounts.
package accountdelivery

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/go-petr/pet-ledger/internal/domain"
	"github.com/go-petr/pet-ledger/pkg/errorspkg"
	"github.com/go-petr/pet-ledger/pkg/web"
)

// Service provides ledger operations needed by account delivery layer.
//
//go:generate mockgen -source http.go -destination http_mock.go -package accountdelivery
type Service interface {
	CreateAccount(ctx context.Context, currency string) (domain.Account, error)
	GetAccount(ctx context.Context, id string) (domain.Account, error)
	SetStatus(ctx context.Context, id string, status domain.AccountStatus) (domain.Account, error)
	BalanceOf(ctx context.Context, accountID string, asOf time.Time) (decimal.Decimal, error)
	History(ctx context.Context, accountID, cursor string, limit int) (domain.HistoryPage, error)
}

// Auditor provides the audit trail of an account.
type Auditor interface {
	Trail(ctx context.Context, accountID string, limit int) ([]domain.AuditRecord, error)
}

// Handler facilitates account delivery layer logic.
type Handler struct {
	service Service
	auditor Auditor
}

// NewHandler returns account handler.
func NewHandler(s Service, a Auditor) Handler {
	return Handler{service: s, auditor: a}
}

type data struct {
	Account domain.Account `json:"account"`
}
type response struct {
	Data data `json:"data,omitempty"`
}

type uriRequest struct {
	ID string `uri:"id" binding:"required,uuid"`
}

type createRequest struct {
	Currency string `json:"currency" binding:"required,currency"`
}

// Create handles http request to create account.
func (h *Handler) Create(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req createRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	acc, err := h.service.CreateAccount(ctx, req.Currency)
	if err != nil {
		errorResponse(gctx, err)
		return
	}

	gctx.JSON(http.StatusCreated, response{Data: data{acc}})
}

// Get handles http request to get account.
func (h *Handler) Get(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var req uriRequest
	if err := gctx.ShouldBindUri(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	acc, err := h.service.GetAccount(ctx, req.ID)
	if err != nil {
		errorResponse(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, response{Data: data{acc}})
}

type statusRequest struct {
	Status string `json:"status" binding:"required,oneof=active frozen closed"`
}

// SetStatus handles http request to freeze, close or reactivate account.
func (h *Handler) SetStatus(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	var req statusRequest
	if err := gctx.ShouldBindJSON(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	acc, err := h.service.SetStatus(ctx, uri.ID, domain.AccountStatus(req.Status))
	if err != nil {
		errorResponse(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, response{Data: data{acc}})
}

type balanceRequest struct {
	AsOf string `form:"as_of"`
}

type balanceData struct {
	AccountID string          `json:"account_id"`
	Balance   decimal.Decimal `json:"balance"`
	AsOf      *time.Time      `json:"as_of,omitempty"`
}

// Balance handles http request to get account balance, optionally as of a past instant.
func (h *Handler) Balance(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	var req balanceRequest
	if err := gctx.ShouldBindQuery(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	res := balanceData{AccountID: uri.ID}

	var asOf time.Time
	if req.AsOf != "" {
		t, err := time.Parse(time.RFC3339Nano, req.AsOf)
		if err != nil {
			l.Info().Err(err).Send()
			gctx.JSON(http.StatusBadRequest, web.Response{Error: "as_of must be RFC3339 timestamp"})

			return
		}

		asOf = t.UTC()
		res.AsOf = &asOf
	}

	balance, err := h.service.BalanceOf(ctx, uri.ID, asOf)
	if err != nil {
		errorResponse(gctx, err)
		return
	}

	res.Balance = balance

	gctx.JSON(http.StatusOK, web.Response{Data: res})
}

type historyRequest struct {
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

// History handles http request to page through account events, newest first.
func (h *Handler) History(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	var req historyRequest
	if err := gctx.ShouldBindQuery(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	page, err := h.service.History(ctx, uri.ID, req.Cursor, req.Limit)
	if err != nil {
		errorResponse(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: page})
}

type auditRequest struct {
	Limit int `form:"limit" binding:"omitempty,min=1,max=500"`
}

type auditData struct {
	Records []domain.AuditRecord `json:"records"`
}

// Audit handles http request to get the audit trail of account.
func (h *Handler) Audit(gctx *gin.Context) {
	ctx := gctx.Request.Context()
	l := zerolog.Ctx(ctx)

	var uri uriRequest
	if err := gctx.ShouldBindUri(&uri); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	var req auditRequest
	if err := gctx.ShouldBindQuery(&req); err != nil {
		l.Info().Err(err).Send()
		gctx.JSON(http.StatusBadRequest, web.Response{Error: web.BindErrorMsg(err)})

		return
	}

	records, err := h.auditor.Trail(ctx, uri.ID, req.Limit)
	if err != nil {
		errorResponse(gctx, err)
		return
	}

	gctx.JSON(http.StatusOK, web.Response{Data: auditData{Records: records}})
}

func errorResponse(gctx *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound):
		gctx.JSON(http.StatusNotFound, web.Error(err))
	case errors.Is(err, domain.ErrUnsupportedCurrency),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrInvalidCursor):
		gctx.JSON(http.StatusBadRequest, web.Error(err))
	case errors.Is(err, domain.ErrStorageUnavailable):
		gctx.JSON(http.StatusServiceUnavailable, web.Error(err))
	default:
		zerolog.Ctx(gctx.Request.Context()).Error().Err(err).Send()
		gctx.JSON(http.StatusInternalServerError, web.Error(errorspkg.ErrInternal))
	}
}
