package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"taskflow/internal/model"
	"taskflow/internal/service"
)

// LedgerHandler handles balance, history and payout endpoints.
type LedgerHandler struct {
	ledger service.LedgerService
}

// NewLedgerHandler creates a new ledger handler.
func NewLedgerHandler(ledger service.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// WithdrawalRequest represents a payout request.
type WithdrawalRequest struct {
	Amount string `json:"amount" validate:"required"`
}

// DepositRequest records funds an employer paid in.
type DepositRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Reference string `json:"reference" validate:"max=64"`
}

// FailRequest carries the payout processor's failure reason.
type FailRequest struct {
	Reason string `json:"reason"`
}

// Balance godoc
// @Summary Get balance summary
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} service.Summary
// @Router /ledger/balance [get]
func (h *LedgerHandler) Balance(c echo.Context) error {
	summary, err := h.ledger.Summary(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// Entries godoc
// @Summary List ledger entries, newest first
// @Tags ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {array} model.LedgerEntry
// @Router /ledger/entries [get]
func (h *LedgerHandler) Entries(c echo.Context) error {
	entries, err := h.ledger.History(c.Request().Context(), principal(c).UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// Withdraw godoc
// @Summary Request a withdrawal
// @Tags ledger
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body WithdrawalRequest true "Amount"
// @Success 201 {object} model.LedgerEntry
// @Failure 400 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Router /ledger/withdrawals [post]
func (h *LedgerHandler) Withdraw(c echo.Context) error {
	var req WithdrawalRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest("invalid amount", "INVALID_AMOUNT")
	}

	entry, err := h.ledger.RequestWithdrawal(c.Request().Context(), principal(c).UserID, amount)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// Deposit godoc
// @Summary Book an employer deposit
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body DepositRequest true "Deposit"
// @Success 201 {object} model.LedgerEntry
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/ledger/deposits [post]
func (h *LedgerHandler) Deposit(c echo.Context) error {
	var req DepositRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest("invalid user id", "INVALID_UUID")
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return badRequest("invalid amount", "INVALID_AMOUNT")
	}

	entry, err := h.ledger.Deposit(c.Request().Context(), userID, amount, req.Reference)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, entry)
}

// ListPending godoc
// @Summary List pending entries for the payout processor
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param kind query string false "earning, withdrawal or refund"
// @Success 200 {array} model.LedgerEntry
// @Router /admin/ledger/pending [get]
func (h *LedgerHandler) ListPending(c echo.Context) error {
	entries, err := h.ledger.ListPending(c.Request().Context(), model.EntryKind(c.QueryParam("kind")))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// Settle godoc
// @Summary Mark a pending entry completed
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Entry ID"
// @Success 200 {object} model.LedgerEntry
// @Failure 409 {object} errors.ErrorResponse
// @Router /admin/ledger/{id}/settle [post]
func (h *LedgerHandler) Settle(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	entry, err := h.ledger.Settle(c.Request().Context(), id)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}

// Fail godoc
// @Summary Mark a pending entry failed
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Entry ID"
// @Param request body FailRequest false "Reason"
// @Success 200 {object} model.LedgerEntry
// @Failure 409 {object} errors.ErrorResponse
// @Router /admin/ledger/{id}/fail [post]
func (h *LedgerHandler) Fail(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req FailRequest
	if err := c.Bind(&req); err != nil {
		return invalidBody()
	}
	entry, err := h.ledger.Fail(c.Request().Context(), id, req.Reason)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, entry)
}
