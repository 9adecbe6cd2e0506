package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"billpay-platform/internal/audit"
	"billpay-platform/internal/ledger"
	"billpay-platform/internal/pricing"
	"billpay-platform/internal/reconcile"
	"billpay-platform/internal/rewards"
	"billpay-platform/internal/wallet"
	"billpay-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler carries the API's service dependencies. Route wiring lives in
// cmd/api.
type Handler struct {
	ledger  *ledger.Service
	wallets wallet.Store
	pins    wallet.PinVerifier
	rewards rewards.Store
	sweeper *reconcile.Sweeper
	audits  *audit.Service
	log     *slog.Logger
}

func NewHandler(svc *ledger.Service, wallets wallet.Store, pins wallet.PinVerifier, rew rewards.Store, sweeper *reconcile.Sweeper, audits *audit.Service, log *slog.Logger) *Handler {
	return &Handler{
		ledger:  svc,
		wallets: wallets,
		pins:    pins,
		rewards: rew,
		sweeper: sweeper,
		audits:  audits,
		log:     log.With("component", "httpapi"),
	}
}

type createPaymentRequest struct {
	Kind        string            `json:"kind" binding:"required"`
	AmountMinor int64             `json:"amount_minor" binding:"required"`
	Pin         string            `json:"pin"`
	Params      map[string]string `json:"params"`
}

// CreatePayment serves POST /v1/payments. 201 when the provider settled
// synchronously, 202 when the transaction is still pending.
func (h *Handler) CreatePayment(c *gin.Context) {
	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and amount_minor are required"})
		return
	}

	if h.pins != nil {
		if err := h.pins.VerifyPin(c.Request.Context(), c.GetString("user_id"), req.Pin); err != nil {
			if errors.Is(err, wallet.ErrInvalidPin) {
				c.JSON(http.StatusForbidden, gin.H{"error": "invalid pin"})
				return
			}
			h.internalError(c, "verify pin", err)
			return
		}
	}

	txn, err := h.ledger.CreateAndExecute(c.Request.Context(), c.GetString("user_id"), pricing.Kind(req.Kind), req.AmountMinor, req.Params)
	if err != nil {
		h.paymentError(c, err)
		return
	}

	code := http.StatusAccepted
	if txn.Status.Terminal() {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"transaction": txn})
}

func (h *Handler) paymentError(c *gin.Context, err error) {
	var verr ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, ledger.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "insufficient funds"})
	default:
		h.internalError(c, "create payment", err)
	}
}

// GetTransaction serves GET /v1/transactions/:id, scoped to the caller.
func (h *Handler) GetTransaction(c *gin.Context) {
	txn, err := h.ledger.Get(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
		return
	}
	if err != nil {
		h.internalError(c, "get transaction", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": txn})
}

// ListTransactions serves GET /v1/transactions, newest first.
func (h *Handler) ListTransactions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txns, err := h.ledger.ListForUser(c.Request.Context(), c.GetString("user_id"), limit)
	if err != nil {
		h.internalError(c, "list transactions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txns})
}

// CancelTransaction serves POST /v1/transactions/:id/cancel.
func (h *Handler) CancelTransaction(c *gin.Context) {
	txn, err := h.ledger.Cancel(c.Request.Context(), c.Param("id"), c.GetString("user_id"))
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "transaction not found"})
	case errors.Is(err, ledger.ErrNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "transaction is no longer cancellable"})
	case err != nil:
		h.internalError(c, "cancel transaction", err)
	default:
		c.JSON(http.StatusOK, gin.H{"transaction": txn})
	}
}

// WalletBalance serves GET /v1/wallet/balance.
func (h *Handler) WalletBalance(c *gin.Context) {
	bal, err := h.wallets.Balance(c.Request.Context(), c.GetString("user_id"))
	if errors.Is(err, wallet.ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"balance": wallet.Balance{UserID: c.GetString("user_id")}})
		return
	}
	if err != nil {
		h.internalError(c, "wallet balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// RewardsBalance serves GET /v1/wallet/rewards.
func (h *Handler) RewardsBalance(c *gin.Context) {
	pts, err := h.rewards.Points(c.Request.Context(), c.GetString("user_id"))
	if err != nil {
		h.internalError(c, "rewards balance", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": pts})
}

type manualCreditRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	AmountMinor int64  `json:"amount_minor" binding:"required"`
	Reference   string `json:"reference" binding:"required"`
	Reason      string `json:"reason"`
}

// AdminManualCredit serves POST /v1/admin/wallets/manual-credit. The caller's
// reference doubles as the idempotency key, so a re-submitted form cannot
// credit twice.
func (h *Handler) AdminManualCredit(c *gin.Context) {
	var req manualCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id, amount_minor and reference are required"})
		return
	}
	if req.AmountMinor <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount_minor must be > 0"})
		return
	}

	ctx := c.Request.Context()
	entry, err := h.wallets.Credit(ctx, req.UserID, req.AmountMinor, "manual:"+req.Reference, req.Reference)
	if errors.Is(err, wallet.ErrInvalidArgument) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credit request"})
		return
	}
	if err != nil {
		h.internalError(c, "manual credit", err)
		return
	}

	if h.audits != nil {
		_ = h.audits.LogAdminCredit(ctx, c.GetString("user_id"), c.GetString("role"), req.UserID, req.Reason)
	}
	h.log.Info("manual credit",
		"admin_id", c.GetString("user_id"), "wallet_user_id", req.UserID,
		"amount_minor", req.AmountMinor, "reference", req.Reference)
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}

type reconcileRequest struct {
	BatchLimit int `json:"batch_limit"`
}

// AdminReconcile serves POST /v1/admin/reconcile: one synchronous sweep.
func (h *Handler) AdminReconcile(c *gin.Context) {
	var req reconcileRequest
	_ = c.ShouldBindJSON(&req)

	sum, err := h.sweeper.Sweep(c.Request.Context(), req.BatchLimit)
	if err != nil {
		h.internalError(c, "reconcile sweep", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": sum})
}

func (h *Handler) internalError(c *gin.Context, what string, err error) {
	h.log.Error(what, "request_id", logger.RequestID(c), "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":      "internal error",
		"request_id": logger.RequestID(c),
	})
}
