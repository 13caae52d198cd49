// internal/api/api.go
package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safarypto/safarypto/internal/db"
	"github.com/safarypto/safarypto/internal/ledger"
	"github.com/safarypto/safarypto/internal/logging"
	"github.com/safarypto/safarypto/internal/mpesa"
	"github.com/safarypto/safarypto/internal/wallet"
)

// Handler binds HTTP requests to the wallet and deposit services. Thin by
// design: bind, delegate, map errors. Authentication happens upstream; the
// caller identity arrives in the X-User-ID header.
type Handler struct {
	wallets  *wallet.Service
	deposits *mpesa.Service
}

func NewHandler(wallets *wallet.Service, deposits *mpesa.Service) *Handler {
	return &Handler{wallets: wallets, deposits: deposits}
}

func (h *Handler) Register(r *gin.Engine) {
	r.POST("/wallet", h.createWallet)
	r.GET("/wallet/balance", h.getBalance)
	r.POST("/wallet/transfer", h.transfer)
	r.POST("/wallet/swap", h.swap)
	r.POST("/mpesa/stkpush", h.stkPush)
	r.POST("/mpesa/b2c", h.b2cPayout)
	r.POST("/mpesa/callback", h.callback)
	r.POST("/mpesa/callback/b2c-result", h.b2cResult)
	r.POST("/mpesa/callback/b2c-timeout", h.b2cTimeout)
	r.GET("/transactions", h.history)
	r.GET("/transactions/:id", h.transactionStatus)
}

func (h *Handler) createWallet(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	w, err := h.wallets.CreateWallet(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"status": "success", "data": gin.H{
		"address":  w.Address,
		"currency": w.Currency,
	}})
}

func (h *Handler) getBalance(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	balance, err := h.wallets.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": balance})
}

func (h *Handler) transfer(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req struct {
		ToAddress string          `json:"toAddress" binding:"required"`
		Amount    decimal.Decimal `json:"amount" binding:"required"`
		Currency  db.Currency     `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	result, err := h.wallets.Transfer(c.Request.Context(), userID, req.ToAddress, req.Amount, req.Currency)
	if err != nil {
		// A submission timeout is not a failure: the transfer may still
		// mine, and the caller polls the reference instead of retrying.
		if errors.Is(err, wallet.ErrTransferPending) && result != nil {
			c.JSON(http.StatusAccepted, gin.H{"status": "pending", "message": "transfer submitted, confirmation pending", "data": result})
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": result})
}

func (h *Handler) swap(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req struct {
		Amount   decimal.Decimal `json:"amount" binding:"required"`
		Currency db.Currency     `json:"currency" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	result, err := h.wallets.Swap(c.Request.Context(), userID, req.Amount, req.Currency)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": result})
}

func (h *Handler) stkPush(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req struct {
		Phone  string          `json:"phone" binding:"required"`
		Amount decimal.Decimal `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	result, err := h.deposits.InitiateDeposit(c.Request.Context(), userID, req.Phone, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Payment initiated successfully", "data": result})
}

// b2cPayout sends mobile money out to a subscriber. Operator surface: the
// payout is initiated here and settled by the asynchronous result callback.
func (h *Handler) b2cPayout(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	var req struct {
		Phone   string          `json:"phone" binding:"required"`
		Amount  decimal.Decimal `json:"amount" binding:"required"`
		Remarks string          `json:"remarks"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	result, err := h.deposits.InitiatePayout(c.Request.Context(), userID, req.Phone, req.Amount, req.Remarks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "B2C payment initiated successfully", "data": result})
}

// callback receives the gateway's asynchronous payment result. Everything
// except a structurally broken payload is acknowledged with 200: the
// gateway retries on non-2xx and unmatched or duplicate callbacks must not
// feed that retry storm.
func (h *Handler) callback(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}

	result, err := h.deposits.HandleCallback(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, mpesa.ErrMalformedCallback) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid callback structure"})
			return
		}
		// Unknown checkout id or internal failure: acknowledged, recorded
		// for operational follow-up.
		logging.Error("callback processing failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Callback received"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Callback processed successfully", "data": result})
}

// b2cResult settles a payout; acknowledgement rules match callback.
func (h *Handler) b2cResult(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "unreadable body"})
		return
	}

	result, err := h.deposits.HandleB2CResult(c.Request.Context(), raw)
	if err != nil {
		if errors.Is(err, mpesa.ErrMalformedCallback) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid callback structure"})
			return
		}
		logging.Error("payout result processing failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Callback received"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Callback processed successfully", "data": result})
}

// b2cTimeout is the gateway's queue-timeout notification. The payout row
// stays pending for the QueryStatus fallback; the notification itself only
// needs an acknowledgement.
func (h *Handler) b2cTimeout(c *gin.Context) {
	raw, _ := io.ReadAll(c.Request.Body)
	logging.Warn("payout queue timeout notification", zap.Int("payloadBytes", len(raw)))
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Callback received"})
}

func (h *Handler) transactionStatus(c *gin.Context) {
	tx, err := h.wallets.TransactionStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": tx})
}

func (h *Handler) history(c *gin.Context) {
	userID, ok := h.userID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	txs, err := h.wallets.History(c.Request.Context(), userID, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": txs})
}

func (h *Handler) userID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "error", "message": "missing user identity"})
		return 0, false
	}
	return id, true
}

// fail maps service errors onto HTTP statuses. Validation and business-rule
// rejections carry their message; everything else is opaque with detail
// logged server side.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, wallet.ErrWalletNotFound), errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, wallet.ErrWalletExists), errors.Is(err, ledger.ErrDuplicateReference):
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds),
		errors.Is(err, wallet.ErrInsufficientDeposits),
		errors.Is(err, wallet.ErrWalletInactive),
		errors.Is(err, wallet.ErrValidation),
		errors.Is(err, mpesa.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	case errors.Is(err, mpesa.ErrGatewayRejected):
		logging.Error("gateway rejection", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"status": "error", "message": "payment gateway rejected the request"})
	default:
		logging.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "internal error"})
	}
}
