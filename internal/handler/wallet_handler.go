package handler

import (
	"net/http"

	"merchantops/internal/middleware"
	"merchantops/internal/permission"
	"merchantops/internal/service"
	"merchantops/pkg/pagination"
	"merchantops/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type WalletHandler struct {
	ledgerService     service.LedgerService
	withdrawalService service.WithdrawalService
	gate              permission.Gate
	log               zerolog.Logger
}

func NewWalletHandler(ledgerService service.LedgerService, withdrawalService service.WithdrawalService, gate permission.Gate, log zerolog.Logger) *WalletHandler {
	return &WalletHandler{
		ledgerService:     ledgerService,
		withdrawalService: withdrawalService,
		gate:              gate,
		log:               log,
	}
}

func (h *WalletHandler) RegisterRoutes(router *gin.RouterGroup) {
	wallet := router.Group("/api/wallet")
	{
		wallet.GET("", middleware.RequireCapability(h.gate, permission.WalletRead), h.GetSummary)
		wallet.GET("/ledger", middleware.RequireCapability(h.gate, permission.WalletRead), h.GetLedger)
		wallet.GET("/reconcile", middleware.RequireCapability(h.gate, permission.WalletManage), h.Reconcile)
		wallet.PUT("/pin", middleware.RequireCapability(h.gate, permission.WalletManage), h.SetPin)

		wallet.GET("/withdrawals", middleware.RequireCapability(h.gate, permission.WalletRead), h.ListWithdrawals)
		wallet.POST("/withdrawals", middleware.RequireCapability(h.gate, permission.WalletWithdraw), h.InitiateWithdrawal)
		wallet.POST("/withdrawals/:id/confirm", middleware.RequireCapability(h.gate, permission.WalletWithdraw), h.ConfirmWithdrawal)
		wallet.POST("/withdrawals/:id/outcome", middleware.RequireCapability(h.gate, permission.WalletManage), h.RecordPayoutOutcome)
	}
}

// GetSummary returns the wallet balance
// @Summary      Wallet summary
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.WalletSummaryResponse}
// @Router       /api/wallet [get]
func (h *WalletHandler) GetSummary(c *gin.Context) {
	summary, err := h.ledgerService.Summary(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, summary))
}

// GetLedger returns recent ledger entries, newest first
// @Summary      Ledger history
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        limit  query     int  false  "Number of entries (default 50, max 200)"
// @Success      200    {object}  response.Response{data=[]service.LedgerEntryResponse}
// @Router       /api/wallet/ledger [get]
func (h *WalletHandler) GetLedger(c *gin.Context) {
	entries, err := h.ledgerService.History(c.Request.Context(), middleware.TenantID(c), pagination.ParseLimit(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, entries))
}

// Reconcile compares the wallet balance with the ledger
// @Summary      Reconcile wallet
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.ReconcileResult}
// @Router       /api/wallet/reconcile [get]
func (h *WalletHandler) Reconcile(c *gin.Context) {
	res, err := h.ledgerService.Reconcile(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, res))
}

// SetPin sets or replaces the transaction PIN
// @Summary      Set transaction PIN
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.SetPinDTO  true  "4 to 6 digit PIN"
// @Success      200      {object}  response.Response
// @Router       /api/wallet/pin [put]
func (h *WalletHandler) SetPin(c *gin.Context) {
	var req service.SetPinDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.withdrawalService.SetPin(c.Request.Context(), middleware.TenantID(c), req.Pin); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"pin_set": true}))
}

// ListWithdrawals returns the tenant's withdrawals
// @Summary      List withdrawals
// @Tags         wallet
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Items per page (default 20)"
// @Success      200    {object}  response.PageResponse{data=[]service.WithdrawalResponse}
// @Router       /api/wallet/withdrawals [get]
func (h *WalletHandler) ListWithdrawals(c *gin.Context) {
	p := pagination.Parse(c)
	items, total, err := h.withdrawalService.List(c.Request.Context(), middleware.TenantID(c), p.Page, p.Limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Page(http.StatusOK, items, total, p.Page, p.Limit))
}

// InitiateWithdrawal verifies the PIN and sends an OTP
// @Summary      Initiate withdrawal
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.InitiateWithdrawalDTO  true  "Withdrawal"
// @Success      201      {object}  response.Response{data=service.WithdrawalResponse}
// @Failure      400      {object}  response.Response
// @Failure      423      {object}  response.Response
// @Router       /api/wallet/withdrawals [post]
func (h *WalletHandler) InitiateWithdrawal(c *gin.Context) {
	var req service.InitiateWithdrawalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.withdrawalService.Initiate(c.Request.Context(), middleware.TenantID(c), actorFrom(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, w))
}

// ConfirmWithdrawal checks the OTP and debits the wallet
// @Summary      Confirm withdrawal
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                        true  "Withdrawal ID"
// @Param        request  body      service.ConfirmWithdrawalDTO  true  "OTP"
// @Success      200      {object}  response.Response{data=service.WithdrawalResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/wallet/withdrawals/{id}/confirm [post]
func (h *WalletHandler) ConfirmWithdrawal(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req service.ConfirmWithdrawalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	w, err := h.withdrawalService.Confirm(c.Request.Context(), middleware.TenantID(c), id, actorFrom(c), req.OTP)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}

// RecordPayoutOutcome records the payout provider's result for a PROCESSING withdrawal
// @Summary      Record payout outcome
// @Tags         wallet
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                         true  "Withdrawal ID"
// @Param        request  body      service.CompleteWithdrawalDTO  true  "Outcome"
// @Success      200      {object}  response.Response{data=service.WithdrawalResponse}
// @Failure      409      {object}  response.Response
// @Router       /api/wallet/withdrawals/{id}/outcome [post]
func (h *WalletHandler) RecordPayoutOutcome(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req service.CompleteWithdrawalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var (
		w   service.WithdrawalResponse
		err error
	)
	if req.Success {
		w, err = h.withdrawalService.MarkCompleted(c.Request.Context(), middleware.TenantID(c), id, req.ProviderRef)
	} else {
		w, err = h.withdrawalService.MarkFailed(c.Request.Context(), middleware.TenantID(c), id, req.Reason)
	}
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, w))
}
