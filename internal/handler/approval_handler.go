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

type ApprovalHandler struct {
	approvalService service.ApprovalService
	executor        service.Executor
	reconciler      *service.Reconciler
	gate            permission.Gate
	log             zerolog.Logger
}

func NewApprovalHandler(
	approvalService service.ApprovalService,
	executor service.Executor,
	reconciler *service.Reconciler,
	gate permission.Gate,
	log zerolog.Logger,
) *ApprovalHandler {
	return &ApprovalHandler{
		approvalService: approvalService,
		executor:        executor,
		reconciler:      reconciler,
		gate:            gate,
		log:             log,
	}
}

func (h *ApprovalHandler) RegisterRoutes(router *gin.RouterGroup) {
	approvals := router.Group("/api/approvals")
	{
		approvals.POST("", middleware.RequireCapability(h.gate, permission.ApprovalsCreate), h.CreateApprovalRequest)
		approvals.GET("", middleware.RequireCapability(h.gate, permission.ApprovalsRead), h.ListApprovalRequests)
		approvals.GET("/:id", middleware.RequireCapability(h.gate, permission.ApprovalsRead), h.GetApprovalRequest)
		// action-specific capabilities are checked by the service
		approvals.POST("/:id/decision", middleware.RequireCapability(h.gate, permission.ApprovalsDecide), h.DecideApprovalRequest)
		approvals.POST("/:id/execute", middleware.RequireCapability(h.gate, permission.ApprovalsRetry), h.ExecuteApprovalRequest)
		approvals.POST("/:id/release", middleware.RequireCapability(h.gate, permission.ApprovalsRetry), h.ReleaseExecution)
	}
}

// CreateApprovalRequest proposes a sensitive action for review
// @Summary      Create approval request
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.CreateApprovalDTO  true  "Action to approve"
// @Success      201      {object}  response.Response{data=service.ApprovalResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Router       /api/approvals [post]
func (h *ApprovalHandler) CreateApprovalRequest(c *gin.Context) {
	var req service.CreateApprovalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	approval, err := h.approvalService.Create(c.Request.Context(), middleware.TenantID(c), actorFrom(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, approval))
}

// ListApprovalRequests returns the tenant's approval requests
// @Summary      List approval requests
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        status            query  string  false  "PENDING, APPROVED or REJECTED"
// @Param        execution_status  query  string  false  "NOT_STARTED, RUNNING, SUCCEEDED or FAILED"
// @Param        action_type       query  string  false  "Action type"
// @Param        page              query  int     false  "Page number (default 1)"
// @Param        limit             query  int     false  "Items per page (default 20)"
// @Success      200  {object}  response.PageResponse{data=[]service.ApprovalResponse}
// @Router       /api/approvals [get]
func (h *ApprovalHandler) ListApprovalRequests(c *gin.Context) {
	p := pagination.Parse(c)
	approvals, total, err := h.approvalService.List(c.Request.Context(), middleware.TenantID(c), service.ListApprovalsFilter{
		Status:          c.Query("status"),
		ExecutionStatus: c.Query("execution_status"),
		ActionType:      c.Query("action_type"),
		Page:            p.Page,
		Limit:           p.Limit,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Page(http.StatusOK, approvals, total, p.Page, p.Limit))
}

// GetApprovalRequest returns one request with its execution history
// @Summary      Get approval request
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval request ID"
// @Success      200  {object}  response.Response{data=service.ApprovalDetailResponse}
// @Failure      404  {object}  response.Response
// @Router       /api/approvals/{id} [get]
func (h *ApprovalHandler) GetApprovalRequest(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	detail, err := h.approvalService.Get(c.Request.Context(), middleware.TenantID(c), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}

// DecideApprovalRequest approves or rejects a pending request. Approval runs
// the action; an execution failure leaves the request APPROVED for retry.
// @Summary      Decide approval request
// @Tags         approvals
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      string                     true  "Approval request ID"
// @Param        request  body      service.DecideApprovalDTO  true  "Decision"
// @Success      200      {object}  response.Response{data=service.ApprovalResponse}
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/approvals/{id}/decision [post]
func (h *ApprovalHandler) DecideApprovalRequest(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	var req service.DecideApprovalDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	approval, err := h.approvalService.Decide(c.Request.Context(), middleware.TenantID(c), id, actorFrom(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, approval))
}

// ExecuteApprovalRequest runs (or replays) an approved request
// @Summary      Execute approved request
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval request ID"
// @Success      200  {object}  response.Response{data=service.ExecutionResult}
// @Failure      409  {object}  response.Response
// @Failure      502  {object}  response.Response
// @Router       /api/approvals/{id}/execute [post]
func (h *ApprovalHandler) ExecuteApprovalRequest(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	result, err := h.executor.Execute(c.Request.Context(), service.ExecuteInput{
		RequestID: id,
		TenantID:  middleware.TenantID(c),
		Actor:     actorFrom(c),
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// ReleaseExecution closes a stuck RUNNING attempt so the request can be retried
// @Summary      Release stuck execution
// @Tags         approvals
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      string  true  "Approval request ID"
// @Success      200  {object}  response.Response{data=service.ApprovalDetailResponse}
// @Failure      409  {object}  response.Response
// @Router       /api/approvals/{id}/release [post]
func (h *ApprovalHandler) ReleaseExecution(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	tenantID := middleware.TenantID(c)

	// tenant ownership is checked before releasing
	if _, err := h.approvalService.Get(c.Request.Context(), tenantID, id); err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.reconciler.Release(c.Request.Context(), id, actorFrom(c)); err != nil {
		respondError(c, h.log, err)
		return
	}

	detail, err := h.approvalService.Get(c.Request.Context(), tenantID, id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, detail))
}
