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

type AuditHandler struct {
	auditService service.AuditService
	gate         permission.Gate
	log          zerolog.Logger
}

func NewAuditHandler(auditService service.AuditService, gate permission.Gate, log zerolog.Logger) *AuditHandler {
	return &AuditHandler{auditService: auditService, gate: gate, log: log}
}

func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/audit-logs")
	group.Use(middleware.RequireCapability(h.gate, permission.AuditRead))
	{
		group.GET("", h.GetAuditLogs)
		group.GET("/trail/:correlationId", h.GetTrail)
	}
}

// GetAuditLogs returns the tenant's audit log, newest first
// @Summary      Get audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page   query     int  false  "Page number (default 1)"
// @Param        limit  query     int  false  "Number of items per page (default 20)"
// @Success      200    {object}  response.PageResponse{data=[]service.AuditLogResponse}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	p := pagination.Parse(c)
	logs, total, err := h.auditService.GetAuditLogs(c.Request.Context(), middleware.TenantID(c), p.Page, p.Limit)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Page(http.StatusOK, logs, total, p.Page, p.Limit))
}

// GetTrail returns every audit entry of one approval lifecycle, oldest first
// @Summary      Get audit trail
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        correlationId  path      string  true  "Correlation ID"
// @Success      200            {object}  response.Response{data=[]service.AuditLogResponse}
// @Router       /api/audit-logs/trail/{correlationId} [get]
func (h *AuditHandler) GetTrail(c *gin.Context) {
	trail, err := h.auditService.GetTrail(c.Request.Context(), middleware.TenantID(c), c.Param("correlationId"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, trail))
}
