package handler

import (
	"net/http"

	"merchantops/internal/middleware"
	"merchantops/internal/permission"
	"merchantops/internal/service"
	"merchantops/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RoleHandler exposes the role catalogue and the tenant's memberships. Role
// grants are global and edited through opsctl, not over HTTP.
type RoleHandler struct {
	roleService service.RoleService
	gate        permission.Gate
	log         zerolog.Logger
}

func NewRoleHandler(roleService service.RoleService, gate permission.Gate, log zerolog.Logger) *RoleHandler {
	return &RoleHandler{roleService: roleService, gate: gate, log: log}
}

func (h *RoleHandler) RegisterRoutes(router *gin.RouterGroup) {
	manage := middleware.RequireCapability(h.gate, permission.RolesManage)

	router.GET("/api/roles", manage, h.ListRoles)
	router.GET("/api/permissions", manage, h.ListPermissions)

	members := router.Group("/api/members")
	members.Use(manage)
	{
		members.GET("", h.ListMembers)
		members.PUT("", h.AssignMember)
	}
}

// ListRoles returns all roles with their permissions
// @Summary      List roles
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.RoleResponse}
// @Router       /api/roles [get]
func (h *RoleHandler) ListRoles(c *gin.Context) {
	roles, err := h.roleService.ListRoles(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, roles))
}

// ListPermissions returns the capability catalogue
// @Summary      List permissions
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.PermissionResponse}
// @Router       /api/permissions [get]
func (h *RoleHandler) ListPermissions(c *gin.Context) {
	perms, err := h.roleService.ListPermissions(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, perms))
}

// ListMembers returns the tenant's members and their roles
// @Summary      List members
// @Tags         roles
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.MemberResponse}
// @Router       /api/members [get]
func (h *RoleHandler) ListMembers(c *gin.Context) {
	members, err := h.roleService.ListMembers(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, members))
}

// AssignMember adds a user to the tenant or changes their role
// @Summary      Assign member role
// @Tags         roles
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      service.AssignMemberRequest  true  "Member and role"
// @Success      200      {object}  response.Response{data=service.MemberResponse}
// @Failure      404      {object}  response.Response
// @Router       /api/members [put]
func (h *RoleHandler) AssignMember(c *gin.Context) {
	var req service.AssignMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	member, err := h.roleService.AssignMember(c.Request.Context(), middleware.TenantID(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, member))
}
