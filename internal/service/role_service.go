package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"merchantops/internal/apperror"
	"merchantops/internal/model"
	"merchantops/internal/permission"
	"merchantops/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Built-in role names
const (
	RoleOwner   = "owner"
	RoleFinance = "finance"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

// --- DTOs ---

type AssignMemberRequest struct {
	UserID      string `json:"user_id" binding:"required,uuid"`
	Role        string `json:"role" binding:"required"`
	DisplayName string `json:"display_name"`
}

type UpdateRolePermissionsRequest struct {
	PermissionCodes []string `json:"permission_codes" binding:"required"`
}

type RoleResponse struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description"`
	IsSystem    bool                 `json:"is_system"`
	Permissions []PermissionResponse `json:"permissions"`
	CreatedAt   string               `json:"created_at"`
}

type PermissionResponse struct {
	ID    string `json:"id"`
	Code  string `json:"code"`
	Name  string `json:"name"`
	Group string `json:"group"`
}

type MemberResponse struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
	JoinedAt    string `json:"joined_at"`
}

// CacheInvalidator drops cached permission sets. RoleGate implements it.
type CacheInvalidator interface {
	Invalidate(tenantID, actorID uuid.UUID)
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	ListPermissions(ctx context.Context) ([]PermissionResponse, error)
	UpdateRolePermissions(ctx context.Context, roleName string, req UpdateRolePermissionsRequest) (*RoleResponse, error)
	AssignMember(ctx context.Context, tenantID uuid.UUID, req AssignMemberRequest) (*MemberResponse, error)
	ListMembers(ctx context.Context, tenantID uuid.UUID) ([]MemberResponse, error)
	SeedDefaultRolesAndPermissions(ctx context.Context) error
}

type roleService struct {
	tx    repository.TransactionManager
	roles repository.RoleRepository
	cache CacheInvalidator
}

func NewRoleService(tx repository.TransactionManager, roles repository.RoleRepository, cache CacheInvalidator) RoleService {
	return &roleService{tx: tx, roles: roles, cache: cache}
}

// --- Implementation ---

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.roles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch roles: %w", err)
	}

	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) ListPermissions(ctx context.Context) ([]PermissionResponse, error) {
	perms, err := s.roles.ListPermissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch permissions: %w", err)
	}

	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, toPermissionResponse(p))
	}
	return res, nil
}

func (s *roleService) UpdateRolePermissions(ctx context.Context, roleName string, req UpdateRolePermissionsRequest) (*RoleResponse, error) {
	const op = "roles.update_permissions"

	var updated *model.Role
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		role, err := s.findRole(txCtx, op, roleName)
		if err != nil {
			return err
		}

		known := make(map[string]model.Permission)
		perms, err := s.roles.ListPermissions(txCtx)
		if err != nil {
			return fmt.Errorf("failed to fetch permissions: %w", err)
		}
		for _, p := range perms {
			known[p.Code] = p
		}

		ids := make([]uuid.UUID, 0, len(req.PermissionCodes))
		for _, code := range req.PermissionCodes {
			p, ok := known[code]
			if !ok {
				return apperror.New(apperror.ErrValidation, op, "unknown permission %q", code)
			}
			ids = append(ids, p.ID)
		}

		if err := s.roles.ReplacePermissions(txCtx, role.ID, ids); err != nil {
			return fmt.Errorf("failed to update role permissions: %w", err)
		}
		updated, err = s.roles.FindByName(txCtx, roleName)
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Invalidate(uuid.Nil, uuid.Nil)
	}
	resp := toRoleResponse(*updated)
	return &resp, nil
}

func (s *roleService) AssignMember(ctx context.Context, tenantID uuid.UUID, req AssignMemberRequest) (*MemberResponse, error) {
	const op = "roles.assign_member"

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return nil, apperror.Wrap(apperror.ErrValidation, op, err, "invalid user id")
	}
	role, err := s.findRole(ctx, op, req.Role)
	if err != nil {
		return nil, err
	}

	m := &model.Membership{
		TenantID:    tenantID,
		UserID:      userID,
		DisplayName: req.DisplayName,
		RoleID:      role.ID,
	}
	if err := s.roles.UpsertMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to assign member: %w", err)
	}
	if s.cache != nil {
		s.cache.Invalidate(tenantID, userID)
	}

	stored, err := s.roles.FindMembership(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload membership: %w", err)
	}
	resp := toMemberResponse(*stored)
	return &resp, nil
}

func (s *roleService) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]MemberResponse, error) {
	ms, err := s.roles.ListMemberships(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch members: %w", err)
	}

	res := make([]MemberResponse, 0, len(ms))
	for _, m := range ms {
		res = append(res, toMemberResponse(m))
	}
	return res, nil
}

// SeedDefaultRolesAndPermissions creates the capability catalogue and the
// built-in roles. It is idempotent and resets built-in role grants.
func (s *roleService) SeedDefaultRolesAndPermissions(ctx context.Context) error {
	defaultPermissions := []model.Permission{
		{Code: permission.ApprovalsRead, Name: "View approval requests", Group: "approvals"},
		{Code: permission.ApprovalsCreate, Name: "Request approval", Group: "approvals"},
		{Code: permission.ApprovalsDecide, Name: "Approve or reject requests", Group: "approvals"},
		{Code: permission.ApprovalsRetry, Name: "Retry execution of approved requests", Group: "approvals"},
		{Code: permission.RefundsApprove, Name: "Approve refunds", Group: "actions"},
		{Code: permission.CampaignsApprove, Name: "Approve campaign sends", Group: "actions"},
		{Code: permission.PoliciesApprove, Name: "Approve policy publication", Group: "actions"},
		{Code: permission.DeliveriesApprove, Name: "Approve delivery dispatch", Group: "actions"},
		{Code: permission.WalletRead, Name: "View wallet and ledger", Group: "wallet"},
		{Code: permission.WalletWithdraw, Name: "Withdraw funds", Group: "wallet"},
		{Code: permission.WalletManage, Name: "Manage wallet PIN and payouts", Group: "wallet"},
		{Code: permission.AuditRead, Name: "View audit trail", Group: "audit"},
		{Code: permission.RolesManage, Name: "Manage roles and members", Group: "roles"},
	}

	roleDefinitions := map[string]struct {
		Description string
		PermCodes   []string
	}{
		RoleOwner: {
			Description: "Owner: every capability",
			PermCodes:   permissionCodes(defaultPermissions),
		},
		RoleFinance: {
			Description: "Finance: refunds, wallet and payouts",
			PermCodes: []string{
				permission.ApprovalsRead, permission.ApprovalsCreate, permission.ApprovalsDecide, permission.ApprovalsRetry,
				permission.RefundsApprove,
				permission.WalletRead, permission.WalletWithdraw, permission.WalletManage,
				permission.AuditRead,
			},
		},
		RoleManager: {
			Description: "Manager: decides operational requests",
			PermCodes: []string{
				permission.ApprovalsRead, permission.ApprovalsCreate, permission.ApprovalsDecide, permission.ApprovalsRetry,
				permission.CampaignsApprove, permission.PoliciesApprove, permission.DeliveriesApprove,
				permission.WalletRead,
				permission.AuditRead,
			},
		},
		RoleStaff: {
			Description: "Staff: raises requests",
			PermCodes: []string{
				permission.ApprovalsRead, permission.ApprovalsCreate,
				permission.WalletRead,
			},
		},
	}

	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		permByCode := make(map[string]model.Permission, len(defaultPermissions))
		for i := range defaultPermissions {
			p := &defaultPermissions[i]
			if err := s.roles.FindOrCreatePermission(txCtx, p); err != nil {
				return fmt.Errorf("failed to seed permission '%s': %w", p.Code, err)
			}
			permByCode[p.Code] = *p
		}

		names := make([]string, 0, len(roleDefinitions))
		for name := range roleDefinitions {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, roleName := range names {
			def := roleDefinitions[roleName]
			role, err := s.roles.FindByName(txCtx, roleName)
			if errors.Is(err, gorm.ErrRecordNotFound) {
				role = &model.Role{Name: roleName, Description: def.Description, IsSystem: true}
				if err := s.roles.Create(txCtx, role); err != nil {
					return fmt.Errorf("failed to seed role '%s': %w", roleName, err)
				}
			} else if err != nil {
				return fmt.Errorf("failed to load role '%s': %w", roleName, err)
			}

			ids := make([]uuid.UUID, 0, len(def.PermCodes))
			for _, code := range def.PermCodes {
				if p, ok := permByCode[code]; ok {
					ids = append(ids, p.ID)
				}
			}
			if err := s.roles.ReplacePermissions(txCtx, role.ID, ids); err != nil {
				return fmt.Errorf("failed to assign permissions to role '%s': %w", roleName, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Invalidate(uuid.Nil, uuid.Nil)
	}
	return nil
}

func (s *roleService) findRole(ctx context.Context, op, name string) (*model.Role, error) {
	role, err := s.roles.FindByName(ctx, name)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.ErrNotFound, op, "role %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load role: %w", err)
	}
	return role, nil
}

// --- Helpers ---

func permissionCodes(perms []model.Permission) []string {
	codes := make([]string, 0, len(perms))
	for _, p := range perms {
		codes = append(codes, p.Code)
	}
	return codes
}

func toRoleResponse(r model.Role) RoleResponse {
	perms := make([]PermissionResponse, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		perms = append(perms, toPermissionResponse(p))
	}

	return RoleResponse{
		ID:          r.ID.String(),
		Name:        r.Name,
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: perms,
		CreatedAt:   r.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

func toPermissionResponse(p model.Permission) PermissionResponse {
	return PermissionResponse{
		ID:    p.ID.String(),
		Code:  p.Code,
		Name:  p.Name,
		Group: p.Group,
	}
}

func toMemberResponse(m model.Membership) MemberResponse {
	return MemberResponse{
		UserID:      m.UserID.String(),
		DisplayName: m.DisplayName,
		Role:        m.Role.Name,
		JoinedAt:    m.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}
