package service

import (
	"context"
	"testing"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/model"
	"merchantops/internal/permission"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleService_SeedIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewRoleService(f.tx, f.repos.roles, nil)

	require.NoError(t, svc.SeedDefaultRolesAndPermissions(ctx))
	require.NoError(t, svc.SeedDefaultRolesAndPermissions(ctx))

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 4)

	perms, err := svc.ListPermissions(ctx)
	require.NoError(t, err)
	assert.Len(t, perms, 13)
	assert.Equal(t, int64(13), testutil.Count(t, f.db, &model.Permission{}, ""))

	for _, r := range roles {
		if r.Name == RoleOwner {
			assert.Len(t, r.Permissions, 13)
		}
	}
}

func TestRoleService_MembershipDrivesRoleGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gate := permission.NewRoleGate(f.repos.roles, time.Hour)
	svc := NewRoleService(f.tx, f.repos.roles, gate)
	require.NoError(t, svc.SeedDefaultRolesAndPermissions(ctx))

	tenant := uuid.New()
	finance, manager := uuid.New(), uuid.New()

	_, err := svc.AssignMember(ctx, tenant, AssignMemberRequest{UserID: finance.String(), Role: RoleFinance, DisplayName: "Chidi"})
	require.NoError(t, err)
	m, err := svc.AssignMember(ctx, tenant, AssignMemberRequest{UserID: manager.String(), Role: RoleManager, DisplayName: "Bola"})
	require.NoError(t, err)
	assert.Equal(t, RoleManager, m.Role)

	ok, err := gate.HasPermission(ctx, finance, tenant, permission.RefundsApprove)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = gate.HasPermission(ctx, manager, tenant, permission.RefundsApprove)
	require.NoError(t, err)
	assert.False(t, ok)

	member, err := gate.IsMember(ctx, uuid.New(), tenant)
	require.NoError(t, err)
	assert.False(t, member)
	member, err = gate.IsMember(ctx, finance, uuid.New())
	require.NoError(t, err)
	assert.False(t, member)

	// promotion is visible immediately despite the cache
	_, err = svc.AssignMember(ctx, tenant, AssignMemberRequest{UserID: manager.String(), Role: RoleOwner, DisplayName: "Bola"})
	require.NoError(t, err)
	ok, err = gate.HasPermission(ctx, manager, tenant, permission.RefundsApprove)
	require.NoError(t, err)
	assert.True(t, ok)

	members, err := svc.ListMembers(ctx, tenant)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	// revoking a grant from a role invalidates every cached membership
	_, err = svc.UpdateRolePermissions(ctx, RoleFinance, UpdateRolePermissionsRequest{
		PermissionCodes: []string{permission.ApprovalsRead, permission.WalletRead},
	})
	require.NoError(t, err)
	ok, err = gate.HasPermission(ctx, finance, tenant, permission.RefundsApprove)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleService_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewRoleService(f.tx, f.repos.roles, nil)
	require.NoError(t, svc.SeedDefaultRolesAndPermissions(ctx))

	_, err := svc.AssignMember(ctx, uuid.New(), AssignMemberRequest{UserID: uuid.NewString(), Role: "auditor"})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	_, err = svc.AssignMember(ctx, uuid.New(), AssignMemberRequest{UserID: "not-a-uuid", Role: RoleStaff})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = svc.UpdateRolePermissions(ctx, RoleStaff, UpdateRolePermissionsRequest{PermissionCodes: []string{"payouts.everything"}})
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestApprovalFlow_WithRoleGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gate := permission.NewRoleGate(f.repos.roles, time.Minute)
	roles := NewRoleService(f.tx, f.repos.roles, gate)
	require.NoError(t, roles.SeedDefaultRolesAndPermissions(ctx))

	for actor, role := range map[uuid.UUID]string{
		f.requester.ID: RoleStaff,
		f.manager.ID:   RoleManager,
		f.finance.ID:   RoleFinance,
	} {
		_, err := roles.AssignMember(ctx, f.tenantID, AssignMemberRequest{UserID: actor.String(), Role: role})
		require.NoError(t, err)
	}

	testutil.CreateWallet(t, f.db, f.tenantID, 15000)
	order := testutil.CreateOrder(t, f.db, f.tenantID, 15000)
	svc := NewApprovalService(f.repos.approvals, f.repos.execLogs, f.registry, gate, f.recorder, f.engine, zerolog.Nop())

	created, err := svc.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionRefundIssue,
		EntityType: "order",
		EntityID:   order.ID.String(),
		Payload:    mustJSON(t, RefundPayload{Amount: 15000}),
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	_, err = svc.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: OutcomeApprove})
	require.ErrorIs(t, err, apperror.ErrForbidden)

	resp, err := svc.Decide(ctx, f.tenantID, id, f.finance, DecideApprovalDTO{Outcome: OutcomeApprove})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSucceeded, resp.ExecutionStatus)
	assert.Equal(t, int64(0), testutil.Balance(t, f.db, f.tenantID))
}
