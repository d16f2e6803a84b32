// Package permission holds the capability codes and the Gate that answers
// whether an actor holds one inside a tenant.
package permission

import (
	"context"

	"github.com/google/uuid"
)

// Capability codes checked by the approval flow
const (
	ApprovalsCreate = "approvals.create"
	ApprovalsDecide = "approvals.decide"
	ApprovalsRead   = "approvals.read"
	ApprovalsRetry  = "approvals.execute"

	RefundsApprove    = "refunds.approve"
	CampaignsApprove  = "campaigns.approve"
	PoliciesApprove   = "policies.approve"
	DeliveriesApprove = "deliveries.approve"

	WalletRead     = "wallet.read"
	WalletWithdraw = "wallet.withdraw"
	WalletManage   = "wallet.manage"

	AuditRead   = "audit.read"
	RolesManage = "roles.manage"
)

// Gate answers capability questions. A false answer must always surface as Forbidden.
type Gate interface {
	HasPermission(ctx context.Context, actorID, tenantID uuid.UUID, capability string) (bool, error)
	IsMember(ctx context.Context, actorID, tenantID uuid.UUID) (bool, error)
}

// StaticGate is an in-memory Gate keyed by tenant and actor, used by tests and tooling.
type StaticGate map[uuid.UUID]map[uuid.UUID][]string

// Grant adds capabilities to actor in tenant, creating the membership if needed.
func (g StaticGate) Grant(tenantID, actorID uuid.UUID, capabilities ...string) {
	members, ok := g[tenantID]
	if !ok {
		members = make(map[uuid.UUID][]string)
		g[tenantID] = members
	}
	members[actorID] = append(members[actorID], capabilities...)
}

func (g StaticGate) HasPermission(_ context.Context, actorID, tenantID uuid.UUID, capability string) (bool, error) {
	for _, c := range g[tenantID][actorID] {
		if c == capability {
			return true, nil
		}
	}
	return false, nil
}

func (g StaticGate) IsMember(_ context.Context, actorID, tenantID uuid.UUID) (bool, error) {
	_, ok := g[tenantID][actorID]
	return ok, nil
}
