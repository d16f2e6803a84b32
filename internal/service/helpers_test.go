package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"merchantops/internal/events"
	"merchantops/internal/model"
	"merchantops/internal/permission"
	"merchantops/internal/repository"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	tx       repository.TransactionManager
	repos    repos
	gate     permission.StaticGate
	recorder *events.Recorder
	registry *ActionRegistry
	ledger   LedgerService
	engine   *ExecutionEngine
	approval ApprovalService

	tenantID  uuid.UUID
	requester Actor
	manager   Actor
	finance   Actor
}

type repos struct {
	approvals   repository.ApprovalRepository
	execLogs    repository.ExecutionLogRepository
	wallets     repository.WalletRepository
	ledger      repository.LedgerRepository
	orders      repository.OrderRepository
	outbox      repository.OutboxRepository
	withdrawals repository.WithdrawalRepository
	audit       repository.AuditRepository
	roles       repository.RoleRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	f := &fixture{
		db:       db,
		tx:       repository.NewTransactionManager(db),
		gate:     permission.StaticGate{},
		recorder: &events.Recorder{},
		registry: NewActionRegistry(),
		tenantID: uuid.New(),
		repos: repos{
			approvals:   repository.NewApprovalRepository(db),
			execLogs:    repository.NewExecutionLogRepository(db),
			wallets:     repository.NewWalletRepository(db),
			ledger:      repository.NewLedgerRepository(db),
			orders:      repository.NewOrderRepository(db),
			outbox:      repository.NewOutboxRepository(db),
			withdrawals: repository.NewWithdrawalRepository(db),
			audit:       repository.NewAuditRepository(db),
			roles:       repository.NewRoleRepository(db),
		},
	}

	f.requester = Actor{ID: uuid.New(), Label: "Ada (staff)"}
	f.manager = Actor{ID: uuid.New(), Label: "Bola (manager)"}
	f.finance = Actor{ID: uuid.New(), Label: "Chidi (finance)"}
	f.gate.Grant(f.tenantID, f.requester.ID, permission.ApprovalsCreate)
	f.gate.Grant(f.tenantID, f.manager.ID, permission.ApprovalsDecide, permission.CampaignsApprove, permission.PoliciesApprove)
	f.gate.Grant(f.tenantID, f.finance.ID, permission.ApprovalsDecide, permission.RefundsApprove)

	log := zerolog.Nop()
	f.ledger = NewLedgerService(f.tx, f.repos.wallets, f.repos.ledger, f.repos.orders, f.recorder, "NGN", log)
	RegisterDefaultActions(f.registry, f.ledger, f.repos.outbox)
	f.engine = NewExecutionEngine(f.tx, f.repos.approvals, f.repos.execLogs, f.registry, f.recorder, log)
	f.approval = NewApprovalService(f.repos.approvals, f.repos.execLogs, f.registry, f.gate, f.recorder, f.engine, log)
	return f
}

// approvedRequest inserts an already approved request, bypassing the decision flow.
func (f *fixture) approvedRequest(t *testing.T, actionType string, payload interface{}) *model.ApprovalRequest {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	decidedBy := f.finance.ID
	now := time.Now().UTC()
	req := &model.ApprovalRequest{
		TenantID:         f.tenantID,
		CorrelationID:    uuid.NewString(),
		ActionType:       actionType,
		EntityType:       "test",
		EntityID:         uuid.NewString(),
		Payload:          string(raw),
		RequestedBy:      f.requester.ID,
		RequestedByLabel: f.requester.Label,
		Status:           model.ApprovalApproved,
		DecidedBy:        &decidedBy,
		DecidedByLabel:   f.finance.Label,
		DecidedAt:        &now,
	}
	require.NoError(t, f.repos.approvals.Create(context.Background(), req))
	return req
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *model.ApprovalRequest {
	t.Helper()
	req, err := f.repos.approvals.FindByID(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (f *fixture) logStatuses(t *testing.T, id uuid.UUID) []string {
	t.Helper()
	logs, err := f.repos.execLogs.ListByRequest(context.Background(), id)
	require.NoError(t, err)
	out := make([]string, 0, len(logs))
	for _, l := range logs {
		out = append(out, l.Status)
	}
	return out
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
