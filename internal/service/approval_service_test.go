package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/model"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApprovalCreate_PendingWithCorrelation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionCampaignSend,
		EntityType: "campaign",
		EntityID:   "cmp-42",
		Payload:    mustJSON(t, map[string]string{"campaign_id": "cmp-42"}),
		Reason:     "black friday blast",
	})
	require.NoError(t, err)

	assert.Equal(t, model.ApprovalPending, resp.Status)
	assert.Equal(t, model.ExecutionNotStarted, resp.ExecutionStatus)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Nil(t, resp.DecidedBy)
	assert.Nil(t, resp.DecidedAt)
	assert.Equal(t, f.requester.Label, resp.RequestedByLabel)

	requested := f.recorder.OfType(events.ApprovalRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, resp.CorrelationID, requested[0].CorrelationID)
	assert.Equal(t, f.tenantID, requested[0].TenantID)
}

func TestApprovalCreate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.approval.Create(ctx, f.tenantID, Actor{ID: uuid.New(), Label: "stranger"}, CreateApprovalDTO{
		ActionType: model.ActionCampaignSend, EntityType: "campaign", EntityID: "c1",
	})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: "payouts.everything", EntityType: "x", EntityID: "1",
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	_, err = f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionCampaignSend, EntityType: "campaign", EntityID: "c1",
		Payload: []byte(`{not json`),
	})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Empty(t, f.recorder.Events())
}

func TestApprovalDecide_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionCampaignSend, EntityType: "campaign", EntityID: "c1",
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	resp, err := f.approval.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: OutcomeReject, Reason: "wrong audience"})
	require.NoError(t, err)

	assert.Equal(t, model.ApprovalRejected, resp.Status)
	require.NotNil(t, resp.DecidedBy)
	assert.Equal(t, f.manager.ID.String(), *resp.DecidedBy)
	assert.NotNil(t, resp.DecidedAt)
	assert.Equal(t, "wrong audience", resp.DecisionReason)
	assert.Equal(t, model.ExecutionNotStarted, resp.ExecutionStatus)

	rejected := f.recorder.OfType(events.ApprovalRejected)
	require.Len(t, rejected, 1)
	assert.Equal(t, created.CorrelationID, rejected[0].CorrelationID)

	_, err = f.approval.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: OutcomeApprove})
	assert.ErrorIs(t, err, apperror.ErrConflict)
	assert.Equal(t, model.ApprovalRejected, f.reload(t, id).Status)
}

func TestApprovalDecide_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.approval.Decide(ctx, f.tenantID, uuid.New(), f.manager, DecideApprovalDTO{Outcome: OutcomeApprove})
	assert.ErrorIs(t, err, apperror.ErrNotFound)

	created, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionCampaignSend, EntityType: "campaign", EntityID: "c1",
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	_, err = f.approval.Decide(ctx, uuid.New(), id, f.manager, DecideApprovalDTO{Outcome: OutcomeApprove})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	// requester lacks approvals.decide
	_, err = f.approval.Decide(ctx, f.tenantID, id, f.requester, DecideApprovalDTO{Outcome: OutcomeReject})
	assert.ErrorIs(t, err, apperror.ErrForbidden)

	_, err = f.approval.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: "maybe"})
	assert.ErrorIs(t, err, apperror.ErrValidation)

	assert.Equal(t, model.ApprovalPending, f.reload(t, id).Status)
}

func TestApprovalDecide_DualPermissionRefund(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := testutil.CreateOrder(t, f.db, f.tenantID, 15000)

	created, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionRefundIssue,
		EntityType: "order",
		EntityID:   order.ID.String(),
		Payload:    mustJSON(t, RefundPayload{OrderID: order.ID.String(), Amount: 15000}),
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	// manager can decide but is not allowed to approve refunds
	_, err = f.approval.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: OutcomeApprove})
	require.ErrorIs(t, err, apperror.ErrForbidden)

	req := f.reload(t, id)
	assert.Equal(t, model.ApprovalPending, req.Status)
	assert.Nil(t, req.DecidedBy)
	assert.Nil(t, req.DecidedAt)
	assert.Empty(t, f.recorder.OfType(events.ApprovalApproved))

	// ...but may still reject it
	resp, err := f.approval.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: OutcomeReject})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalRejected, resp.Status)
}

func TestApprovalDecide_ConcurrentApproveReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	svc := NewApprovalService(f.repos.approvals, f.repos.execLogs, f.registry, f.gate, f.recorder, nil, zerolog.Nop())

	const n = 50
	ids := make([]uuid.UUID, n)
	for i := range ids {
		created, err := svc.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
			ActionType: model.ActionCampaignSend, EntityType: "campaign", EntityID: uuid.NewString(),
		})
		require.NoError(t, err)
		ids[i] = uuid.MustParse(created.ID)
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)
	for _, id := range ids {
		for _, outcome := range []string{OutcomeApprove, OutcomeReject} {
			wg.Add(1)
			go func(id uuid.UUID, outcome string) {
				defer wg.Done()
				_, err := svc.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: outcome})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					successes++
				case errors.Is(err, apperror.ErrConflict):
					conflicts++
				default:
					other = append(other, err)
				}
			}(id, outcome)
		}
	}
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, n, successes)
	assert.Equal(t, n, conflicts)

	decided := len(f.recorder.OfType(events.ApprovalApproved)) + len(f.recorder.OfType(events.ApprovalRejected))
	assert.Equal(t, n, decided)
	assert.Zero(t, testutil.Count(t, f.db, &model.ApprovalRequest{}, "status = ?", model.ApprovalPending))
}

func TestApprovalDecide_ApproveRefundExecutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 15000)
	order := testutil.CreateOrder(t, f.db, f.tenantID, 15000)

	created, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionRefundIssue,
		EntityType: "order",
		EntityID:   order.ID.String(),
		Payload:    mustJSON(t, RefundPayload{OrderID: order.ID.String(), Amount: 15000}),
		Reason:     "customer returned items",
	})
	require.NoError(t, err)

	resp, err := f.approval.Decide(ctx, f.tenantID, uuid.MustParse(created.ID), f.finance, DecideApprovalDTO{Outcome: OutcomeApprove})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resp.Status)
	assert.Equal(t, model.ExecutionSucceeded, resp.ExecutionStatus)

	updated, err := f.repos.orders.FindByIDWithEvents(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusRefunded, updated.Status)
	assert.Equal(t, int64(15000), updated.RefundedAmount)
	require.Len(t, updated.Events, 1)
	assert.Equal(t, model.OrderEventRefundIssued, updated.Events[0].Type)

	assert.Equal(t, int64(0), testutil.Balance(t, f.db, f.tenantID))
	refunds, err := f.repos.ledger.ListByReference(ctx, model.RefTypeRefund, order.ID.String())
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, model.DirectionDebit, refunds[0].Direction)
	assert.Equal(t, int64(15000), refunds[0].Amount)

	var types []string
	for _, e := range f.recorder.Events() {
		types = append(types, e.Type)
		assert.Equal(t, created.CorrelationID, e.CorrelationID, e.Type)
	}
	assert.Equal(t, []string{events.ApprovalRequested, events.ApprovalApproved, events.ApprovalExecuted}, types)
}

func TestApprovalDecide_ExecutionFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testutil.CreateWallet(t, f.db, f.tenantID, 5000)
	order := testutil.CreateOrder(t, f.db, f.tenantID, 15000)

	created, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionRefundIssue,
		EntityType: "order",
		EntityID:   order.ID.String(),
		Payload:    mustJSON(t, RefundPayload{OrderID: order.ID.String(), Amount: 15000}),
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	resp, err := f.approval.Decide(ctx, f.tenantID, id, f.finance, DecideApprovalDTO{Outcome: OutcomeApprove})
	require.NoError(t, err)
	assert.Equal(t, model.ApprovalApproved, resp.Status)
	assert.Equal(t, model.ExecutionFailed, resp.ExecutionStatus)

	// no partial effects
	unchanged, err := f.repos.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, unchanged.Status)
	assert.Equal(t, int64(0), unchanged.RefundedAmount)
	assert.Equal(t, int64(5000), testutil.Balance(t, f.db, f.tenantID))
	assert.Zero(t, testutil.Count(t, f.db, &model.LedgerEntry{}, "reference_type = ?", model.RefTypeRefund))
	assert.Zero(t, testutil.Count(t, f.db, &model.OrderEvent{}, "order_id = ?", order.ID))

	assert.Equal(t, []string{model.ExecLogRunning, model.ExecLogFailed}, f.logStatuses(t, id))
	failed := f.recorder.OfType(events.ApprovalFailed)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Payload["error"], "insufficient funds")
}

func TestApprovalGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
			ActionType: model.ActionPoliciesPublish, EntityType: "policy", EntityID: uuid.NewString(),
		})
		require.NoError(t, err)
	}
	created, err := f.approval.Create(ctx, f.tenantID, f.requester, CreateApprovalDTO{
		ActionType: model.ActionPoliciesPublish, EntityType: "policy", EntityID: "returns-v2",
		Payload: mustJSON(t, map[string]string{"policy": "returns", "version": "2"}),
	})
	require.NoError(t, err)
	id := uuid.MustParse(created.ID)

	_, err = f.approval.Decide(ctx, f.tenantID, id, f.manager, DecideApprovalDTO{Outcome: OutcomeApprove})
	require.NoError(t, err)

	detail, err := f.approval.Get(ctx, f.tenantID, id)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionSucceeded, detail.ExecutionStatus)
	require.Len(t, detail.Executions, 2)
	assert.Equal(t, model.ExecLogSuccess, detail.Executions[1].Status)
	assert.Contains(t, string(detail.Executions[1].Output), "policies.publish")

	pending, total, err := f.approval.List(ctx, f.tenantID, ListApprovalsFilter{Status: model.ApprovalPending, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, pending, 2)

	_, err = f.approval.Get(ctx, uuid.New(), id)
	assert.ErrorIs(t, err, apperror.ErrForbidden)
}
