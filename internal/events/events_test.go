package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"merchantops/internal/model"
	"merchantops/internal/repository"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulti_DeliversToEverySink(t *testing.T) {
	rec := &Recorder{}
	failing := PublisherFunc(func(context.Context, Event) error { return errors.New("hub closed") })
	panicking := PublisherFunc(func(context.Context, Event) error { panic("boom") })
	after := &Recorder{}

	evt := New(uuid.New(), ApprovalRequested, System, "corr-1", map[string]interface{}{"request_id": "r1"})
	err := Multi{rec, failing, panicking, after}.Publish(context.Background(), evt)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "hub closed")
	assert.Contains(t, err.Error(), "sink panicked on approvals.requested")
	assert.Len(t, rec.Events(), 1)
	assert.Len(t, after.Events(), 1)
}

func TestEmit_SwallowsErrors(t *testing.T) {
	called := false
	p := PublisherFunc(func(context.Context, Event) error {
		called = true
		return errors.New("down")
	})

	assert.NotPanics(t, func() {
		Emit(context.Background(), p, zerolog.Nop(), New(uuid.New(), WalletDebited, System, "", nil))
		Emit(context.Background(), nil, zerolog.Nop(), New(uuid.New(), WalletDebited, System, "", nil))
	})
	assert.True(t, called)
}

func TestRecorder_OfType(t *testing.T) {
	rec := &Recorder{}
	ctx := context.Background()
	tenant := uuid.New()
	require.NoError(t, rec.Publish(ctx, New(tenant, ApprovalApproved, System, "c", nil)))
	require.NoError(t, rec.Publish(ctx, New(tenant, ApprovalExecuted, System, "c", nil)))
	require.NoError(t, rec.Publish(ctx, New(tenant, ApprovalApproved, System, "d", nil)))

	assert.Len(t, rec.OfType(ApprovalApproved), 2)
	assert.Empty(t, rec.OfType(ApprovalFailed))
}

func TestAuditSink_WritesRow(t *testing.T) {
	db := testutil.NewDB(t)
	sink := NewAuditSink(repository.NewAuditRepository(db))
	tenant, actor := uuid.New(), uuid.New()

	evt := New(tenant, ApprovalApproved, NewActor(actor, "Chidi (finance)"), "corr-9", map[string]interface{}{
		"request_id":  "req-1",
		"action_type": model.ActionRefundIssue,
	})
	require.NoError(t, sink.Publish(context.Background(), evt))

	var row model.AuditLog
	require.NoError(t, db.First(&row, "correlation_id = ?", "corr-9").Error)
	assert.Equal(t, tenant, row.TenantID)
	require.NotNil(t, row.ActorID)
	assert.Equal(t, actor, *row.ActorID)
	assert.Equal(t, "Chidi (finance)", row.ActorLabel)
	assert.Equal(t, ApprovalApproved, row.Action)
	assert.Equal(t, "req-1", row.EntityID)

	var details map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(row.Details), &details))
	assert.Equal(t, model.ActionRefundIssue, details["action_type"])
}

type fakeBroadcaster struct {
	tenant string
	msg    []byte
}

func (f *fakeBroadcaster) BroadcastToTenant(tenantID string, message []byte) {
	f.tenant, f.msg = tenantID, message
}

func TestHubSink_BroadcastsToTenant(t *testing.T) {
	b := &fakeBroadcaster{}
	tenant := uuid.New()
	require.NoError(t, NewHubSink(b).Publish(context.Background(), New(tenant, WalletCredited, System, "", map[string]interface{}{"amount": 100})))

	assert.Equal(t, tenant.String(), b.tenant)
	var decoded Event
	require.NoError(t, json.Unmarshal(b.msg, &decoded))
	assert.Equal(t, WalletCredited, decoded.Type)
	assert.Nil(t, decoded.Actor.ID)
}
