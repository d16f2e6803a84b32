package repository

import (
	"context"
	"testing"
	"time"

	"merchantops/internal/model"
	"merchantops/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func approvedRequest(t *testing.T, repo ApprovalRepository) *model.ApprovalRequest {
	t.Helper()
	req := &model.ApprovalRequest{
		TenantID:      uuid.New(),
		CorrelationID: uuid.NewString(),
		ActionType:    model.ActionCampaignSend,
		EntityType:    "campaign",
		EntityID:      "spring-sale",
		RequestedBy:   uuid.New(),
		Status:        model.ApprovalApproved,
	}
	require.NoError(t, repo.Create(context.Background(), req))
	return req
}

func TestClaimExecution_OnlyOneWinner(t *testing.T) {
	repo := NewApprovalRepository(testutil.NewDB(t))
	ctx := context.Background()
	req := approvedRequest(t, repo)

	ok, err := repo.ClaimExecution(ctx, req.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ClaimExecution(ctx, req.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetExecutionStatus_ScopedToAttempt(t *testing.T) {
	repo := NewApprovalRepository(testutil.NewDB(t))
	ctx := context.Background()
	req := approvedRequest(t, repo)

	ok, err := repo.ClaimExecution(ctx, req.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	// attempt 1 is released and attempt 2 claims the request
	ok, err = repo.SetExecutionStatus(ctx, req.ID, 1, model.ExecutionRunning, model.ExecutionFailed)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.ClaimExecution(ctx, req.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	// attempt 1 finishing late must not complete attempt 2
	ok, err = repo.SetExecutionStatus(ctx, req.ID, 1, model.ExecutionRunning, model.ExecutionSucceeded)
	require.NoError(t, err)
	assert.False(t, ok)

	current, err := repo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionRunning, current.ExecutionStatus)
	assert.Equal(t, 2, current.ExecutionAttempts)

	ok, err = repo.SetExecutionStatus(ctx, req.ID, 2, model.ExecutionRunning, model.ExecutionSucceeded)
	require.NoError(t, err)
	assert.True(t, ok)
}
