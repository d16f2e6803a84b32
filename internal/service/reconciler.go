package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/metrics"
	"merchantops/internal/model"
	"merchantops/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const releasedError = "released stale execution"

type StuckExecution struct {
	RequestID     string        `json:"request_id"`
	TenantID      string        `json:"tenant_id"`
	ActionType    string        `json:"action_type"`
	CorrelationID string        `json:"correlation_id"`
	Attempts      int           `json:"attempts"`
	StartedAt     string        `json:"started_at"`
	RunningFor    time.Duration `json:"running_for"`
}

// Reconciler finds executions that were claimed but never reached a terminal
// log, and lets an operator release them for retry. It never re-runs a handler
// itself.
type Reconciler struct {
	tx        repository.TransactionManager
	approvals repository.ApprovalRepository
	execLogs  repository.ExecutionLogRepository
	publisher events.Publisher
	threshold time.Duration
	log       zerolog.Logger
	now       func() time.Time
}

func NewReconciler(
	tx repository.TransactionManager,
	approvals repository.ApprovalRepository,
	execLogs repository.ExecutionLogRepository,
	publisher events.Publisher,
	threshold time.Duration,
	log zerolog.Logger,
) *Reconciler {
	return &Reconciler{
		tx:        tx,
		approvals: approvals,
		execLogs:  execLogs,
		publisher: publisher,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
}

// FindStuck lists requests RUNNING for longer than olderThan, or the configured
// threshold when olderThan is zero. It also updates the stuck executions gauge.
func (r *Reconciler) FindStuck(ctx context.Context, olderThan time.Duration) ([]StuckExecution, error) {
	if olderThan <= 0 {
		olderThan = r.threshold
	}
	now := r.now()

	requests, err := r.approvals.FindStuck(ctx, now.Add(-olderThan).UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to find stuck executions: %w", err)
	}
	metrics.SetStuckExecutions(len(requests))

	result := make([]StuckExecution, 0, len(requests))
	for _, req := range requests {
		item := StuckExecution{
			RequestID:     req.ID.String(),
			TenantID:      req.TenantID.String(),
			ActionType:    req.ActionType,
			CorrelationID: req.CorrelationID,
			Attempts:      req.ExecutionAttempts,
		}
		if req.ExecutionStartedAt != nil {
			item.StartedAt = req.ExecutionStartedAt.Format(time.RFC3339)
			item.RunningFor = now.Sub(*req.ExecutionStartedAt).Round(time.Second)
		}
		r.log.Warn().
			Str("request_id", item.RequestID).
			Str("correlation_id", item.CorrelationID).
			Dur("running_for", item.RunningFor).
			Msg("execution stuck in RUNNING")
		result = append(result, item)
	}
	return result, nil
}

// Release closes a stuck attempt with a FAILED log so the request becomes
// eligible for another execute call.
func (r *Reconciler) Release(ctx context.Context, requestID uuid.UUID, actor Actor) error {
	const op = "executions.release"

	req, err := r.approvals.FindByID(ctx, requestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperror.New(apperror.ErrNotFound, op, "approval request %s", requestID)
	}
	if err != nil {
		return fmt.Errorf("failed to load approval request: %w", err)
	}
	if req.ExecutionStatus != model.ExecutionRunning {
		return apperror.New(apperror.ErrConflict, op, "execution is %s, not RUNNING", req.ExecutionStatus)
	}

	err = r.tx.RunInTx(ctx, func(txCtx context.Context) error {
		released, err := r.approvals.SetExecutionStatus(txCtx, req.ID, req.ExecutionAttempts, model.ExecutionRunning, model.ExecutionFailed)
		if err != nil {
			return fmt.Errorf("failed to release execution: %w", err)
		}
		if !released {
			return apperror.New(apperror.ErrConflict, op, "execution finished while releasing")
		}

		startedAt := r.now().UTC()
		if req.ExecutionStartedAt != nil {
			startedAt = *req.ExecutionStartedAt
		}
		finished := r.now().UTC()
		return r.execLogs.Create(txCtx, &model.ExecutionLog{
			ApprovalRequestID: req.ID,
			Attempt:           req.ExecutionAttempts,
			Status:            model.ExecLogFailed,
			ActorID:           actorID(actor),
			CorrelationID:     req.CorrelationID,
			Error:             releasedError,
			StartedAt:         startedAt,
			FinishedAt:        &finished,
		})
	})
	if err != nil {
		return err
	}

	r.log.Info().Str("request_id", req.ID.String()).Msg("released stale execution")
	events.Emit(ctx, r.publisher, r.log, events.New(req.TenantID, events.ExecutionReleased, actor.event(), req.CorrelationID,
		map[string]interface{}{
			"request_id":  req.ID.String(),
			"action_type": req.ActionType,
			"attempt":     req.ExecutionAttempts,
		}))
	return nil
}
