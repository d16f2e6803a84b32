package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/logger"
	"merchantops/internal/metrics"
	"merchantops/internal/model"
	"merchantops/internal/repository"
	"merchantops/internal/tracing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// errAttemptSuperseded aborts an attempt whose claim no longer matches the request.
var errAttemptSuperseded = errors.New("execution attempt superseded")

// ExecuteInput identifies the request to run. A nil TenantID skips the tenant
// check (ops tooling); HTTP callers always set it.
type ExecuteInput struct {
	RequestID uuid.UUID
	TenantID  uuid.UUID
	Actor     Actor
}

// ExecutionResult is the output of a successful execution. Replayed is true
// when the output came from an earlier SUCCESS log and no handler ran.
type ExecutionResult struct {
	RequestID uuid.UUID       `json:"request_id"`
	LogID     uuid.UUID       `json:"log_id"`
	Attempt   int             `json:"attempt"`
	Output    json.RawMessage `json:"output"`
	Replayed  bool            `json:"replayed"`
}

// ExecutionEngine runs approved requests at most once. Concurrent callers race
// on a guarded claim of the request; only the winner dispatches the handler and
// the rest replay the stored output or get a Conflict while it is in flight.
type ExecutionEngine struct {
	tx        repository.TransactionManager
	approvals repository.ApprovalRepository
	execLogs  repository.ExecutionLogRepository
	registry  *ActionRegistry
	publisher events.Publisher
	log       zerolog.Logger
	now       func() time.Time
}

func NewExecutionEngine(
	tx repository.TransactionManager,
	approvals repository.ApprovalRepository,
	execLogs repository.ExecutionLogRepository,
	registry *ActionRegistry,
	publisher events.Publisher,
	log zerolog.Logger,
) *ExecutionEngine {
	return &ExecutionEngine{
		tx:        tx,
		approvals: approvals,
		execLogs:  execLogs,
		registry:  registry,
		publisher: publisher,
		log:       log,
		now:       time.Now,
	}
}

func (e *ExecutionEngine) Execute(ctx context.Context, in ExecuteInput) (result *ExecutionResult, err error) {
	const op = "approvals.execute"

	ctx, span := tracing.Start(ctx, "execution.execute", map[string]string{"request_id": in.RequestID.String()})
	defer func() { tracing.End(span, err) }()

	req, err := e.approvals.FindByID(ctx, in.RequestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.ErrNotFound, op, "approval request %s", in.RequestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}
	if in.TenantID != uuid.Nil && req.TenantID != in.TenantID {
		return nil, apperror.New(apperror.ErrForbidden, op, "approval request belongs to another tenant")
	}

	ctx = logger.WithCorrelationID(logger.WithTenantID(ctx, req.TenantID.String()), req.CorrelationID)
	log := logger.From(ctx, e.log).With().
		Str("request_id", req.ID.String()).
		Str("action_type", req.ActionType).
		Logger()

	if req.Status != model.ApprovalApproved {
		return nil, apperror.New(apperror.ErrConflict, op, "request is %s, only APPROVED requests execute", req.Status)
	}

	def, ok := e.registry.Lookup(req.ActionType)
	if !ok {
		log.Error().Msg("no handler registered for action type")
		return nil, apperror.New(apperror.ErrUnknownActionType, op, "%s", req.ActionType)
	}

	if prior, err := e.findSuccess(ctx, req.ID); err != nil {
		return nil, err
	} else if prior != nil {
		metrics.RecordExecution(req.ActionType, "replayed")
		return replay(req.ID, prior), nil
	}

	attempt, startedAt, claimed, err := e.claim(ctx, req, in.Actor)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Lost the race: either the winner already finished or it is still running.
		if prior, err := e.findSuccess(ctx, req.ID); err != nil {
			return nil, err
		} else if prior != nil {
			metrics.RecordExecution(req.ActionType, "replayed")
			return replay(req.ID, prior), nil
		}
		metrics.RecordExecution(req.ActionType, "in_progress")
		return nil, apperror.New(apperror.ErrConflict, op, "execution already in progress")
	}

	log.Info().Int("attempt", attempt).Msg("executing approved request")
	begin := e.now()

	var successLog *model.ExecutionLog
	runErr := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		output, err := invoke(txCtx, def.Handler, ActionInput{Request: req, Actor: in.Actor})
		if err != nil {
			return err
		}
		raw, err := json.Marshal(output)
		if err != nil {
			return fmt.Errorf("marshal handler output: %w", err)
		}

		current, err := e.approvals.SetExecutionStatus(txCtx, req.ID, attempt, model.ExecutionRunning, model.ExecutionSucceeded)
		if err != nil {
			return fmt.Errorf("mark execution succeeded: %w", err)
		}
		if !current {
			return errAttemptSuperseded
		}

		finished := e.now().UTC()
		successLog = &model.ExecutionLog{
			ApprovalRequestID: req.ID,
			Attempt:           attempt,
			Status:            model.ExecLogSuccess,
			ActorID:           actorID(in.Actor),
			CorrelationID:     req.CorrelationID,
			Output:            string(raw),
			StartedAt:         startedAt,
			FinishedAt:        &finished,
		}
		if err := e.execLogs.Create(txCtx, successLog); err != nil {
			return fmt.Errorf("write success log: %w", err)
		}
		return nil
	})
	metrics.ObserveExecutionDuration(req.ActionType, e.now().Sub(begin).Seconds())

	if errors.Is(runErr, errAttemptSuperseded) {
		return nil, e.superseded(log, req, attempt, nil)
	}
	if runErr != nil {
		return nil, e.fail(ctx, log, req, in.Actor, attempt, startedAt, runErr)
	}

	metrics.RecordExecution(req.ActionType, "success")
	log.Info().Int("attempt", attempt).Msg("execution succeeded")
	events.Emit(ctx, e.publisher, log, events.New(req.TenantID, events.ApprovalExecuted, in.Actor.event(), req.CorrelationID,
		map[string]interface{}{
			"request_id":  req.ID.String(),
			"action_type": req.ActionType,
			"entity_id":   req.EntityID,
			"attempt":     attempt,
			"output":      json.RawMessage(successLog.Output),
		}))

	return &ExecutionResult{
		RequestID: req.ID,
		LogID:     successLog.ID,
		Attempt:   attempt,
		Output:    json.RawMessage(successLog.Output),
	}, nil
}

// claim moves the request to RUNNING and writes the RUNNING log in one transaction.
func (e *ExecutionEngine) claim(ctx context.Context, req *model.ApprovalRequest, actor Actor) (int, time.Time, bool, error) {
	var (
		attempt int
		claimed bool
	)
	startedAt := e.now().UTC()

	err := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		ok, err := e.approvals.ClaimExecution(txCtx, req.ID, startedAt)
		if err != nil {
			return fmt.Errorf("claim execution: %w", err)
		}
		if !ok {
			return nil
		}

		current, err := e.approvals.FindByID(txCtx, req.ID)
		if err != nil {
			return fmt.Errorf("reload claimed request: %w", err)
		}
		attempt = current.ExecutionAttempts

		if err := e.execLogs.Create(txCtx, &model.ExecutionLog{
			ApprovalRequestID: req.ID,
			Attempt:           attempt,
			Status:            model.ExecLogRunning,
			ActorID:           actorID(actor),
			CorrelationID:     req.CorrelationID,
			StartedAt:         startedAt,
		}); err != nil {
			return fmt.Errorf("write running log: %w", err)
		}
		claimed = true
		return nil
	})
	if err != nil {
		return 0, time.Time{}, false, err
	}
	return attempt, startedAt, claimed, nil
}

// fail records the terminal FAILED log, releases the claim and emits approvals.failed.
func (e *ExecutionEngine) fail(ctx context.Context, log zerolog.Logger, req *model.ApprovalRequest, actor Actor, attempt int, startedAt time.Time, cause error) error {
	finished := e.now().UTC()
	err := e.tx.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := e.approvals.SetExecutionStatus(txCtx, req.ID, attempt, model.ExecutionRunning, model.ExecutionFailed)
		if err != nil {
			return fmt.Errorf("mark execution failed: %w", err)
		}
		if !current {
			return errAttemptSuperseded
		}
		if err := e.execLogs.Create(txCtx, &model.ExecutionLog{
			ApprovalRequestID: req.ID,
			Attempt:           attempt,
			Status:            model.ExecLogFailed,
			ActorID:           actorID(actor),
			CorrelationID:     req.CorrelationID,
			Error:             cause.Error(),
			StartedAt:         startedAt,
			FinishedAt:        &finished,
		}); err != nil {
			return fmt.Errorf("write failed log: %w", err)
		}
		return nil
	})
	if errors.Is(err, errAttemptSuperseded) {
		return e.superseded(log, req, attempt, cause)
	}
	metrics.RecordExecution(req.ActionType, "failed")
	log.Warn().Err(cause).Int("attempt", attempt).Msg("execution failed")
	if err != nil {
		// The request stays RUNNING; the reconciler reports it as stuck.
		log.Error().Err(err).Msg("could not record failed execution")
	}

	events.Emit(ctx, e.publisher, log, events.New(req.TenantID, events.ApprovalFailed, actor.event(), req.CorrelationID,
		map[string]interface{}{
			"request_id":  req.ID.String(),
			"action_type": req.ActionType,
			"entity_id":   req.EntityID,
			"attempt":     attempt,
			"error":       cause.Error(),
		}))

	return apperror.Wrap(apperror.ErrHandlerExecution, "approvals.execute", cause, "%s attempt %d", req.ActionType, attempt)
}

// superseded reports an attempt that was released while its handler ran. The
// release already wrote the attempt's terminal log, so nothing is recorded here
// and the handler's writes have been rolled back.
func (e *ExecutionEngine) superseded(log zerolog.Logger, req *model.ApprovalRequest, attempt int, cause error) error {
	metrics.RecordExecution(req.ActionType, "superseded")
	log.Warn().Err(cause).Int("attempt", attempt).Msg("execution attempt was released while running, discarding result")
	if cause != nil {
		return apperror.Wrap(apperror.ErrConflict, "approvals.execute", cause, "attempt %d was released while running", attempt)
	}
	return apperror.New(apperror.ErrConflict, "approvals.execute", "attempt %d was released while running", attempt)
}

func (e *ExecutionEngine) findSuccess(ctx context.Context, requestID uuid.UUID) (*model.ExecutionLog, error) {
	prior, err := e.execLogs.FindSuccess(ctx, requestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up prior execution: %w", err)
	}
	return prior, nil
}

// invoke runs the handler, turning a panic into an error so the attempt is
// still recorded as FAILED.
func invoke(ctx context.Context, h ActionHandler, in ActionInput) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, in)
}

func replay(requestID uuid.UUID, prior *model.ExecutionLog) *ExecutionResult {
	return &ExecutionResult{
		RequestID: requestID,
		LogID:     prior.ID,
		Attempt:   prior.Attempt,
		Output:    json.RawMessage(prior.Output),
		Replayed:  true,
	}
}

func actorID(a Actor) *uuid.UUID {
	if a.ID == uuid.Nil {
		return nil
	}
	id := a.ID
	return &id
}
