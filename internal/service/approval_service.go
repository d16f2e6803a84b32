package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"merchantops/internal/apperror"
	"merchantops/internal/events"
	"merchantops/internal/logger"
	"merchantops/internal/metrics"
	"merchantops/internal/model"
	"merchantops/internal/permission"
	"merchantops/internal/repository"
	"merchantops/pkg/pagination"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Decision outcomes
const (
	OutcomeApprove = "approve"
	OutcomeReject  = "reject"
)

// Actor is the authenticated user acting on a request.
type Actor struct {
	ID    uuid.UUID
	Label string
}

// SystemActor is used when no human triggered the operation.
var SystemActor = Actor{Label: "system"}

func (a Actor) event() events.Actor {
	if a.ID == uuid.Nil {
		return events.Actor{Label: a.Label}
	}
	return events.NewActor(a.ID, a.Label)
}

// --- DTOs ---

type CreateApprovalDTO struct {
	ActionType string          `json:"action_type" binding:"required"`
	EntityType string          `json:"entity_type" binding:"required"`
	EntityID   string          `json:"entity_id" binding:"required"`
	Payload    json.RawMessage `json:"payload"`
	Reason     string          `json:"reason"`
}

type DecideApprovalDTO struct {
	Outcome string `json:"outcome" binding:"required,oneof=approve reject"`
	Reason  string `json:"reason"`
}

type ListApprovalsFilter struct {
	Status          string
	ExecutionStatus string
	ActionType      string
	Page            int
	Limit           int
}

type ApprovalResponse struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	CorrelationID     string          `json:"correlation_id"`
	ActionType        string          `json:"action_type"`
	EntityType        string          `json:"entity_type"`
	EntityID          string          `json:"entity_id"`
	Payload           json.RawMessage `json:"payload"`
	Reason            string          `json:"reason"`
	Status            string          `json:"status"`
	RequestedBy       string          `json:"requested_by"`
	RequestedByLabel  string          `json:"requested_by_label"`
	DecidedBy         *string         `json:"decided_by"`
	DecidedByLabel    string          `json:"decided_by_label"`
	DecidedAt         *string         `json:"decided_at"`
	DecisionReason    string          `json:"decision_reason"`
	ExecutionStatus   string          `json:"execution_status"`
	ExecutionAttempts int             `json:"execution_attempts"`
	CreatedAt         string          `json:"created_at"`
}

type ExecutionLogResponse struct {
	ID         string          `json:"id"`
	Attempt    int             `json:"attempt"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  string          `json:"started_at"`
	FinishedAt *string         `json:"finished_at"`
}

type ApprovalDetailResponse struct {
	ApprovalResponse
	Executions []ExecutionLogResponse `json:"executions"`
}

// --- Interface ---

type ApprovalService interface {
	Create(ctx context.Context, tenantID uuid.UUID, actor Actor, req CreateApprovalDTO) (ApprovalResponse, error)
	Decide(ctx context.Context, tenantID, requestID uuid.UUID, actor Actor, req DecideApprovalDTO) (ApprovalResponse, error)
	Get(ctx context.Context, tenantID, requestID uuid.UUID) (ApprovalDetailResponse, error)
	List(ctx context.Context, tenantID uuid.UUID, filter ListApprovalsFilter) ([]ApprovalResponse, int64, error)
}

// Executor runs an approved request. ExecutionEngine implements it.
type Executor interface {
	Execute(ctx context.Context, in ExecuteInput) (*ExecutionResult, error)
}

type approvalService struct {
	approvals repository.ApprovalRepository
	execLogs  repository.ExecutionLogRepository
	registry  *ActionRegistry
	gate      permission.Gate
	publisher events.Publisher
	executor  Executor
	log       zerolog.Logger
	now       func() time.Time
}

// NewApprovalService wires the lifecycle manager. executor may be nil, in which
// case approved requests wait for an explicit execute call.
func NewApprovalService(
	approvals repository.ApprovalRepository,
	execLogs repository.ExecutionLogRepository,
	registry *ActionRegistry,
	gate permission.Gate,
	publisher events.Publisher,
	executor Executor,
	log zerolog.Logger,
) ApprovalService {
	return &approvalService{
		approvals: approvals,
		execLogs:  execLogs,
		registry:  registry,
		gate:      gate,
		publisher: publisher,
		executor:  executor,
		log:       log,
		now:       time.Now,
	}
}

// --- Implementation ---

func (s *approvalService) Create(ctx context.Context, tenantID uuid.UUID, actor Actor, req CreateApprovalDTO) (ApprovalResponse, error) {
	const op = "approvals.create"

	if _, ok := s.registry.Lookup(req.ActionType); !ok {
		return ApprovalResponse{}, apperror.New(apperror.ErrValidation, op, "unsupported action type %q", req.ActionType)
	}

	payload := "{}"
	if len(req.Payload) > 0 {
		if !json.Valid(req.Payload) {
			return ApprovalResponse{}, apperror.New(apperror.ErrValidation, op, "payload must be valid JSON")
		}
		payload = string(req.Payload)
	}

	member, err := s.gate.IsMember(ctx, actor.ID, tenantID)
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return ApprovalResponse{}, apperror.New(apperror.ErrForbidden, op, "requester is not a member of this tenant")
	}

	approval := model.ApprovalRequest{
		TenantID:         tenantID,
		CorrelationID:    uuid.NewString(),
		ActionType:       req.ActionType,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		Payload:          payload,
		Reason:           req.Reason,
		RequestedBy:      actor.ID,
		RequestedByLabel: actor.Label,
		Status:           model.ApprovalPending,
		ExecutionStatus:  model.ExecutionNotStarted,
	}
	if err := s.approvals.Create(ctx, &approval); err != nil {
		return ApprovalResponse{}, fmt.Errorf("failed to create approval request: %w", err)
	}

	ctx = logger.WithCorrelationID(ctx, approval.CorrelationID)
	events.Emit(ctx, s.publisher, s.log, events.New(tenantID, events.ApprovalRequested, actor.event(), approval.CorrelationID,
		map[string]interface{}{
			"request_id":  approval.ID.String(),
			"action_type": approval.ActionType,
			"entity_type": approval.EntityType,
			"entity_id":   approval.EntityID,
			"reason":      approval.Reason,
		}))

	return toApprovalResponse(approval), nil
}

func (s *approvalService) Decide(ctx context.Context, tenantID, requestID uuid.UUID, actor Actor, req DecideApprovalDTO) (ApprovalResponse, error) {
	const op = "approvals.decide"

	var status, eventType string
	switch req.Outcome {
	case OutcomeApprove:
		status, eventType = model.ApprovalApproved, events.ApprovalApproved
	case OutcomeReject:
		status, eventType = model.ApprovalRejected, events.ApprovalRejected
	default:
		return ApprovalResponse{}, apperror.New(apperror.ErrValidation, op, "outcome must be approve or reject")
	}

	approval, err := s.load(ctx, op, tenantID, requestID)
	if err != nil {
		return ApprovalResponse{}, err
	}
	log := logger.From(logger.WithCorrelationID(ctx, approval.CorrelationID), s.log)

	if approval.IsDecided() {
		metrics.RecordDecision(approval.ActionType, "conflict")
		return ApprovalResponse{}, apperror.New(apperror.ErrConflict, op, "request already %s", approval.Status)
	}

	if err := s.require(ctx, op, actor, tenantID, permission.ApprovalsDecide); err != nil {
		metrics.RecordDecision(approval.ActionType, "forbidden")
		return ApprovalResponse{}, err
	}
	if status == model.ApprovalApproved {
		def, ok := s.registry.Lookup(approval.ActionType)
		if !ok {
			return ApprovalResponse{}, apperror.New(apperror.ErrUnknownActionType, op, "%s", approval.ActionType)
		}
		if err := s.require(ctx, op, actor, tenantID, def.Capability); err != nil {
			metrics.RecordDecision(approval.ActionType, "forbidden")
			return ApprovalResponse{}, err
		}
	}

	now := s.now().UTC()
	won, err := s.approvals.DecideIfPending(ctx, approval.ID, repository.Decision{
		Status:         status,
		DecidedBy:      actor.ID,
		DecidedByLabel: actor.Label,
		DecisionReason: req.Reason,
		DecidedAt:      now,
	})
	if err != nil {
		return ApprovalResponse{}, fmt.Errorf("failed to record decision: %w", err)
	}
	if !won {
		metrics.RecordDecision(approval.ActionType, "conflict")
		return ApprovalResponse{}, apperror.New(apperror.ErrConflict, op, "request already decided")
	}

	decidedBy := actor.ID
	approval.Status = status
	approval.DecidedBy = &decidedBy
	approval.DecidedByLabel = actor.Label
	approval.DecidedAt = &now
	approval.DecisionReason = req.Reason
	metrics.RecordDecision(approval.ActionType, strings.ToLower(status))

	events.Emit(ctx, s.publisher, log, events.New(tenantID, eventType, actor.event(), approval.CorrelationID,
		map[string]interface{}{
			"request_id":      approval.ID.String(),
			"action_type":     approval.ActionType,
			"entity_id":       approval.EntityID,
			"decision_reason": req.Reason,
		}))

	if status == model.ApprovalApproved && s.executor != nil {
		if _, execErr := s.executor.Execute(ctx, ExecuteInput{RequestID: approval.ID, TenantID: tenantID, Actor: actor}); execErr != nil {
			log.Error().Err(execErr).
				Str("request_id", approval.ID.String()).
				Str("action_type", approval.ActionType).
				Msg("execution after approval failed; request stays APPROVED and can be retried")
		}
		if reloaded, reloadErr := s.approvals.FindByID(ctx, approval.ID); reloadErr == nil {
			approval = reloaded
		}
	}

	return toApprovalResponse(*approval), nil
}

func (s *approvalService) Get(ctx context.Context, tenantID, requestID uuid.UUID) (ApprovalDetailResponse, error) {
	approval, err := s.load(ctx, "approvals.get", tenantID, requestID)
	if err != nil {
		return ApprovalDetailResponse{}, err
	}

	logs, err := s.execLogs.ListByRequest(ctx, approval.ID)
	if err != nil {
		return ApprovalDetailResponse{}, fmt.Errorf("failed to fetch execution logs: %w", err)
	}

	detail := ApprovalDetailResponse{
		ApprovalResponse: toApprovalResponse(*approval),
		Executions:       make([]ExecutionLogResponse, 0, len(logs)),
	}
	for _, l := range logs {
		detail.Executions = append(detail.Executions, toExecutionLogResponse(l))
	}
	return detail, nil
}

func (s *approvalService) List(ctx context.Context, tenantID uuid.UUID, filter ListApprovalsFilter) ([]ApprovalResponse, int64, error) {
	p := pagination.New(filter.Page, filter.Limit)
	approvals, total, err := s.approvals.List(ctx, repository.ApprovalFilter{
		TenantID:        tenantID,
		Status:          filter.Status,
		ExecutionStatus: filter.ExecutionStatus,
		ActionType:      filter.ActionType,
	}, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch approval requests: %w", err)
	}

	result := make([]ApprovalResponse, 0, len(approvals))
	for _, a := range approvals {
		result = append(result, toApprovalResponse(a))
	}
	return result, total, nil
}

// load fetches the request and enforces tenant ownership.
func (s *approvalService) load(ctx context.Context, op string, tenantID, requestID uuid.UUID) (*model.ApprovalRequest, error) {
	approval, err := s.approvals.FindByID(ctx, requestID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperror.New(apperror.ErrNotFound, op, "approval request %s", requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}
	if approval.TenantID != tenantID {
		return nil, apperror.New(apperror.ErrForbidden, op, "approval request belongs to another tenant")
	}
	return approval, nil
}

func (s *approvalService) require(ctx context.Context, op string, actor Actor, tenantID uuid.UUID, capability string) error {
	ok, err := s.gate.HasPermission(ctx, actor.ID, tenantID, capability)
	if err != nil {
		return fmt.Errorf("check permission %s: %w", capability, err)
	}
	if !ok {
		return apperror.New(apperror.ErrForbidden, op, "missing capability %s", capability)
	}
	return nil
}

// --- Mapping ---

func toApprovalResponse(a model.ApprovalRequest) ApprovalResponse {
	resp := ApprovalResponse{
		ID:                a.ID.String(),
		TenantID:          a.TenantID.String(),
		CorrelationID:     a.CorrelationID,
		ActionType:        a.ActionType,
		EntityType:        a.EntityType,
		EntityID:          a.EntityID,
		Payload:           json.RawMessage(a.Payload),
		Reason:            a.Reason,
		Status:            a.Status,
		RequestedBy:       a.RequestedBy.String(),
		RequestedByLabel:  a.RequestedByLabel,
		DecidedByLabel:    a.DecidedByLabel,
		DecisionReason:    a.DecisionReason,
		ExecutionStatus:   a.ExecutionStatus,
		ExecutionAttempts: a.ExecutionAttempts,
		CreatedAt:         a.CreatedAt.Format(time.RFC3339),
	}
	if a.DecidedBy != nil {
		s := a.DecidedBy.String()
		resp.DecidedBy = &s
	}
	if a.DecidedAt != nil {
		s := a.DecidedAt.Format(time.RFC3339)
		resp.DecidedAt = &s
	}
	return resp
}

func toExecutionLogResponse(l model.ExecutionLog) ExecutionLogResponse {
	resp := ExecutionLogResponse{
		ID:        l.ID.String(),
		Attempt:   l.Attempt,
		Status:    l.Status,
		Error:     l.Error,
		StartedAt: l.StartedAt.Format(time.RFC3339),
	}
	if l.Output != "" && l.Output != "null" {
		resp.Output = json.RawMessage(l.Output)
	}
	if l.FinishedAt != nil {
		s := l.FinishedAt.Format(time.RFC3339)
		resp.FinishedAt = &s
	}
	return resp
}
