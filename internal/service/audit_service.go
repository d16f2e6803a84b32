package service

import (
	"context"
	"encoding/json"
	"fmt"

	"merchantops/internal/model"
	"merchantops/internal/repository"
	"merchantops/pkg/pagination"

	"github.com/google/uuid"
)

type AuditLogResponse struct {
	ID            string          `json:"id"`
	ActorID       string          `json:"actor_id"`
	ActorLabel    string          `json:"actor_label"`
	Action        string          `json:"action"`
	CorrelationID string          `json:"correlation_id"`
	EntityID      string          `json:"entity_id"`
	Details       json.RawMessage `json:"details"`
	CreatedAt     string          `json:"created_at"`
}

type AuditService interface {
	GetAuditLogs(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]AuditLogResponse, int64, error)
	GetTrail(ctx context.Context, tenantID uuid.UUID, correlationID string) ([]AuditLogResponse, error)
}

type auditService struct {
	repo repository.AuditRepository
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repository.AuditRepository) AuditService {
	return &auditService{repo: repo}
}

// GetAuditLogs returns the tenant's audit trail, newest first
func (s *auditService) GetAuditLogs(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]AuditLogResponse, int64, error) {
	p := pagination.New(page, limit)
	logs, total, err := s.repo.List(ctx, tenantID, p.Page, p.Limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch audit logs: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, toAuditLogResponse(l))
	}
	return res, total, nil
}

// GetTrail returns the tenant's audit entries sharing a correlation id, oldest first
func (s *auditService) GetTrail(ctx context.Context, tenantID uuid.UUID, correlationID string) ([]AuditLogResponse, error) {
	logs, err := s.repo.ListByCorrelation(ctx, tenantID, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch audit trail: %w", err)
	}

	res := make([]AuditLogResponse, 0, len(logs))
	for _, l := range logs {
		res = append(res, toAuditLogResponse(l))
	}
	return res, nil
}

func toAuditLogResponse(l model.AuditLog) AuditLogResponse {
	resp := AuditLogResponse{
		ID:            l.ID.String(),
		ActorLabel:    l.ActorLabel,
		Action:        l.Action,
		CorrelationID: l.CorrelationID,
		EntityID:      l.EntityID,
		Details:       json.RawMessage(l.Details),
		CreatedAt:     l.CreatedAt.Format("2006-01-02 15:04:05"),
	}
	if l.ActorID != nil {
		resp.ActorID = l.ActorID.String()
	}
	if resp.ActorLabel == "" {
		resp.ActorLabel = "System"
	}
	if len(l.Details) == 0 {
		resp.Details = json.RawMessage("{}")
	}
	return resp
}
