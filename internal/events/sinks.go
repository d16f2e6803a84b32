package events

import (
	"context"
	"encoding/json"
	"fmt"

	"merchantops/internal/model"
	"merchantops/internal/repository"
)

// AuditSink persists each event as an AuditLog row.
type AuditSink struct {
	repo repository.AuditRepository
}

func NewAuditSink(repo repository.AuditRepository) *AuditSink {
	return &AuditSink{repo: repo}
}

func (s *AuditSink) Publish(ctx context.Context, evt Event) error {
	details, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	entityID, _ := evt.Payload["entity_id"].(string)
	if entityID == "" {
		entityID, _ = evt.Payload["request_id"].(string)
	}

	entry := &model.AuditLog{
		TenantID:      evt.TenantID,
		ActorID:       evt.Actor.ID,
		ActorLabel:    evt.Actor.Label,
		Action:        evt.Type,
		CorrelationID: evt.CorrelationID,
		EntityID:      entityID,
		Details:       string(details),
		CreatedAt:     evt.Timestamp,
	}
	if err := s.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// Broadcaster pushes a message to every dashboard connected for a tenant.
type Broadcaster interface {
	BroadcastToTenant(tenantID string, message []byte)
}

// HubSink forwards events to the websocket hub.
type HubSink struct {
	hub Broadcaster
}

func NewHubSink(hub Broadcaster) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) Publish(_ context.Context, evt Event) error {
	msg, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.hub.BroadcastToTenant(evt.TenantID.String(), msg)
	return nil
}
