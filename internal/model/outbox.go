package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Outbox message status
const (
	OutboxPending   = "PENDING"
	OutboxDelivered = "DELIVERED"
)

// OutboxMessage is a handoff to a downstream service (campaigns, policies, deliveries).
// It is written in the same transaction as the execution result.
type OutboxMessage struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	Topic             string     `gorm:"type:varchar(50);not null;index" json:"topic"`
	ApprovalRequestID uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"approval_request_id"`
	CorrelationID     string     `gorm:"type:varchar(64)" json:"correlation_id"`
	Payload           string     `gorm:"type:jsonb;not null" json:"payload"`
	Status            string     `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	DeliveredAt       *time.Time `json:"delivered_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (m *OutboxMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
