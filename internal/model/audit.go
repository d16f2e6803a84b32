package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog persists every published domain event: who, what, when, and under which correlation id
type AuditLog struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ActorID       *uuid.UUID `gorm:"type:uuid;index" json:"actor_id"` // nil for system jobs
	ActorLabel    string     `gorm:"type:varchar(255)" json:"actor_label"`
	Action        string     `gorm:"type:varchar(50);not null;index" json:"action"`
	CorrelationID string     `gorm:"type:varchar(64);index" json:"correlation_id"`
	EntityID      string     `gorm:"type:varchar(100);index" json:"entity_id"`
	Details       string     `gorm:"type:jsonb" json:"details"`
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Details == "" {
		a.Details = "{}"
	}
	return nil
}
