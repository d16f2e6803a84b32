package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExecutionLog status constants
const (
	ExecLogRunning = "RUNNING"
	ExecLogSuccess = "SUCCESS"
	ExecLogFailed  = "FAILED"
)

// ExecutionLog records one step of an execution attempt for an approved request.
// The partial unique index keeps at most one SUCCESS row per request.
type ExecutionLog struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ApprovalRequestID uuid.UUID  `gorm:"type:uuid;not null;index;uniqueIndex:idx_execution_logs_one_success,where:status = 'SUCCESS'" json:"approval_request_id"`
	Attempt           int        `gorm:"not null" json:"attempt"`
	Status            string     `gorm:"type:varchar(20);not null;index" json:"status"` // RUNNING, SUCCESS, FAILED
	ActorID           *uuid.UUID `gorm:"type:uuid" json:"actor_id"`
	CorrelationID     string     `gorm:"type:varchar(64);index" json:"correlation_id"`
	Output            string     `gorm:"type:jsonb" json:"output,omitempty"`
	Error             string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt         time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (l *ExecutionLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.Output == "" {
		l.Output = "null"
	}
	return nil
}
