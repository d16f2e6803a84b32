package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Action types gated behind an approval
const (
	ActionRefundIssue      = "refund.issue"
	ActionCampaignSend     = "campaign.send"
	ActionPoliciesPublish  = "policies.publish"
	ActionDeliveryDispatch = "delivery.dispatch"
)

// ApprovalStatus enum constants (decision dimension)
const (
	ApprovalPending  = "PENDING"
	ApprovalApproved = "APPROVED"
	ApprovalRejected = "REJECTED"
)

// Execution bookkeeping kept on the request itself
const (
	ExecutionNotStarted = "NOT_STARTED"
	ExecutionRunning    = "RUNNING"
	ExecutionSucceeded  = "SUCCEEDED"
	ExecutionFailed     = "FAILED"
)

// ApprovalRequest is a proposed sensitive action awaiting human sign-off.
// DecidedBy/DecidedAt are nil iff Status is PENDING; after the decision only the
// Execution* columns change.
type ApprovalRequest struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID         uuid.UUID  `gorm:"type:uuid;not null;index:idx_approval_tenant_status" json:"tenant_id"`
	CorrelationID    string     `gorm:"type:varchar(64);not null;index" json:"correlation_id"`
	ActionType       string     `gorm:"type:varchar(50);not null;index" json:"action_type"` // refund.issue, campaign.send, ...
	EntityType       string     `gorm:"type:varchar(50);not null" json:"entity_type"`
	EntityID         string     `gorm:"type:varchar(100);not null;index" json:"entity_id"`
	Payload          string     `gorm:"type:jsonb;not null" json:"payload"` // consumed only by the matching handler
	Reason           string     `gorm:"type:text" json:"reason"`
	RequestedBy      uuid.UUID  `gorm:"type:uuid;not null;index" json:"requested_by"`
	RequestedByLabel string     `gorm:"type:varchar(255)" json:"requested_by_label"`
	Status           string     `gorm:"type:varchar(20);not null;default:'PENDING';index:idx_approval_tenant_status" json:"status"`
	DecidedBy        *uuid.UUID `gorm:"type:uuid" json:"decided_by"`
	DecidedByLabel   string     `gorm:"type:varchar(255)" json:"decided_by_label"`
	DecidedAt        *time.Time `json:"decided_at"`
	DecisionReason   string     `gorm:"type:text" json:"decision_reason"`

	ExecutionStatus    string     `gorm:"type:varchar(20);not null;default:'NOT_STARTED';index" json:"execution_status"`
	ExecutionAttempts  int        `gorm:"not null;default:0" json:"execution_attempts"`
	ExecutionStartedAt *time.Time `json:"execution_started_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *ApprovalRequest) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Payload == "" {
		a.Payload = "{}"
	}
	if a.ExecutionStatus == "" {
		a.ExecutionStatus = ExecutionNotStarted
	}
	return nil
}

// IsDecided reports whether the request has left PENDING.
func (a *ApprovalRequest) IsDecided() bool {
	return a.Status != ApprovalPending
}
