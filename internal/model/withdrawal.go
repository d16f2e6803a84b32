package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Withdrawal status constants
const (
	WithdrawalPendingOTP = "PENDING_OTP"
	WithdrawalProcessing = "PROCESSING"
	WithdrawalCompleted  = "COMPLETED"
	WithdrawalFailed     = "FAILED"
)

// Withdrawal is a two-phase payout: request, then OTP confirmation, then provider execution.
type Withdrawal struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"tenant_id"`
	RequestedBy   uuid.UUID  `gorm:"type:uuid;not null" json:"requested_by"`
	Amount        int64      `gorm:"type:bigint;not null" json:"amount"`
	Currency      string     `gorm:"type:varchar(3);not null" json:"currency"`
	BankAccountID string     `gorm:"type:varchar(100)" json:"bank_account_id"`
	ReferenceCode string     `gorm:"type:varchar(30);uniqueIndex;not null" json:"reference_code"`
	Status        string     `gorm:"type:varchar(20);not null;index" json:"status"`
	OTPCode       *string    `gorm:"column:otp_code;type:varchar(10)" json:"-"`
	OTPExpiresAt  *time.Time `gorm:"column:otp_expires_at" json:"otp_expires_at"`
	ProviderRef   string     `gorm:"type:varchar(100)" json:"provider_ref"`
	FailureReason string     `gorm:"type:text" json:"failure_reason"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (w *Withdrawal) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
