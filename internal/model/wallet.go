package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerEntry direction constants
const (
	DirectionDebit  = "DEBIT"
	DirectionCredit = "CREDIT"
)

// Ledger reference types
const (
	RefTypeRefund             = "REFUND"
	RefTypeWithdrawal         = "WITHDRAWAL"
	RefTypeWithdrawalReversal = "WITHDRAWAL_REVERSAL"
	RefTypeReferralReward     = "REFERRAL_REWARD"
	RefTypeSettlement         = "SETTLEMENT"
)

// Wallet holds the materialized balance of a tenant in minor currency units.
// It is only ever mutated through guarded SQL updates, never read-modify-write.
type Wallet struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID          uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" json:"tenant_id"`
	AvailableBalance  int64      `gorm:"type:bigint;not null;default:0" json:"available_balance"`
	Currency          string     `gorm:"type:varchar(3);not null;default:'NGN'" json:"currency"`
	PinHash           string     `gorm:"type:varchar(255)" json:"-"`
	PinSet            bool       `gorm:"not null;default:false" json:"pin_set"`
	FailedPinAttempts int        `gorm:"not null;default:0" json:"failed_pin_attempts"`
	LockedUntil       *time.Time `json:"locked_until"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// IsLocked reports whether PIN entry is currently blocked.
func (w *Wallet) IsLocked(now time.Time) bool {
	return w.LockedUntil != nil && w.LockedUntil.After(now)
}

// LedgerEntry is an append-only record of every balance-affecting event.
// Amount is always positive; Direction carries the sign.
type LedgerEntry struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID      uuid.UUID `gorm:"type:uuid;not null;index" json:"tenant_id"`
	ReferenceType string    `gorm:"type:varchar(30);not null;index:idx_ledger_reference" json:"reference_type"`
	ReferenceID   string    `gorm:"type:varchar(100);not null;index:idx_ledger_reference" json:"reference_id"`
	Direction     string    `gorm:"type:varchar(10);not null" json:"direction"` // DEBIT, CREDIT
	Amount        int64     `gorm:"type:bigint;not null" json:"amount"`
	Currency      string    `gorm:"type:varchar(3);not null" json:"currency"`
	Description   string    `gorm:"type:text" json:"description"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// SignedAmount returns the amount with the direction applied.
func (e LedgerEntry) SignedAmount() int64 {
	if e.Direction == DirectionDebit {
		return -e.Amount
	}
	return e.Amount
}
