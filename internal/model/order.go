package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OrderStatus constants
const (
	OrderStatusPaid              = "PAID"
	OrderStatusFulfilled         = "FULFILLED"
	OrderStatusPartiallyRefunded = "PARTIALLY_REFUNDED"
	OrderStatusRefunded          = "REFUNDED"
	OrderStatusCancelled         = "CANCELLED"
)

// Order timeline event types
const (
	OrderEventRefundIssued = "REFUND_ISSUED"
)

// Order is the merchant order a refund targets. Amounts are minor units.
type Order struct {
	ID             uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TenantID       uuid.UUID    `gorm:"type:uuid;not null;index" json:"tenant_id"`
	OrderCode      string       `gorm:"type:varchar(100);uniqueIndex;not null" json:"order_code"`
	Status         string       `gorm:"type:varchar(30);not null;default:'PAID'" json:"status"`
	TotalAmount    int64        `gorm:"type:bigint;not null" json:"total_amount"`
	RefundedAmount int64        `gorm:"type:bigint;not null;default:0" json:"refunded_amount"`
	Currency       string       `gorm:"type:varchar(3);not null" json:"currency"`
	Events         []OrderEvent `gorm:"foreignKey:OrderID" json:"events,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// IsRefundable reports whether more money can be returned on this order.
func (o *Order) IsRefundable() bool {
	return o.Status != OrderStatusRefunded && o.Status != OrderStatusCancelled
}

// OrderEvent is an entry on the order timeline
type OrderEvent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"order_id"`
	Type      string     `gorm:"type:varchar(50);not null" json:"type"`
	Message   string     `gorm:"type:text" json:"message"`
	ActorID   *uuid.UUID `gorm:"type:uuid" json:"actor_id"`
	Metadata  string     `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time  `json:"created_at"`
}

func (e *OrderEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Metadata == "" {
		e.Metadata = "{}"
	}
	return nil
}
