package repository

import (
	"context"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderRepository interface {
	Create(ctx context.Context, order *model.Order) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	FindByIDWithEvents(ctx context.Context, id uuid.UUID) (*model.Order, error)
	ApplyRefund(ctx context.Context, id uuid.UUID, amount int64) (bool, error)
	CreateEvent(ctx context.Context, event *model.OrderEvent) error
}

type orderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *model.Order) error {
	return GetDB(ctx, r.db).Create(order).Error
}

func (r *orderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) FindByIDWithEvents(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	var order model.Order
	if err := GetDB(ctx, r.db).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&order, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// ApplyRefund adds amount to refunded_amount and moves the order to REFUNDED or
// PARTIALLY_REFUNDED, as long as the order is refundable and the total is not exceeded.
func (r *orderRepository) ApplyRefund(ctx context.Context, id uuid.UUID, amount int64) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Order{}).
		Where("id = ? AND status NOT IN ? AND refunded_amount + ? <= total_amount",
			id, []string{model.OrderStatusRefunded, model.OrderStatusCancelled}, amount).
		Updates(map[string]interface{}{
			"refunded_amount": gorm.Expr("refunded_amount + ?", amount),
			"status": gorm.Expr("CASE WHEN refunded_amount + ? >= total_amount THEN ? ELSE ? END",
				amount, model.OrderStatusRefunded, model.OrderStatusPartiallyRefunded),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *orderRepository) CreateEvent(ctx context.Context, event *model.OrderEvent) error {
	return GetDB(ctx, r.db).Create(event).Error
}
