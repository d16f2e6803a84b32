package repository

import (
	"context"
	"time"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OutboxRepository interface {
	Create(ctx context.Context, msg *model.OutboxMessage) error
	ListPending(ctx context.Context, topic string, limit int) ([]model.OutboxMessage, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

type outboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Create(ctx context.Context, msg *model.OutboxMessage) error {
	return GetDB(ctx, r.db).Create(msg).Error
}

func (r *outboxRepository) ListPending(ctx context.Context, topic string, limit int) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	query := GetDB(ctx, r.db).Where("status = ?", model.OutboxPending)
	if topic != "" {
		query = query.Where("topic = ?", topic)
	}
	err := query.Order("created_at ASC").Limit(limit).Find(&msgs).Error
	return msgs, err
}

func (r *outboxRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxPending).
		Updates(map[string]interface{}{"status": model.OutboxDelivered, "delivered_at": at})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
