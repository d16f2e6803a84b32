package repository

import (
	"context"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ExecutionLogRepository interface {
	Create(ctx context.Context, entry *model.ExecutionLog) error
	FindSuccess(ctx context.Context, requestID uuid.UUID) (*model.ExecutionLog, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ExecutionLog, error)
	CountByStatus(ctx context.Context, requestID uuid.UUID, status string) (int64, error)
}

type executionLogRepository struct {
	db *gorm.DB
}

func NewExecutionLogRepository(db *gorm.DB) ExecutionLogRepository {
	return &executionLogRepository{db: db}
}

func (r *executionLogRepository) Create(ctx context.Context, entry *model.ExecutionLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

// FindSuccess returns gorm.ErrRecordNotFound when the request never succeeded.
func (r *executionLogRepository) FindSuccess(ctx context.Context, requestID uuid.UUID) (*model.ExecutionLog, error) {
	var entry model.ExecutionLog
	if err := GetDB(ctx, r.db).
		Where("approval_request_id = ? AND status = ?", requestID, model.ExecLogSuccess).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *executionLogRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.ExecutionLog, error) {
	var logs []model.ExecutionLog
	err := GetDB(ctx, r.db).
		Where("approval_request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

func (r *executionLogRepository) CountByStatus(ctx context.Context, requestID uuid.UUID, status string) (int64, error) {
	var n int64
	err := GetDB(ctx, r.db).Model(&model.ExecutionLog{}).
		Where("approval_request_id = ? AND status = ?", requestID, status).
		Count(&n).Error
	return n, err
}
