package repository

import (
	"context"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type WithdrawalRepository interface {
	Create(ctx context.Context, w *model.Withdrawal) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]model.Withdrawal, int64, error)
	Transition(ctx context.Context, id uuid.UUID, from string, fields map[string]interface{}) (bool, error)
}

type withdrawalRepository struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) Create(ctx context.Context, w *model.Withdrawal) error {
	return GetDB(ctx, r.db).Create(w).Error
}

func (r *withdrawalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := GetDB(ctx, r.db).First(&w, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *withdrawalRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]model.Withdrawal, int64, error) {
	var items []model.Withdrawal
	var total int64

	query := GetDB(ctx, r.db).Model(&model.Withdrawal{}).Where("tenant_id = ?", tenantID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Transition applies fields only while the withdrawal is still in status from.
func (r *withdrawalRepository) Transition(ctx context.Context, id uuid.UUID, from string, fields map[string]interface{}) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Withdrawal{}).
		Where("id = ? AND status = ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
