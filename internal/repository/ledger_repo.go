package repository

import (
	"context"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerRepository is append-only: there is no update or delete.
type LedgerRepository interface {
	Create(ctx context.Context, entry *model.LedgerEntry) error
	ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.LedgerEntry, error)
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.LedgerEntry, error)
	SignedSum(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

type ledgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) LedgerRepository {
	return &ledgerRepository{db: db}
}

func (r *ledgerRepository) Create(ctx context.Context, entry *model.LedgerEntry) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *ledgerRepository) ListRecent(ctx context.Context, tenantID uuid.UUID, limit int) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := GetDB(ctx, r.db).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *ledgerRepository) ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	err := GetDB(ctx, r.db).
		Where("reference_type = ? AND reference_id = ?", referenceType, referenceID).
		Order("created_at ASC").
		Find(&entries).Error
	return entries, err
}

// SignedSum returns credits minus debits for the tenant.
func (r *ledgerRepository) SignedSum(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var sum int64
	err := GetDB(ctx, r.db).Model(&model.LedgerEntry{}).
		Select("COALESCE(SUM(CASE WHEN direction = ? THEN amount ELSE -amount END), 0)", model.DirectionCredit).
		Where("tenant_id = ?", tenantID).
		Scan(&sum).Error
	return sum, err
}
