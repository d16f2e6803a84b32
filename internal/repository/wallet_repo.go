package repository

import (
	"context"
	"time"

	"merchantops/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository mutates balances only through guarded SQL updates.
type WalletRepository interface {
	FindByTenant(ctx context.Context, tenantID uuid.UUID) (*model.Wallet, error)
	Ensure(ctx context.Context, tenantID uuid.UUID, currency string) error
	Debit(ctx context.Context, tenantID uuid.UUID, amount int64) (bool, error)
	Credit(ctx context.Context, tenantID uuid.UUID, amount int64) (bool, error)
	SetPin(ctx context.Context, tenantID uuid.UUID, hash string) error
	RecordPinFailure(ctx context.Context, tenantID uuid.UUID, maxAttempts int, lockUntil time.Time) error
	ResetPinFailures(ctx context.Context, tenantID uuid.UUID) error
}

type walletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) FindByTenant(ctx context.Context, tenantID uuid.UUID) (*model.Wallet, error) {
	var w model.Wallet
	if err := GetDB(ctx, r.db).First(&w, "tenant_id = ?", tenantID).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

// Ensure creates the tenant wallet with a zero balance if it does not exist yet.
func (r *walletRepository) Ensure(ctx context.Context, tenantID uuid.UUID, currency string) error {
	w := &model.Wallet{TenantID: tenantID, Currency: currency}
	return GetDB(ctx, r.db).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tenant_id"}}, DoNothing: true}).
		Create(w).Error
}

// Debit decrements the balance only if it covers amount. It reports false
// when the guard rejected the update (missing wallet or insufficient funds).
func (r *walletRepository) Debit(ctx context.Context, tenantID uuid.UUID, amount int64) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Wallet{}).
		Where("tenant_id = ? AND available_balance >= ?", tenantID, amount).
		Update("available_balance", gorm.Expr("available_balance - ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *walletRepository) Credit(ctx context.Context, tenantID uuid.UUID, amount int64) (bool, error) {
	res := GetDB(ctx, r.db).Model(&model.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Update("available_balance", gorm.Expr("available_balance + ?", amount))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *walletRepository) SetPin(ctx context.Context, tenantID uuid.UUID, hash string) error {
	return GetDB(ctx, r.db).Model(&model.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"pin_hash":            hash,
			"pin_set":             true,
			"failed_pin_attempts": 0,
			"locked_until":        nil,
		}).Error
}

// RecordPinFailure bumps the failure counter and sets locked_until once the
// counter reaches maxAttempts.
func (r *walletRepository) RecordPinFailure(ctx context.Context, tenantID uuid.UUID, maxAttempts int, lockUntil time.Time) error {
	return GetDB(ctx, r.db).Model(&model.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"failed_pin_attempts": gorm.Expr("failed_pin_attempts + 1"),
			"locked_until":        gorm.Expr("CASE WHEN failed_pin_attempts + 1 >= ? THEN ? ELSE locked_until END", maxAttempts, lockUntil),
		}).Error
}

func (r *walletRepository) ResetPinFailures(ctx context.Context, tenantID uuid.UUID) error {
	return GetDB(ctx, r.db).Model(&model.Wallet{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]interface{}{
			"failed_pin_attempts": 0,
			"locked_until":        nil,
		}).Error
}
