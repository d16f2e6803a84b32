// Package testutil provides an in-memory database and fixtures for package tests.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"merchantops/internal/database"
	"merchantops/internal/model"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a fresh in-memory SQLite database with the full schema.
// The pool is limited to one connection so every transaction is serialized,
// which makes guarded updates behave like row locks in postgres.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateWallet seeds a wallet for tenantID with the given balance and a
// matching CREDIT ledger entry so the ledger reconciles.
func CreateWallet(t testing.TB, db *gorm.DB, tenantID uuid.UUID, balance int64) *model.Wallet {
	t.Helper()

	w := &model.Wallet{TenantID: tenantID, AvailableBalance: balance, Currency: "NGN"}
	require.NoError(t, db.Create(w).Error)
	if balance > 0 {
		require.NoError(t, db.Create(&model.LedgerEntry{
			TenantID:      tenantID,
			ReferenceType: model.RefTypeSettlement,
			ReferenceID:   "opening-balance",
			Direction:     model.DirectionCredit,
			Amount:        balance,
			Currency:      "NGN",
			Description:   "opening balance",
		}).Error)
	}
	return w
}

// CreateOrder seeds a PAID order for tenantID.
func CreateOrder(t testing.TB, db *gorm.DB, tenantID uuid.UUID, total int64) *model.Order {
	t.Helper()

	o := &model.Order{
		TenantID:    tenantID,
		OrderCode:   "ORD-" + uuid.NewString()[:8],
		Status:      model.OrderStatusPaid,
		TotalAmount: total,
		Currency:    "NGN",
	}
	require.NoError(t, db.Create(o).Error)
	return o
}

// Balance reads the wallet balance straight from the table.
func Balance(t testing.TB, db *gorm.DB, tenantID uuid.UUID) int64 {
	t.Helper()

	var w model.Wallet
	require.NoError(t, db.WithContext(context.Background()).First(&w, "tenant_id = ?", tenantID).Error)
	return w.AvailableBalance
}

// Count returns the number of rows of m matching the optional where clause.
func Count(t testing.TB, db *gorm.DB, m interface{}, where string, args ...interface{}) int64 {
	t.Helper()

	var n int64
	q := db.Model(m)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
