package database

import (
	"fmt"

	"merchantops/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewConnection initializes a new connection pool using GORM and migrates the schema.
func NewConnection(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Models lists every persisted model in dependency order.
func Models() []interface{} {
	return []interface{}{
		&model.Permission{},
		&model.Role{},
		&model.Membership{},
		&model.ApprovalRequest{},
		&model.ExecutionLog{},
		&model.Wallet{},
		&model.LedgerEntry{},
		&model.Withdrawal{},
		&model.Order{},
		&model.OrderEvent{},
		&model.OutboxMessage{},
		&model.AuditLog{},
	}
}

// AutoMigrate creates or updates tables for every model.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
