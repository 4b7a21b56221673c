package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"taskflow/internal/model"
)

// Models lists every persisted entity in foreign-key order.
func Models() []interface{} {
	return []interface{}{
		&model.User{},
		&model.Campaign{},
		&model.Submission{},
		&model.LedgerEntry{},
		&model.Incident{},
	}
}

// Migrate creates or updates the schema. When reset is set, existing tables are
// dropped first (children before parents).
func Migrate(gormDB *gorm.DB, reset bool, log *zap.Logger) error {
	models := Models()
	if reset {
		log.Warn("RESET_DB=true detected, dropping all tables")
		for i := len(models) - 1; i >= 0; i-- {
			if err := gormDB.Migrator().DropTable(models[i]); err != nil {
				log.Warn("failed to drop table (may not exist)", zap.Error(err))
			}
		}
	}
	if err := gormDB.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}
	return nil
}
