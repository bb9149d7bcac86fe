package migrations

import (
	"context"

	"order_packer/internal/models"
	"order_packer/pkg/logger"

	"gorm.io/gorm"
)

// RunMigrations creates or updates the fulfillment tables. Existing rows are
// kept so a restart resumes pending orders.
func RunMigrations(db *gorm.DB, log *logger.Logger) error {
	if log == nil {
		log = logger.Nop()
	}
	ctx := context.Background()
	log.Info(ctx, "running database migrations")

	err := db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
	)
	if err != nil {
		return err
	}

	log.Info(ctx, "database migrations completed")
	return nil
}

// Reset drops and recreates the fulfillment tables.
func Reset(db *gorm.DB, log *logger.Logger) error {
	if err := db.Migrator().DropTable(&models.OrderItem{}, &models.Order{}); err != nil {
		return err
	}
	return RunMigrations(db, log)
}
