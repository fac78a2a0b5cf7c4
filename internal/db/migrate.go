package db

import (
	"fmt"

	"github.com/zulandar/medqueue/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model in the journal.
func AllModels() []interface{} {
	return []interface{}{
		&models.Booking{},
	}
}

// AutoMigrate creates or updates the journal tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
