package db

import (
	"fmt"

	"github.com/zulandar/fleetsync/internal/models"
	"gorm.io/gorm"
)

// AllModels returns every GORM model backing the offline queue.
func AllModels() []interface{} {
	return []interface{}{
		&models.QueuedCommand{},
		&models.Reconciliation{},
		&models.CommandFailure{},
	}
}

// AutoMigrate creates or updates the queue tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Stats summarizes table sizes for `fleetsync db init` and the status API.
type Stats struct {
	Queued          int64
	Executing       int64
	Reconciliations int64
	Failures        int64
}

// CollectStats counts rows in each queue table.
func CollectStats(db *gorm.DB) (Stats, error) {
	var s Stats
	if err := db.Model(&models.QueuedCommand{}).Count(&s.Queued).Error; err != nil {
		return s, fmt.Errorf("db: count queued: %w", err)
	}
	if err := db.Model(&models.QueuedCommand{}).Where("is_executing = ?", true).Count(&s.Executing).Error; err != nil {
		return s, fmt.Errorf("db: count executing: %w", err)
	}
	if err := db.Model(&models.Reconciliation{}).Count(&s.Reconciliations).Error; err != nil {
		return s, fmt.Errorf("db: count reconciliations: %w", err)
	}
	if err := db.Model(&models.CommandFailure{}).Where("dismissed = ?", false).Count(&s.Failures).Error; err != nil {
		return s, fmt.Errorf("db: count failures: %w", err)
	}
	return s, nil
}
