package database

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/models"
)

// schema lists the persisted models. Devices reference users and slots reference
// both, so order matters on drivers that enforce foreign keys.
func schema() []any {
	return []any{
		&models.User{},
		&models.Device{},
		&models.DeviceSlot{},
		&models.BillingEvent{},
		&models.CacheEntry{},
		&models.SystemSetting{},
	}
}

// Migrate creates or updates every table on an opened handle.
func Migrate(db *gorm.DB) error {
	if db == nil {
		return errors.New("nil database handle")
	}
	for _, model := range schema() {
		if err := db.AutoMigrate(model); err != nil {
			return fmt.Errorf("migrate %T: %w", model, err)
		}
	}
	return nil
}
