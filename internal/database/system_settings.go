package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/altrii/altrii/internal/models"
)

// JWTSecretSetting holds the generated token signing secret when none is configured.
const JWTSecretSetting = "auth.jwt_secret"

// GetSystemSetting returns the stored value for key, or "" when the key or the table is
// missing.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", errors.New("system settings: db is nil")
	}
	db = db.WithContext(ctx)
	if !db.Migrator().HasTable(&models.SystemSetting{}) {
		return "", nil
	}

	var setting models.SystemSetting
	err := db.Take(&setting, clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
}

// UpsertSystemSetting writes value for key, replacing any previous value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	return writeSystemSetting(ctx, db, key, value, clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	})
}

// EnsureJWTSecret returns the persisted signing secret. When none exists candidate is
// inserted; if another instance raced us its value wins and is returned instead.
func EnsureJWTSecret(ctx context.Context, db *gorm.DB, candidate string) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", errors.New("system settings: jwt secret is empty")
	}

	err := writeSystemSetting(ctx, db, JWTSecretSetting, candidate, clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	})
	if err != nil {
		return "", err
	}

	stored, err := GetSystemSetting(ctx, db, JWTSecretSetting)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(stored) == "" {
		return "", errors.New("system settings: jwt secret was not persisted")
	}
	return stored, nil
}

func writeSystemSetting(ctx context.Context, db *gorm.DB, key, value string, conflict clause.OnConflict) error {
	if db == nil {
		return errors.New("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).Clauses(conflict).Create(&record).Error; err != nil {
		return fmt.Errorf("system settings: write %q: %w", key, err)
	}
	return nil
}
