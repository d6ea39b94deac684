package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/models"
	apperrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/logger"
)

// DeviceSettings is a device's effective configuration. Inherited is true when the device
// has none of its own and the owner's settings apply.
type DeviceSettings struct {
	DeviceID  string            `json:"device_id"`
	Settings  blocking.Settings `json:"settings"`
	Inherited bool              `json:"inherited"`
}

// SettingsService reads and writes blocking settings at user and device level.
type SettingsService struct {
	db      *gorm.DB
	timeout time.Duration
	now     func() time.Time
	log     *zap.Logger
}

// NewSettingsService constructs a SettingsService.
func NewSettingsService(db *gorm.DB, timeout time.Duration) (*SettingsService, error) {
	if db == nil {
		return nil, errors.New("settings service: db is required")
	}
	return &SettingsService{
		db:      db,
		timeout: timeout,
		now:     utcNow,
		log:     logger.WithModule("settings"),
	}, nil
}

// GetUserSettings returns the actor's account-level settings, or the defaults when unset.
func (s *SettingsService) GetUserSettings(ctx context.Context, actor Actor) (blocking.Settings, error) {
	if err := requireActor(actor); err != nil {
		return blocking.Settings{}, err
	}

	var user *models.User
	err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		var err error
		user, err = loadUser(s.db.WithContext(ctx), actor.UserID)
		return err
	})
	if err != nil {
		return blocking.Settings{}, err
	}
	return userSettings(user)
}

// UpdateUserSettings normalises and stores account-level settings. Existing devices keep
// their own copies; only devices without settings follow the new values.
func (s *SettingsService) UpdateUserSettings(ctx context.Context, actor Actor, settings blocking.Settings) (blocking.Settings, error) {
	if err := requireActor(actor); err != nil {
		return blocking.Settings{}, err
	}

	settings = settings.Normalized()
	raw, err := encodeSettings(settings)
	if err != nil {
		return blocking.Settings{}, err
	}

	err = storeCall(ctx, s.timeout, func(ctx context.Context) error {
		result := s.db.WithContext(ctx).Model(&models.User{}).
			Where("id = ?", actor.UserID).
			Update("blocking_settings", raw)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrUnauthorized
		}
		return nil
	})
	if err != nil {
		return blocking.Settings{}, err
	}

	s.log.Info("user settings updated", zap.String("user_id", actor.UserID))
	return settings, nil
}

// GetDeviceSettings returns the device's own settings or the owner's as a fallback.
func (s *SettingsService) GetDeviceSettings(ctx context.Context, actor Actor, deviceID string) (*DeviceSettings, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var result *DeviceSettings
	err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		device, err := findOwnedDevice(db, actor.UserID, deviceID)
		if err != nil {
			return err
		}
		result, err = effectiveSettings(db, device)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateDeviceSettings stores settings on one device. A locked device keeps its settings
// until the lock expires.
func (s *SettingsService) UpdateDeviceSettings(ctx context.Context, actor Actor, deviceID string, settings blocking.Settings) (*DeviceSettings, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	settings = settings.Normalized()
	raw, err := encodeSettings(settings)
	if err != nil {
		return nil, err
	}

	err = storeCall(ctx, s.timeout, func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		for attempt := 0; attempt < lockAttempts; attempt++ {
			result := db.Model(&models.Device{}).
				Where("id = ? AND user_id = ?", deviceID, actor.UserID).
				Where("lock_until IS NULL OR lock_until <= ?", s.now()).
				Update("blocking_settings", raw)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected > 0 {
				return nil
			}

			// Zero rows: missing, locked, or (on MySQL) nothing changed.
			device, err := findOwnedDevice(db, actor.UserID, deviceID)
			if err != nil {
				return err
			}
			if device.IsLocked(s.now()) {
				return lockedError(device, "device is locked; settings cannot change until the lock expires")
			}
			stored, ok, err := decodeSettings(device.BlockingSettings)
			if err != nil {
				return err
			}
			if ok && reflect.DeepEqual(stored, settings) {
				return nil
			}
		}
		return apperrors.ErrUpstreamUnavailable.WithMessage("device is being modified concurrently, retry")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("device settings updated",
		zap.String("user_id", actor.UserID),
		zap.String("device_id", deviceID),
	)
	return &DeviceSettings{DeviceID: deviceID, Settings: settings}, nil
}

func effectiveSettings(db *gorm.DB, device *models.Device) (*DeviceSettings, error) {
	settings, ok, err := decodeSettings(device.BlockingSettings)
	if err != nil {
		return nil, err
	}
	if ok {
		return &DeviceSettings{DeviceID: device.ID, Settings: settings}, nil
	}

	owner, err := loadUser(db, device.UserID)
	if err != nil {
		return nil, err
	}
	settings, err = userSettings(owner)
	if err != nil {
		return nil, err
	}
	return &DeviceSettings{DeviceID: device.ID, Settings: settings, Inherited: true}, nil
}

func loadUser(db *gorm.DB, userID string) (*models.User, error) {
	var user models.User
	err := db.Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func userSettings(user *models.User) (blocking.Settings, error) {
	settings, ok, err := decodeSettings(user.BlockingSettings)
	if err != nil {
		return blocking.Settings{}, err
	}
	if !ok {
		return blocking.DefaultSettings(), nil
	}
	return settings, nil
}

// decodeSettings reports ok=false for absent documents.
func decodeSettings(raw datatypes.JSON) (blocking.Settings, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return blocking.Settings{}, false, nil
	}
	var settings blocking.Settings
	if err := json.Unmarshal(trimmed, &settings); err != nil {
		return blocking.Settings{}, false, fmt.Errorf("decode blocking settings: %w", err)
	}
	return settings.Normalized(), true, nil
}

func encodeSettings(settings blocking.Settings) (datatypes.JSON, error) {
	settings = settings.Normalized()
	raw, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode blocking settings: %w", err)
	}
	return datatypes.JSON(raw), nil
}
