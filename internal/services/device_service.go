package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/database"
	"github.com/altrii/altrii/internal/models"
	apperrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/logger"
	"github.com/altrii/altrii/pkg/metrics"
)

const (
	// MaxDevicesPerUser is the hard cap on devices one account may register.
	MaxDevicesPerUser = 3
	// MaxLockMinutes is the longest lock a single request may ask for (30 days).
	MaxLockMinutes = 30 * 24 * 60

	minDeviceNameLength = 2
	maxDeviceNameLength = 64

	// lockAttempts bounds retries when the stored lock changes between the conditional
	// update and the reload that explains its failure.
	lockAttempts = 3
)

// DeviceConfig tunes DeviceService limits.
type DeviceConfig struct {
	MaxPerUser     int
	MaxLockMinutes int
	StoreTimeout   time.Duration
}

// CreateDeviceInput describes a device registration.
type CreateDeviceInput struct {
	Name     string
	Platform string
}

// DeviceOption customises a DeviceService.
type DeviceOption func(*DeviceService)

// WithDeviceClock injects a custom clock primarily for testing.
func WithDeviceClock(clock func() time.Time) DeviceOption {
	return func(s *DeviceService) {
		if clock != nil {
			s.now = func() time.Time { return clock().UTC() }
		}
	}
}

// DeviceService owns device registration and the lock state machine.
type DeviceService struct {
	db     *gorm.DB
	oracle billing.Oracle
	cfg    DeviceConfig
	now    func() time.Time
	log    *zap.Logger
}

// NewDeviceService constructs a DeviceService.
func NewDeviceService(db *gorm.DB, oracle billing.Oracle, cfg DeviceConfig, opts ...DeviceOption) (*DeviceService, error) {
	if db == nil {
		return nil, errors.New("device service: db is required")
	}
	if oracle == nil {
		return nil, errors.New("device service: billing oracle is required")
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = MaxDevicesPerUser
	}
	if cfg.MaxLockMinutes <= 0 {
		cfg.MaxLockMinutes = MaxLockMinutes
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	svc := &DeviceService{
		db:     db,
		oracle: oracle,
		cfg:    cfg,
		now:    utcNow,
		log:    logger.WithModule("devices"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// MaxLockMinutes reports the configured lock ceiling.
func (s *DeviceService) MaxLockMinutes() int {
	return s.cfg.MaxLockMinutes
}

// List returns the actor's devices, oldest first.
func (s *DeviceService) List(ctx context.Context, actor Actor) ([]models.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var devices []models.Device
	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Where("user_id = ?", actor.UserID).
			Order("created_at ASC").
			Find(&devices).Error
	})
	if err != nil {
		return nil, fmt.Errorf("device service: list: %w", err)
	}
	return devices, nil
}

// Get returns a device owned by the actor. Devices owned by someone else are reported as
// missing.
func (s *DeviceService) Get(ctx context.Context, actor Actor, deviceID string) (*models.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var device *models.Device
	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		var err error
		device, err = findOwnedDevice(s.db.WithContext(ctx), actor.UserID, deviceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Create registers a device for an actor on an active plan. Each device occupies one of
// MaxPerUser slots, so concurrent registrations can never exceed the cap. The owner's
// blocking settings are copied onto the new device.
func (s *DeviceService) Create(ctx context.Context, actor Actor, input CreateDeviceInput) (*models.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	name, err := validateDeviceName(input.Name)
	if err != nil {
		return nil, err
	}
	platform := strings.ToLower(strings.TrimSpace(input.Platform))
	if platform == "" {
		platform = models.DefaultPlatform
	}

	if err := requireActivePlan(ctx, s.oracle, actor); err != nil {
		s.recordMutation("create", err)
		return nil, err
	}

	var device *models.Device
	for attempt := 0; attempt < s.cfg.MaxPerUser; attempt++ {
		device, err = s.createInSlot(ctx, actor, name, platform)
		if err == nil || !errors.Is(err, errSlotTaken) {
			break
		}
	}
	if errors.Is(err, errSlotTaken) {
		err = s.limitError()
	}
	s.recordMutation("create", err)
	if err != nil {
		return nil, err
	}

	s.log.Info("device created",
		zap.String("user_id", actor.UserID),
		zap.String("device_id", device.ID),
	)
	return device, nil
}

var errSlotTaken = errors.New("device slot taken")

func (s *DeviceService) createInSlot(ctx context.Context, actor Actor, name, platform string) (*models.Device, error) {
	var device *models.Device
	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var owner models.User
			if err := tx.Select("id", "blocking_settings").Take(&owner, "id = ?", actor.UserID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return apperrors.ErrUnauthorized
				}
				return err
			}

			var used []int
			if err := tx.Model(&models.DeviceSlot{}).Where("user_id = ?", actor.UserID).Pluck("slot", &used).Error; err != nil {
				return err
			}
			slot := firstFreeSlot(used, s.cfg.MaxPerUser)
			if slot == 0 {
				return s.limitError()
			}

			settings, err := inheritedSettings(owner.BlockingSettings)
			if err != nil {
				return err
			}

			device = &models.Device{
				UserID:           actor.UserID,
				Name:             name,
				Platform:         platform,
				BlockingSettings: settings,
			}
			if err := tx.Create(device).Error; err != nil {
				return err
			}

			reservation := models.DeviceSlot{UserID: actor.UserID, Slot: slot, DeviceID: device.ID}
			if err := tx.Create(&reservation).Error; err != nil {
				if database.IsUniqueViolation(err) {
					return errSlotTaken
				}
				return err
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Rename changes the display name of an owned device.
func (s *DeviceService) Rename(ctx context.Context, actor Actor, deviceID, name string) (*models.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	name, err := validateDeviceName(name)
	if err != nil {
		return nil, err
	}

	var device *models.Device
	err = storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		result := db.Model(&models.Device{}).
			Where("id = ? AND user_id = ?", deviceID, actor.UserID).
			Update("name", name)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		var findErr error
		device, findErr = findOwnedDevice(db, actor.UserID, deviceID)
		return findErr
	})
	s.recordMutation("rename", err)
	if err != nil {
		return nil, err
	}
	return device, nil
}

// Delete removes an owned device and frees its slot. Locked devices cannot be deleted; the
// lock check and the delete are one conditional statement.
func (s *DeviceService) Delete(ctx context.Context, actor Actor, deviceID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}

	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		for attempt := 0; attempt < lockAttempts; attempt++ {
			deleted, err := s.deleteUnlocked(ctx, actor, deviceID)
			if err != nil || deleted {
				return err
			}
		}
		return apperrors.ErrUpstreamUnavailable.WithMessage("device is being modified concurrently, retry")
	})
	s.recordMutation("delete", err)
	if err != nil {
		return err
	}

	s.log.Info("device deleted",
		zap.String("user_id", actor.UserID),
		zap.String("device_id", deviceID),
	)
	return nil
}

// deleteUnlocked removes the device when it is not locked at the current instant. A false
// result with no error means the device changed underneath the statement; the caller retries
// with a fresh clock.
func (s *DeviceService) deleteUnlocked(ctx context.Context, actor Actor, deviceID string) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.
			Where("id = ? AND user_id = ?", deviceID, actor.UserID).
			Where("lock_until IS NULL OR lock_until <= ?", s.now()).
			Delete(&models.Device{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			device, err := findOwnedDevice(tx, actor.UserID, deviceID)
			if err != nil {
				return err
			}
			if device.IsLocked(s.now()) {
				return lockedError(device, "device is locked; wait until the lock expires")
			}
			return nil
		}
		deleted = true
		return tx.Where("device_id = ?", deviceID).Delete(&models.DeviceSlot{}).Error
	})
	return deleted, err
}

// RequestLock sets or extends the device lock to now+minutes. A lock can only ever be
// extended: while a lock is active, a request ending earlier fails with InvalidState and
// the current end is returned in the error details.
func (s *DeviceService) RequestLock(ctx context.Context, actor Actor, deviceID string, minutes int) (*models.Device, error) {
	device, err := s.requestLock(ctx, actor, deviceID, minutes)
	result := "locked"
	if err != nil {
		result = strings.ToLower(apperrors.Code(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.LockRequests.WithLabelValues(result).Inc()
	return device, err
}

func (s *DeviceService) requestLock(ctx context.Context, actor Actor, deviceID string, minutes int) (*models.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if minutes <= 0 {
		return nil, apperrors.NewValidation(map[string]string{"minutes": "must be a positive whole number"})
	}
	if minutes > s.cfg.MaxLockMinutes {
		return nil, apperrors.ErrLimitExceeded.
			WithMessage(fmt.Sprintf("lock duration cannot exceed %d minutes", s.cfg.MaxLockMinutes)).
			WithDetail("max_minutes", s.cfg.MaxLockMinutes)
	}
	if err := requireActivePlan(ctx, s.oracle, actor); err != nil {
		return nil, err
	}

	var device *models.Device
	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		for attempt := 0; attempt < lockAttempts; attempt++ {
			now := s.now()
			requested := now.Add(time.Duration(minutes) * time.Minute)

			result := db.Model(&models.Device{}).
				Where("id = ? AND user_id = ?", deviceID, actor.UserID).
				Where("lock_until IS NULL OR lock_until <= ? OR lock_until <= ?", now, requested).
				Update("lock_until", requested)
			if result.Error != nil {
				return result.Error
			}

			current, err := findOwnedDevice(db, actor.UserID, deviceID)
			if err != nil {
				return err
			}
			if result.RowsAffected > 0 {
				device = current
				return nil
			}
			if current.IsLocked(now) && current.LockUntil.After(requested) {
				return lockedError(current, "cannot shorten existing lock")
			}
			// The lock changed between the update and the reload; try again.
		}
		return apperrors.ErrUpstreamUnavailable.WithMessage("lock is being modified concurrently, retry")
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("device locked",
		zap.String("user_id", actor.UserID),
		zap.String("device_id", device.ID),
		zap.Timep("lock_until", device.LockUntil),
	)
	return device, nil
}

// MarkSupervised records that the desktop helper placed the device in supervised mode.
// Repeating the call is a successful no-op.
func (s *DeviceService) MarkSupervised(ctx context.Context, actor Actor, deviceID string) (*models.Device, error) {
	device, err := s.setFlag(ctx, actor, deviceID, "supervised")
	s.recordMutation("supervise", err)
	return device, err
}

// MarkProfileInstalled records that the configuration profile was installed on the device.
func (s *DeviceService) MarkProfileInstalled(ctx context.Context, actor Actor, deviceID string) (*models.Device, error) {
	device, err := s.setFlag(ctx, actor, deviceID, "profile_installed")
	s.recordMutation("profile_installed", err)
	return device, err
}

func (s *DeviceService) setFlag(ctx context.Context, actor Actor, deviceID, column string) (*models.Device, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}

	var device *models.Device
	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		if err := db.Model(&models.Device{}).
			Where("id = ? AND user_id = ?", deviceID, actor.UserID).
			Update(column, true).Error; err != nil {
			return err
		}
		var err error
		device, err = findOwnedDevice(db, actor.UserID, deviceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return device, nil
}

func (s *DeviceService) limitError() error {
	return apperrors.ErrLimitExceeded.
		WithMessage(fmt.Sprintf("a maximum of %d devices can be registered", s.cfg.MaxPerUser)).
		WithDetail("max_devices", s.cfg.MaxPerUser)
}

func (s *DeviceService) recordMutation(operation string, err error) {
	result := "success"
	if err != nil {
		result = strings.ToLower(apperrors.Code(err))
		if result == "" {
			result = "error"
		}
	}
	metrics.DeviceMutations.WithLabelValues(operation, result).Inc()
}

func findOwnedDevice(db *gorm.DB, userID, deviceID string) (*models.Device, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, apperrors.ErrNotFound
	}
	var device models.Device
	err := db.Take(&device, "id = ? AND user_id = ?", deviceID, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func requireActivePlan(ctx context.Context, oracle billing.Oracle, actor Actor) error {
	status, err := oracle.PlanStatus(ensureContext(ctx), actor.UserID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.ErrUnauthorized
	}
	if err != nil {
		return err
	}
	if !billing.IsActive(status) {
		return apperrors.ErrPaymentRequired.WithDetail("plan_status", status)
	}
	return nil
}

func lockedError(device *models.Device, message string) error {
	err := apperrors.ErrInvalidState.WithMessage(message)
	if device != nil && device.LockUntil != nil {
		err = err.WithDetail("current_lock_until", device.LockUntil.UTC().Format(time.RFC3339))
	}
	return err
}

func validateDeviceName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	length := utf8.RuneCountInString(name)
	if length < minDeviceNameLength {
		return "", apperrors.NewValidation(map[string]string{"name": fmt.Sprintf("must be at least %d characters", minDeviceNameLength)})
	}
	if length > maxDeviceNameLength {
		return "", apperrors.NewValidation(map[string]string{"name": fmt.Sprintf("must be at most %d characters", maxDeviceNameLength)})
	}
	return name, nil
}

func firstFreeSlot(used []int, max int) int {
	taken := make(map[int]struct{}, len(used))
	for _, slot := range used {
		taken[slot] = struct{}{}
	}
	for slot := 1; slot <= max; slot++ {
		if _, ok := taken[slot]; !ok {
			return slot
		}
	}
	return 0
}

// inheritedSettings copies the owner's stored settings, or the defaults when none exist.
func inheritedSettings(raw datatypes.JSON) (datatypes.JSON, error) {
	settings, ok, err := decodeSettings(raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		settings = blocking.DefaultSettings()
	}
	return encodeSettings(settings)
}
