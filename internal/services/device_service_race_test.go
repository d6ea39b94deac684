package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/models"
	apperrors "github.com/altrii/altrii/pkg/errors"
)

// steppingClock advances by step on every read.
type steppingClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.next
	c.next = c.next.Add(c.step)
	return now
}

func TestDeviceServiceConcurrentLocksKeepLongest(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFixedClock()
	svc := newTestDeviceService(t, db, clock.Now)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)

	requests := []int{60, 30, 1440, 10, 720, 1440, 5, 300, 90, 1}
	longest := 1440

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted []int
	)
	for _, minutes := range requests {
		wg.Add(1)
		go func(minutes int) {
			defer wg.Done()
			_, err := svc.RequestLock(ctx, actor, device.ID, minutes)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, minutes)
			case errors.Is(err, apperrors.ErrInvalidState):
			default:
				t.Errorf("lock %d minutes: unexpected error: %v", minutes, err)
			}
		}(minutes)
	}
	wg.Wait()

	require.Contains(t, accepted, longest, "the longest request can never be refused")

	var stored models.Device
	require.NoError(t, db.First(&stored, "id = ?", device.ID).Error)
	require.NotNil(t, stored.LockUntil)
	require.True(t, stored.LockUntil.Equal(clock.Now().Add(time.Duration(longest)*time.Minute)),
		"lock_until %s must match the longest request", stored.LockUntil)
}

func TestDeviceServiceLockRetriesWhenLockChangesUnderneath(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFixedClock()
	svc := newTestDeviceService(t, db, clock.Now)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)
	longer := clock.Now().Add(2 * time.Hour)
	require.NoError(t, db.Model(&models.Device{}).Where("id = ?", device.ID).Update("lock_until", longer).Error)

	// The first reload after the refused update finds the lock already cleared, as if
	// another writer had raced in between.
	cleared := 0
	require.NoError(t, db.Callback().Query().Before("gorm:query").Register("test:clear_lock", func(tx *gorm.DB) {
		if tx.Statement.Table != "devices" || cleared > 0 {
			return
		}
		cleared++
		err := tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE devices SET lock_until = NULL WHERE id = ?", device.ID).Error
		if err != nil {
			t.Errorf("clear lock: %v", err)
		}
	}))

	locked, err := svc.RequestLock(ctx, actor, device.ID, 60)
	require.NoError(t, err)
	require.Equal(t, 1, cleared)
	require.True(t, locked.LockUntil.Equal(clock.Now().Add(60*time.Minute)))
}

// collideSlots makes the slot insert of a registration hit a row written moments before
// it. With always set every attempt collides, otherwise only the first.
func collideSlots(t *testing.T, db *gorm.DB, always bool) *int {
	t.Helper()

	collisions := 0
	injecting := false
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("test:collide_slot", func(tx *gorm.DB) {
		slot, ok := tx.Statement.Dest.(*models.DeviceSlot)
		if !ok || injecting || (!always && collisions > 0) {
			return
		}
		injecting = true
		defer func() { injecting = false }()
		collisions++

		rival := &models.DeviceSlot{UserID: slot.UserID, Slot: slot.Slot, DeviceID: uuid.NewString()}
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(rival).Error; err != nil {
			t.Errorf("insert rival slot: %v", err)
		}
	}))
	return &collisions
}

func TestDeviceServiceCreateRetriesAfterSlotCollision(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	collisions := collideSlots(t, db, false)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)
	require.Equal(t, 1, *collisions)

	var slots []models.DeviceSlot
	require.NoError(t, db.Where("user_id = ?", actor.UserID).Find(&slots).Error)
	require.Len(t, slots, 1)
	require.Equal(t, device.ID, slots[0].DeviceID)
}

func TestDeviceServiceSlotCollisionsEndInLimitExceeded(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	for _, name := range []string{"Phone", "iPad"} {
		_, err := svc.Create(ctx, actor, CreateDeviceInput{Name: name})
		require.NoError(t, err)
	}

	collisions := collideSlots(t, db, true)

	_, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Kid phone"})
	require.True(t, errors.Is(err, apperrors.ErrLimitExceeded), "got %v", err)
	require.Equal(t, MaxDevicesPerUser, *collisions)

	var devices, slots int64
	require.NoError(t, db.Model(&models.Device{}).Where("user_id = ?", actor.UserID).Count(&devices).Error)
	require.NoError(t, db.Model(&models.DeviceSlot{}).Where("user_id = ?", actor.UserID).Count(&slots).Error)
	require.EqualValues(t, 2, devices)
	require.EqualValues(t, 2, slots)
}

func TestDeviceServiceDeleteRechecksLockWithFreshClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("lock expired after the conditional delete", func(t *testing.T) {
		db := openServiceTestDB(t)
		clock := &steppingClock{next: base, step: time.Minute}
		svc := newTestDeviceService(t, db, clock.Now)
		user, actor := createTestUser(t, db, models.PlanStatusActive)

		until := base.Add(30 * time.Second)
		device := &models.Device{UserID: user.ID, Name: "Phone", LockUntil: &until}
		require.NoError(t, db.Create(device).Error)
		require.NoError(t, db.Create(&models.DeviceSlot{UserID: user.ID, Slot: 1, DeviceID: device.ID}).Error)

		require.NoError(t, svc.Delete(context.Background(), actor, device.ID))

		var remaining int64
		require.NoError(t, db.Model(&models.DeviceSlot{}).Where("user_id = ?", user.ID).Count(&remaining).Error)
		require.Zero(t, remaining)
	})

	t.Run("lock still active", func(t *testing.T) {
		db := openServiceTestDB(t)
		clock := &steppingClock{next: base, step: time.Minute}
		svc := newTestDeviceService(t, db, clock.Now)
		user, actor := createTestUser(t, db, models.PlanStatusActive)

		until := base.Add(10 * time.Minute)
		device := &models.Device{UserID: user.ID, Name: "Phone", LockUntil: &until}
		require.NoError(t, db.Create(device).Error)

		err := svc.Delete(context.Background(), actor, device.ID)
		require.True(t, errors.Is(err, apperrors.ErrInvalidState), "got %v", err)
	})
}
