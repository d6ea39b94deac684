package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/models"
	apperrors "github.com/altrii/altrii/pkg/errors"
)

func TestDeviceServiceCreateInheritsSettingsAndEnforcesCap(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	for _, name := range []string{"Phone", "iPad", "Kid phone"} {
		device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: name})
		require.NoError(t, err)
		require.Equal(t, models.DefaultPlatform, device.Platform)
		require.JSONEq(t, `{"adult":true,"social":false,"gambling":false,"customAllowedDomains":[]}`, string(device.BlockingSettings))
	}

	_, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "One too many"})
	require.True(t, errors.Is(err, apperrors.ErrLimitExceeded))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, 3, appErr.Details["max_devices"])

	devices, err := svc.List(ctx, actor)
	require.NoError(t, err)
	require.Len(t, devices, 3)
}

func TestDeviceServiceConcurrentCreateNeverExceedsCap(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		limited int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(context.Background(), actor, CreateDeviceInput{Name: "Racer"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, apperrors.ErrLimitExceeded):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, MaxDevicesPerUser, created)
	require.Equal(t, workers-MaxDevicesPerUser, limited)

	var count int64
	require.NoError(t, db.Model(&models.Device{}).Where("user_id = ?", actor.UserID).Count(&count).Error)
	require.EqualValues(t, MaxDevicesPerUser, count)
}

func TestDeviceServiceCreateRequiresActivePlanAndValidName(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()

	_, inactive := createTestUser(t, db, models.PlanStatusInactive)
	_, err := svc.Create(ctx, inactive, CreateDeviceInput{Name: "Phone"})
	require.True(t, errors.Is(err, apperrors.ErrPaymentRequired))

	_, active := createTestUser(t, db, models.PlanStatusActive)
	_, err = svc.Create(ctx, active, CreateDeviceInput{Name: " x "})
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = svc.Create(ctx, Actor{}, CreateDeviceInput{Name: "Phone"})
	require.True(t, errors.Is(err, apperrors.ErrUnauthorized))
}

func TestDeviceServiceLockIsMonotonic(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFixedClock()
	svc := newTestDeviceService(t, db, clock.Now)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)
	require.False(t, device.IsLocked(clock.Now()))

	locked, err := svc.RequestLock(ctx, actor, device.ID, 60)
	require.NoError(t, err)
	require.True(t, locked.IsLocked(clock.Now()))
	require.True(t, locked.LockUntil.Equal(clock.Now().Add(60*time.Minute)))

	_, err = svc.RequestLock(ctx, actor, device.ID, 30)
	require.True(t, errors.Is(err, apperrors.ErrInvalidState))
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	require.Equal(t, clock.Now().Add(60*time.Minute).Format(time.RFC3339), appErr.Details["current_lock_until"])

	extended, err := svc.RequestLock(ctx, actor, device.ID, 120)
	require.NoError(t, err)
	require.True(t, extended.LockUntil.Equal(clock.Now().Add(120*time.Minute)))

	clock.Advance(3 * time.Hour)
	relocked, err := svc.RequestLock(ctx, actor, device.ID, 10)
	require.NoError(t, err)
	require.True(t, relocked.LockUntil.Equal(clock.Now().Add(10*time.Minute)))
}

func TestDeviceServiceLockBounds(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, newFixedClock().Now)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)

	_, err = svc.RequestLock(ctx, actor, device.ID, 0)
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = svc.RequestLock(ctx, actor, device.ID, MaxLockMinutes+1)
	require.True(t, errors.Is(err, apperrors.ErrLimitExceeded))

	_, err = svc.RequestLock(ctx, actor, device.ID, MaxLockMinutes)
	require.NoError(t, err)
}

func TestDeviceServiceLockOwnershipAndPlan(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()

	owner, actor := createTestUser(t, db, models.PlanStatusActive)
	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)

	_, stranger := createTestUser(t, db, models.PlanStatusActive)
	_, err = svc.RequestLock(ctx, stranger, device.ID, 60)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = svc.RequestLock(ctx, actor, "missing", 60)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	require.NoError(t, db.Model(owner).Update("plan_status", models.PlanStatusInactive).Error)
	_, err = svc.RequestLock(ctx, actor, device.ID, 60)
	require.True(t, errors.Is(err, apperrors.ErrPaymentRequired))

	reloaded, err := svc.Get(ctx, actor, device.ID)
	require.NoError(t, err)
	require.Nil(t, reloaded.LockUntil)
}

func TestDeviceServiceLockBillingUnavailable(t *testing.T) {
	db := openServiceTestDB(t)
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	svc, err := NewDeviceService(db, billing.StaticOracle{Err: apperrors.ErrUpstreamUnavailable}, DeviceConfig{})
	require.NoError(t, err)

	_, err = svc.RequestLock(context.Background(), actor, "any", 60)
	require.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))
}

func TestDeviceServiceDeleteRefusedWhileLocked(t *testing.T) {
	db := openServiceTestDB(t)
	clock := newFixedClock()
	svc := newTestDeviceService(t, db, clock.Now)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	var ids []string
	for _, name := range []string{"One", "Two", "Three"} {
		device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: name})
		require.NoError(t, err)
		ids = append(ids, device.ID)
	}

	_, err := svc.RequestLock(ctx, actor, ids[0], 60)
	require.NoError(t, err)

	err = svc.Delete(ctx, actor, ids[0])
	require.True(t, errors.Is(err, apperrors.ErrInvalidState))

	clock.Advance(61 * time.Minute)
	require.NoError(t, svc.Delete(ctx, actor, ids[0]))

	_, err = svc.Get(ctx, actor, ids[0])
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	// the freed slot can be reused
	_, err = svc.Create(ctx, actor, CreateDeviceInput{Name: "Replacement"})
	require.NoError(t, err)

	_, stranger := createTestUser(t, db, models.PlanStatusActive)
	err = svc.Delete(ctx, stranger, ids[1])
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDeviceServiceRename(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)

	renamed, err := svc.Rename(ctx, actor, device.ID, "  Work phone ")
	require.NoError(t, err)
	require.Equal(t, "Work phone", renamed.Name)

	_, err = svc.Rename(ctx, actor, device.ID, "a")
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	_, stranger := createTestUser(t, db, models.PlanStatusActive)
	_, err = svc.Rename(ctx, stranger, device.ID, "Stolen")
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestDeviceServiceMarkSupervisedIsIdempotent(t *testing.T) {
	db := openServiceTestDB(t)
	svc := newTestDeviceService(t, db, nil)
	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)

	device, err := svc.Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)
	require.False(t, device.Supervised)

	for i := 0; i < 2; i++ {
		supervised, err := svc.MarkSupervised(ctx, actor, device.ID)
		require.NoError(t, err)
		require.True(t, supervised.Supervised)
	}

	installed, err := svc.MarkProfileInstalled(ctx, actor, device.ID)
	require.NoError(t, err)
	require.True(t, installed.ProfileInstalled)
	require.True(t, installed.Supervised)

	_, stranger := createTestUser(t, db, models.PlanStatusActive)
	_, err = svc.MarkSupervised(ctx, stranger, device.ID)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}
