package services

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/database/testutil"
	"github.com/altrii/altrii/internal/models"
)

func openServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
}

func createTestUser(t *testing.T, db *gorm.DB, planStatus string) (*models.User, Actor) {
	t.Helper()

	settings, err := encodeSettings(blocking.DefaultSettings())
	require.NoError(t, err)

	user := &models.User{
		Email:            uuid.NewString()[:8] + "@example.com",
		PasswordHash:     "x",
		Plan:             models.PlanMonth,
		PlanStatus:       planStatus,
		BlockingSettings: settings,
	}
	require.NoError(t, db.Create(user).Error)
	return user, Actor{UserID: user.ID}
}

func newTestDeviceService(t *testing.T, db *gorm.DB, clock func() time.Time) *DeviceService {
	t.Helper()

	oracle, err := billing.NewStoreOracle(db, time.Second)
	require.NoError(t, err)

	var opts []DeviceOption
	if clock != nil {
		opts = append(opts, WithDeviceClock(clock))
	}
	svc, err := NewDeviceService(db, oracle, DeviceConfig{}, opts...)
	require.NoError(t, err)
	return svc
}

// fixedClock returns a controllable clock starting at a whole minute.
type fixedClock struct {
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time { return c.now }

func (c *fixedClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
