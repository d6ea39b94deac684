package services

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/cache"
	"github.com/altrii/altrii/internal/models"
	"github.com/altrii/altrii/internal/profile"
	apperrors "github.com/altrii/altrii/pkg/errors"
)

func TestProfileServiceRenderAndCache(t *testing.T) {
	db := openServiceTestDB(t)
	oracle, err := billing.NewStoreOracle(db, 0)
	require.NoError(t, err)
	store := cache.NewDatabaseStore(db)

	devices := newTestDeviceService(t, db, nil)
	settings, err := NewSettingsService(db, 0)
	require.NoError(t, err)
	svc, err := NewProfileService(db, oracle, nil, nil, nil, store, ProfileConfig{})
	require.NoError(t, err)

	ctx := context.Background()
	_, actor := createTestUser(t, db, models.PlanStatusActive)
	device, err := devices.Create(ctx, actor, CreateDeviceInput{Name: "Sam's iPhone"})
	require.NoError(t, err)

	first, err := svc.Render(ctx, actor, device.ID)
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.False(t, first.Signed)
	require.Equal(t, profile.ContentType, first.ContentType)
	require.Equal(t, "altrii-safe-sams-iphone.mobileconfig", first.Filename)
	require.Contains(t, string(first.Body), "<string>https://xvideos.com</string>")

	second, err := svc.Render(ctx, actor, device.ID)
	require.NoError(t, err)
	require.True(t, second.Cached)
	require.True(t, bytes.Equal(first.Body, second.Body))

	_, err = settings.UpdateDeviceSettings(ctx, actor, device.ID, blocking.Settings{
		Adult:                true,
		CustomAllowedDomains: []string{"xvideos.com"},
	})
	require.NoError(t, err)

	third, err := svc.Render(ctx, actor, device.ID)
	require.NoError(t, err)
	require.False(t, third.Cached)

	decoded, err := profile.Decode(third.Body)
	require.NoError(t, err)
	content := decoded["PayloadContent"].([]any)
	filter := content[0].(map[string]any)
	require.NotContains(t, filter["BlacklistedURLs"], "https://xvideos.com")
	require.Contains(t, filter["PermittedURLs"], "https://xvideos.com")
	require.Equal(t, false, decoded["PayloadRemovalDisallowed"])
}

func TestProfileServiceCacheFollowsBuilderConfig(t *testing.T) {
	db := openServiceTestDB(t)
	oracle := billing.StaticOracle{Default: models.PlanStatusActive}
	store := cache.NewDatabaseStore(db)
	ctx := context.Background()

	_, actor := createTestUser(t, db, models.PlanStatusActive)
	device, err := newTestDeviceService(t, db, nil).Create(ctx, actor, CreateDeviceInput{Name: "Phone"})
	require.NoError(t, err)

	before, err := NewProfileService(db, oracle, nil, profile.NewBuilder(profile.Config{}), nil, store, ProfileConfig{})
	require.NoError(t, err)
	old, err := before.Render(ctx, actor, device.ID)
	require.NoError(t, err)
	require.Contains(t, string(old.Body), "family.cloudflare-dns.com")

	// Same store, new resolver: as after a restart with changed configuration.
	after, err := NewProfileService(db, oracle, nil, profile.NewBuilder(profile.Config{
		DNS: profile.DNSConfig{ServerName: "dns.example", Addresses: []string{"9.9.9.9"}},
	}), nil, store, ProfileConfig{})
	require.NoError(t, err)
	fresh, err := after.Render(ctx, actor, device.ID)
	require.NoError(t, err)
	require.False(t, fresh.Cached)
	require.Contains(t, string(fresh.Body), "dns.example")
	require.NotContains(t, string(fresh.Body), "family.cloudflare-dns.com")
}

func TestProfileServiceRequiresActivePlanAndOwnership(t *testing.T) {
	db := openServiceTestDB(t)
	ctx := context.Background()

	owner, actor := createTestUser(t, db, models.PlanStatusActive)
	device := &models.Device{UserID: owner.ID, Name: "Phone"}
	require.NoError(t, db.Create(device).Error)

	svc, err := NewProfileService(db, billing.StaticOracle{Default: models.PlanStatusInactive}, nil, nil, nil, nil, ProfileConfig{})
	require.NoError(t, err)
	_, err = svc.Render(ctx, actor, device.ID)
	require.True(t, errors.Is(err, apperrors.ErrPaymentRequired))

	svc, err = NewProfileService(db, billing.StaticOracle{Default: models.PlanStatusActive}, nil, nil, nil, nil, ProfileConfig{})
	require.NoError(t, err)

	_, stranger := createTestUser(t, db, models.PlanStatusActive)
	_, err = svc.Render(ctx, stranger, device.ID)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	rendered, err := svc.Render(ctx, actor, device.ID)
	require.NoError(t, err)
	require.False(t, rendered.Cached)
}
