package maintenance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/altrii/altrii/internal/cache"
	testutil "github.com/altrii/altrii/internal/database/testutil"
	"github.com/altrii/altrii/internal/models"
)

type stubResyncer struct {
	calls int
	err   error
}

func (s *stubResyncer) ResyncAll(context.Context) (int, error) {
	s.calls++
	return 2, s.err
}

type failingPurger struct{}

func (failingPurger) PurgeExpired(context.Context, time.Time) (int64, error) {
	return 0, errors.New("store offline")
}

func TestRunOncePurgesExpiredCacheEntries(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("a"), time.Minute))
	require.NoError(t, store.Set(ctx, "long", []byte("b"), 48*time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("c"), 0))

	later := time.Now().Add(2 * time.Hour)
	cleaner := NewCleaner(WithCachePurger(store), WithNow(func() time.Time { return later }))
	require.NoError(t, cleaner.RunOnce(ctx))

	var keys []string
	require.NoError(t, db.Model(&models.CacheEntry{}).Order("key").Pluck("key", &keys).Error)
	require.Equal(t, []string{"forever", "long"}, keys)
}

func TestRunOnceJoinsErrors(t *testing.T) {
	resync := &stubResyncer{err: errors.New("provider down")}
	cleaner := NewCleaner(WithCachePurger(failingPurger{}), WithBillingResync(resync))

	err := cleaner.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.Equal(t, 1, resync.calls)
}

func TestStartRegistersConfiguredJobs(t *testing.T) {
	scheduler := cron.New()
	cleaner := NewCleaner(
		WithCron(scheduler),
		WithCachePurger(failingPurger{}),
		WithBillingResync(&stubResyncer{}),
		WithCacheSchedule("@every 1h"),
		WithResyncSchedule("@every 2h"),
	)

	require.NoError(t, cleaner.Start())
	defer cleaner.Stop()
	require.Len(t, scheduler.Entries(), 2)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	cleaner := NewCleaner(WithBillingResync(&stubResyncer{}), WithResyncSchedule("not a schedule"))
	require.Error(t, cleaner.Start())
}

func TestDisabledCleanerIsNoop(t *testing.T) {
	scheduler := cron.New()
	cleaner := NewCleaner(WithCron(scheduler))
	require.False(t, cleaner.Enabled())
	require.NoError(t, cleaner.Start())
	require.Empty(t, scheduler.Entries())
	require.NoError(t, cleaner.RunOnce(context.Background()))
}
