package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/altrii/altrii/internal/database/testutil"
	"github.com/altrii/altrii/internal/models"
)

func newDatabaseStore(t *testing.T) *DatabaseStore {
	t.Helper()
	return NewDatabaseStore(testutil.MustOpenTestDB(t, testutil.WithAutoMigrate()))
}

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "profile:1", []byte("v1"), time.Minute))
	require.NoError(t, store.Set(ctx, "profile:1", []byte("v2"), time.Minute))

	value, ok, err := store.Get(ctx, "profile:1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v2"), value)

	require.NoError(t, store.Delete(ctx, "profile:1"))
	_, ok, err = store.Get(ctx, "profile:1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiry(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "short", []byte("x"), time.Millisecond))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), 0))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := store.Get(ctx, "short")
	require.NoError(t, err)
	require.False(t, ok)

	value, ok, err := store.Get(ctx, "forever")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("y"), value)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rate:a", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Greater(t, ttl, 50*time.Second)

	count, _, err = store.IncrementWithTTL(ctx, "rate:a", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	count, _, err = store.IncrementWithTTL(ctx, "rate:b", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDatabaseStoreIncrementResetsAfterWindow(t *testing.T) {
	store := newDatabaseStore(t)
	ctx := context.Background()

	_, _, err := store.IncrementWithTTL(ctx, "rate:c", 10*time.Millisecond)
	require.NoError(t, err)
	_, _, err = store.IncrementWithTTL(ctx, "rate:c", 10*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	count, _, err := store.IncrementWithTTL(ctx, "rate:c", 10*time.Millisecond)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "old", []byte("x"), time.Millisecond))
	require.NoError(t, store.Set(ctx, "fresh", []byte("y"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("z"), 0))
	time.Sleep(5 * time.Millisecond)

	removed, err := store.PurgeExpired(ctx, time.Now())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var remaining int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&remaining).Error)
	require.EqualValues(t, 2, remaining)
}

func TestNilDatabaseStore(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))

	var store *DatabaseStore
	_, _, err := store.Get(context.Background(), "k")
	require.Error(t, err)
}

func TestKey(t *testing.T) {
	require.Equal(t, "rate:ip:1.2.3.4:/api/devices", Key(NamespaceRate, "ip:1.2.3.4", "/api/devices"))
	require.Equal(t, "profile:d1:", Key(NamespaceProfile, "d1", ""))
}
