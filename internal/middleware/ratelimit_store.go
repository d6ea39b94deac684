package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/altrii/altrii/internal/cache"
)

// RateStore counts hits for a key within a fixed window.
type RateStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int, ttl time.Duration, err error)
}

// NewCacheRateStore shares counters across instances through the configured cache
// (database or redis).
func NewCacheRateStore(store cache.Store) RateStore {
	if store == nil {
		return nil
	}
	return cacheRateStore{store: store}
}

type cacheRateStore struct {
	store cache.Store
}

func (s cacheRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	count, ttl, err := s.store.IncrementWithTTL(ctx, key, window)
	return int(count), ttl, err
}

// sweepEvery bounds how many increments pass between evictions of finished windows.
const sweepEvery = 1024

// localRateStore keeps counters in process memory. Only used when no shared cache is wired,
// so limits are per instance.
type localRateStore struct {
	mu      sync.Mutex
	windows map[string]localWindow
	hits    int
	now     func() time.Time
}

type localWindow struct {
	count int
	ends  time.Time
}

// NewMemoryRateStore returns a process-local RateStore.
func NewMemoryRateStore() RateStore {
	return newLocalRateStore(time.Now)
}

func newLocalRateStore(now func() time.Time) *localRateStore {
	return &localRateStore{windows: make(map[string]localWindow), now: now}
}

func (s *localRateStore) Increment(_ context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.hits++
	if s.hits%sweepEvery == 0 {
		for k, w := range s.windows {
			if !w.ends.After(now) {
				delete(s.windows, k)
			}
		}
	}

	w, ok := s.windows[key]
	if !ok || !w.ends.After(now) {
		w = localWindow{ends: now.Add(window)}
	}
	w.count++
	s.windows[key] = w
	return w.count, w.ends.Sub(now), nil
}
