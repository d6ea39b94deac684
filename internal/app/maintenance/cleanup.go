package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/altrii/altrii/pkg/logger"
)

const (
	defaultCacheSpec  = "@hourly"
	defaultResyncSpec = "@every 6h"
)

// CachePurger removes expired cache entries.
type CachePurger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// BillingResyncer re-reads plan status for every linked customer.
type BillingResyncer interface {
	ResyncAll(ctx context.Context) (int, error)
}

// Cleaner coordinates background maintenance: purging expired cache rows and
// reconciling plan status with the payment provider.
type Cleaner struct {
	cache   CachePurger
	billing BillingResyncer
	cron    *cron.Cron
	now     func() time.Time
	log     *zap.Logger

	cacheSchedule  string
	resyncSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for expiry comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithCachePurger enables periodic removal of expired cache entries.
func WithCachePurger(p CachePurger) Option {
	return func(cleaner *Cleaner) {
		cleaner.cache = p
	}
}

// WithBillingResync enables periodic plan reconciliation.
func WithBillingResync(r BillingResyncer) Option {
	return func(cleaner *Cleaner) {
		cleaner.billing = r
	}
}

// WithCacheSchedule overrides the cron expression for cache purging.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithResyncSchedule overrides the cron expression for billing reconciliation.
func WithResyncSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.resyncSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. Jobs whose dependency is not supplied are skipped.
func NewCleaner(opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		now:            time.Now,
		cacheSchedule:  defaultCacheSpec,
		resyncSchedule: defaultResyncSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Enabled reports whether at least one job is configured.
func (c *Cleaner) Enabled() bool {
	return c.cache != nil || c.billing != nil
}

// Start registers jobs with the cron scheduler and launches it if any job is enabled.
func (c *Cleaner) Start() error {
	if !c.Enabled() {
		return nil
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			if err := c.purgeCache(context.Background()); err != nil {
				c.log.Warn("cache purge failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.billing != nil {
		if _, err := c.cron.AddFunc(c.resyncSchedule, func() {
			if err := c.resyncBilling(context.Background()); err != nil {
				c.log.Warn("billing resync failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and joins their errors.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	if c.cache != nil {
		errs = multierr.Append(errs, c.purgeCache(ctx))
	}
	if c.billing != nil {
		errs = multierr.Append(errs, c.resyncBilling(ctx))
	}
	return errs
}

func (c *Cleaner) purgeCache(ctx context.Context) error {
	removed, err := c.cache.PurgeExpired(ctx, c.now())
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Debug("expired cache entries purged", zap.Int64("removed", removed))
	}
	return nil
}

func (c *Cleaner) resyncBilling(ctx context.Context) error {
	synced, err := c.billing.ResyncAll(ctx)
	c.log.Info("billing resync finished", zap.Int("synced", synced), zap.Bool("failed", err != nil))
	return err
}
