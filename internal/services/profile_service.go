package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/cache"
	"github.com/altrii/altrii/internal/models"
	"github.com/altrii/altrii/internal/profile"
	"github.com/altrii/altrii/pkg/logger"
	"github.com/altrii/altrii/pkg/metrics"
)

const defaultProfileCacheTTL = 10 * time.Minute

// ProfileConfig tunes ProfileService caching and store access.
type ProfileConfig struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
}

// RenderedProfile is a downloadable configuration profile.
type RenderedProfile struct {
	DeviceID    string
	Filename    string
	ContentType string
	Body        []byte
	Signed      bool
	Cached      bool
}

// ProfileService renders per-device configuration profiles.
type ProfileService struct {
	db       *gorm.DB
	oracle   billing.Oracle
	resolver *blocking.Resolver
	builder  *profile.Builder
	signer   profile.Signer
	cache    cache.Store
	cfg      ProfileConfig
	log      *zap.Logger
}

// NewProfileService constructs a ProfileService. The cache store is optional; without a
// signer profiles are served unsigned.
func NewProfileService(db *gorm.DB, oracle billing.Oracle, resolver *blocking.Resolver, builder *profile.Builder, signer profile.Signer, store cache.Store, cfg ProfileConfig) (*ProfileService, error) {
	if db == nil {
		return nil, errors.New("profile service: db is required")
	}
	if oracle == nil {
		return nil, errors.New("profile service: billing oracle is required")
	}
	if resolver == nil {
		resolver = blocking.NewResolver(nil)
	}
	if builder == nil {
		builder = profile.NewBuilder(profile.Config{})
	}
	if signer == nil {
		signer = profile.NopSigner{}
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultProfileCacheTTL
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}

	return &ProfileService{
		db:       db,
		oracle:   oracle,
		resolver: resolver,
		builder:  builder,
		signer:   signer,
		cache:    store,
		cfg:      cfg,
		log:      logger.WithModule("profiles"),
	}, nil
}

// Render produces the self-service (removable) profile for an owned device. The owner must
// be on an active plan. Output for unchanged inputs is served from cache.
func (s *ProfileService) Render(ctx context.Context, actor Actor, deviceID string) (*RenderedProfile, error) {
	ctx = ensureContext(ctx)
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	if err := requireActivePlan(ctx, s.oracle, actor); err != nil {
		return nil, err
	}

	var (
		device   *models.Device
		owner    *models.User
		settings *DeviceSettings
	)
	err := storeCall(ctx, s.cfg.StoreTimeout, func(ctx context.Context) error {
		db := s.db.WithContext(ctx)
		var err error
		if device, err = findOwnedDevice(db, actor.UserID, deviceID); err != nil {
			return err
		}
		if owner, err = loadUser(db, actor.UserID); err != nil {
			return err
		}
		settings, err = effectiveSettings(db, device)
		return err
	})
	if err != nil {
		return nil, err
	}

	resolved := s.resolver.Resolve(settings.Settings)
	rendered := &RenderedProfile{
		DeviceID:    device.ID,
		Filename:    profile.Filename(device.Name),
		ContentType: profile.ContentType,
		Signed:      s.signer.Signed(),
	}

	key := s.cacheKey(device, owner.Email, resolved)
	if body, ok := s.cached(ctx, key); ok {
		rendered.Body = body
		rendered.Cached = true
		metrics.ProfileDownloads.WithLabelValues("hit").Inc()
		return rendered, nil
	}

	doc, err := s.builder.Build(profile.Input{
		DeviceID:   device.ID,
		DeviceName: device.Name,
		OwnerEmail: owner.Email,
		Resolved:   resolved,
		Removable:  true,
	})
	if err != nil {
		s.log.Error("profile build rejected input", zap.String("device_id", device.ID), zap.Error(err))
		return nil, err
	}

	body, err := profile.Encode(doc)
	if err != nil {
		return nil, err
	}
	if body, err = s.signer.Sign(body); err != nil {
		s.log.Error("profile signing failed", zap.String("device_id", device.ID), zap.Error(err))
		return nil, err
	}
	rendered.Body = body

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, body, s.cfg.CacheTTL); err != nil {
			s.log.Warn("profile cache write failed", zap.String("device_id", device.ID), zap.Error(err))
		}
	}
	metrics.ProfileDownloads.WithLabelValues("miss").Inc()

	s.log.Info("profile rendered",
		zap.String("device_id", device.ID),
		zap.Int("deny", len(resolved.Deny)),
		zap.Int("allow", len(resolved.Allow)),
		zap.Bool("signed", rendered.Signed),
	)
	return rendered, nil
}

func (s *ProfileService) cached(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	body, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("profile cache read failed", zap.Error(err))
		return nil, false
	}
	return body, ok && len(body) > 0
}

// cacheKey covers every input that changes the rendered bytes.
func (s *ProfileService) cacheKey(device *models.Device, ownerEmail string, resolved blocking.Resolved) string {
	h := sha256.New()
	for _, part := range []string{
		device.ID,
		device.Name,
		strings.ToLower(ownerEmail),
		resolved.Fingerprint(),
		s.builder.Fingerprint(),
		strconv.FormatBool(s.signer.Signed()),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return cache.Key(cache.NamespaceProfile, device.ID, hex.EncodeToString(h.Sum(nil))[:32])
}
