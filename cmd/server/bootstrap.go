package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/api"
	"github.com/altrii/altrii/internal/app"
	"github.com/altrii/altrii/internal/app/maintenance"
	iauth "github.com/altrii/altrii/internal/auth"
	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/cache"
	"github.com/altrii/altrii/internal/database"
	"github.com/altrii/altrii/internal/middleware"
	"github.com/altrii/altrii/internal/profile"
	"github.com/altrii/altrii/internal/services"
	"github.com/altrii/altrii/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Redis   *cache.RedisStore
	Cache   cache.Store
	Billing *billing.StripeSync
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine
}

// bootstrapRuntime initialises the database, cache, services, and the HTTP router.
// generatedSecret reports that the JWT secret was produced at start-up rather than configured.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, generatedSecret bool, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if generatedSecret {
		// keep tokens valid across restarts of an unconfigured install
		secret, err := database.EnsureJWTSecret(ctx, stack.DB, cfg.Auth.JWT.Secret)
		if err != nil {
			return nil, fmt.Errorf("persist jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
	}

	dbStore := cache.NewDatabaseStore(stack.DB)
	stack.Cache = dbStore
	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Cache = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	oracle, err := billing.NewStoreOracle(stack.DB, cfg.Billing.Timeout)
	if err != nil {
		return nil, fmt.Errorf("initialise billing oracle: %w", err)
	}

	if cfg.Billing.StripeEnabled() {
		stack.Billing, err = billing.NewStripeSync(stack.DB, cfg.Billing.StripeConfig())
		if err != nil {
			return nil, fmt.Errorf("initialise stripe sync: %w", err)
		}
		log.Info("billing provider enabled", zap.String("provider", "stripe"))
	}

	resolver, err := initialiseResolver(cfg, log)
	if err != nil {
		return nil, err
	}

	signer, err := initialiseSigner(cfg, log)
	if err != nil {
		return nil, err
	}

	users, err := services.NewUserService(stack.DB, cfg.Devices.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise user service: %w", err)
	}
	devices, err := services.NewDeviceService(stack.DB, oracle, cfg.DeviceServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise device service: %w", err)
	}
	settings, err := services.NewSettingsService(stack.DB, cfg.Devices.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("initialise settings service: %w", err)
	}
	profiles, err := services.NewProfileService(
		stack.DB,
		oracle,
		resolver,
		profile.NewBuilder(cfg.Profile.BuilderConfig()),
		signer,
		stack.Cache,
		cfg.ProfileServiceConfig(),
	)
	if err != nil {
		return nil, fmt.Errorf("initialise profile service: %w", err)
	}

	cleanerOpts := []maintenance.Option{maintenance.WithCachePurger(dbStore)}
	if stack.Billing != nil {
		cleanerOpts = append(cleanerOpts,
			maintenance.WithBillingResync(stack.Billing),
			maintenance.WithResyncSchedule(cfg.Billing.ResyncSchedule),
		)
	}
	stack.Cleaner = maintenance.NewCleaner(cleanerOpts...)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(cfg, api.Dependencies{
		DB:        stack.DB,
		JWT:       jwtSvc,
		Users:     users,
		Devices:   devices,
		Settings:  settings,
		Profiles:  profiles,
		Billing:   stack.Billing,
		RateStore: middleware.NewCacheRateStore(stack.Cache),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		select {
		case <-s.Cleaner.Stop().Done():
		case <-ctx.Done():
			log.Warn("maintenance jobs still running at shutdown")
		}
	}

	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Warn("redis shutdown", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	db, err := database.OpenAndMigrate(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func initialiseResolver(cfg *app.Config, log *zap.Logger) (*blocking.Resolver, error) {
	path := strings.TrimSpace(cfg.Blocking.CategoriesFile)
	if path == "" {
		return blocking.NewResolver(nil), nil
	}

	registry, err := blocking.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load category lists: %w", err)
	}
	log.Info("category lists loaded", zap.String("path", path), zap.String("version", registry.Version()), zap.Any("domains", registry.Summary()))
	return blocking.NewResolver(registry), nil
}

func initialiseSigner(cfg *app.Config, log *zap.Logger) (profile.Signer, error) {
	if !cfg.Profile.Signing.Enabled() {
		log.Warn("profile signing disabled; devices will show profiles as unverified")
		return profile.NopSigner{}, nil
	}

	signer, err := profile.LoadCMSSigner(cfg.Profile.Signing.CertFile, cfg.Profile.Signing.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load profile signer: %w", err)
	}
	return signer, nil
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
