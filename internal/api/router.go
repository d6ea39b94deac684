package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/app"
	iauth "github.com/altrii/altrii/internal/auth"
	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/handlers"
	"github.com/altrii/altrii/internal/middleware"
	"github.com/altrii/altrii/internal/services"
)

// Dependencies carries the services the HTTP surface is built on.
type Dependencies struct {
	DB       *gorm.DB
	JWT      *iauth.JWTService
	Users    *services.UserService
	Devices  *services.DeviceService
	Settings *services.SettingsService
	Profiles *services.ProfileService

	// Billing is optional; without it refresh reports the provider unavailable and
	// the webhook route answers 404.
	Billing *billing.StripeSync

	// RateStore backs request throttling. Nil falls back to an in-process store.
	RateStore middleware.RateStore
}

func (d Dependencies) validate() error {
	switch {
	case d.DB == nil:
		return fmt.Errorf("database handle must be provided")
	case d.JWT == nil:
		return fmt.Errorf("jwt service must be provided")
	case d.Users == nil:
		return fmt.Errorf("user service must be provided")
	case d.Devices == nil:
		return fmt.Errorf("device service must be provided")
	case d.Settings == nil:
		return fmt.Errorf("settings service must be provided")
	case d.Profiles == nil:
		return fmt.Errorf("profile service must be provided")
	}
	return nil
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(cfg *app.Config, deps Dependencies) (*gin.Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins...))

	r.GET("/health", handlers.Health(deps.DB))

	if cfg.Monitoring.Prometheus.Enabled {
		endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(promhttp.Handler()))
	}

	// The limiter runs after Auth on protected routes so callers are counted per user;
	// public routes are counted per client IP.
	public := r.Group("/api")
	protected := r.Group("/api")
	protected.Use(middleware.Auth(deps.JWT))
	if limit := cfg.Server.RateLimit; limit.Requests > 0 && limit.Window > 0 {
		limiter := middleware.RateLimit(deps.RateStore, limit.Requests, limit.Window)
		public.Use(limiter)
		protected.Use(limiter)
	}

	registerAuthRoutes(public, protected, handlers.NewAuthHandler(deps.Users, deps.JWT))
	registerAccountRoutes(protected, handlers.NewAccountHandler(deps.Users))
	registerDeviceRoutes(protected, handlers.NewDeviceHandler(deps.Devices))
	registerSettingsRoutes(protected, handlers.NewSettingsHandler(deps.Settings))
	registerProfileRoutes(protected, handlers.NewProfileHandler(deps.Profiles))
	registerBillingRoutes(public, protected, handlers.NewBillingHandler(deps.Billing))

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}
