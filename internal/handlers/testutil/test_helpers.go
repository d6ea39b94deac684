package testutil

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/api"
	"github.com/altrii/altrii/internal/app"
	iauth "github.com/altrii/altrii/internal/auth"
	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/cache"
	sharedtestutil "github.com/altrii/altrii/internal/database/testutil"
	"github.com/altrii/altrii/internal/middleware"
	"github.com/altrii/altrii/internal/models"
	"github.com/altrii/altrii/internal/profile"
	"github.com/altrii/altrii/internal/services"
	"github.com/altrii/altrii/pkg/response"
)

// WebhookSecret signs billing webhooks delivered through Env.Webhook.
const WebhookSecret = "whsec_handler_tests"

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T      *testing.T
	DB     *gorm.DB
	Router *gin.Engine
	JWT    *iauth.JWTService
	Config *app.Config
}

// EnvOption customises NewEnv.
type EnvOption func(*envConfig)

type envConfig struct {
	withBilling bool
	lister      billing.SubscriptionLister
	rateLimit   app.RateLimit
}

// WithBilling wires a Stripe synchroniser backed by lister so billing routes are live.
func WithBilling(lister billing.SubscriptionLister) EnvOption {
	return func(cfg *envConfig) {
		cfg.withBilling = true
		cfg.lister = lister
	}
}

// WithRateLimit overrides the per-caller request budget.
func WithRateLimit(requests int, window time.Duration) EnvOption {
	return func(cfg *envConfig) {
		cfg.rateLimit = app.RateLimit{Requests: requests, Window: window}
	}
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T, opts ...EnvOption) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	options := envConfig{rateLimit: app.RateLimit{Requests: 1000, Window: time.Minute}}
	for _, opt := range opts {
		opt(&options)
	}

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	cfg := &app.Config{
		Server: app.ServerConfig{
			RateLimit: options.rateLimit,
		},
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{
				Secret: "test-suite-super-secret-key-32-bytes!!",
				Issuer: "test-suite",
				TTL:    time.Hour,
			},
		},
		Devices: app.DevicesConfig{
			MaxPerUser:     3,
			MaxLockMinutes: 43200,
			StoreTimeout:   5 * time.Second,
		},
		Profile: app.ProfileConfig{CacheTTL: time.Minute},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	oracle, err := billing.NewStoreOracle(db, time.Second)
	require.NoError(t, err)

	users, err := services.NewUserService(db, cfg.Devices.StoreTimeout)
	require.NoError(t, err)
	devices, err := services.NewDeviceService(db, oracle, cfg.DeviceServiceConfig())
	require.NoError(t, err)
	settings, err := services.NewSettingsService(db, cfg.Devices.StoreTimeout)
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db)
	profiles, err := services.NewProfileService(
		db,
		oracle,
		blocking.NewResolver(nil),
		profile.NewBuilder(cfg.Profile.BuilderConfig()),
		profile.NopSigner{},
		store,
		cfg.ProfileServiceConfig(),
	)
	require.NoError(t, err)

	deps := api.Dependencies{
		DB:        db,
		JWT:       jwtSvc,
		Users:     users,
		Devices:   devices,
		Settings:  settings,
		Profiles:  profiles,
		RateStore: middleware.NewCacheRateStore(store),
	}
	if options.withBilling {
		sync, err := billing.NewStripeSync(db, billing.StripeConfig{
			WebhookSecret: WebhookSecret,
			Prices:        map[string]string{"price_year": "YEAR"},
			Timeout:       time.Second,
		}, billing.WithSubscriptionLister(options.lister))
		require.NoError(t, err)
		deps.Billing = sync
	}

	router, err := api.NewRouter(cfg, deps)
	require.NoError(t, err)

	return &Env{
		T:      t,
		DB:     db,
		Router: router,
		JWT:    jwtSvc,
		Config: cfg,
	}
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Plan       string `json:"plan"`
	PlanStatus string `json:"plan_status"`
}

// TokenResult bundles the JSON response from sign-up and login.
type TokenResult struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   int         `json:"expires_in"`
	User        UserPayload `json:"user"`
}

// SignUp registers a fresh account with a random address and returns the issued token.
func (e *Env) SignUp(password string) TokenResult {
	e.T.Helper()

	email := "user-" + uuid.NewString() + "@example.com"
	w := e.Request(http.MethodPost, "/api/auth/sign-up", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusCreated, w.Code, w.Body.String())

	return e.decodeToken(w)
}

// Login authenticates with email and password and returns the issued token.
func (e *Env) Login(email, password string) TokenResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	return e.decodeToken(w)
}

func (e *Env) decodeToken(w *httptest.ResponseRecorder) TokenResult {
	e.T.Helper()

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result TokenResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.AccessToken)
	require.Equal(e.T, "Bearer", result.TokenType)
	require.Greater(e.T, result.ExpiresIn, 0)
	return result
}

// ActivatePlan marks the user's subscription active, as a billing sync would.
func (e *Env) ActivatePlan(userID string) {
	e.T.Helper()
	e.SetPlanStatus(userID, models.PlanStatusActive)
}

// SetPlanStatus overwrites the stored plan status for userID.
func (e *Env) SetPlanStatus(userID, status string) {
	e.T.Helper()
	require.NoError(e.T, e.DB.Model(&models.User{}).Where("id = ?", userID).Update("plan_status", status).Error)
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// Webhook delivers a raw provider event, signed with WebhookSecret unless signature is given.
func (e *Env) Webhook(payload, signature string) *httptest.ResponseRecorder {
	e.T.Helper()

	if signature == "" {
		signature = SignWebhook(payload, time.Now())
	}

	req, err := http.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewBufferString(payload))
	require.NoError(e.T, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signature)

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// SignWebhook produces a provider signature header for payload at ts.
func SignWebhook(payload string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(WebhookSecret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}
