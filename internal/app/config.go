package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the Altrii backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Devices    DevicesConfig    `mapstructure:"devices"`
	Blocking   BlockingConfig   `mapstructure:"blocking"`
	Profile    ProfileConfig    `mapstructure:"profile"`
	Billing    BillingConfig    `mapstructure:"billing"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	LogLevel       string        `mapstructure:"log_level"`
	LogFormat      string        `mapstructure:"log_format"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
}

// RateLimit bounds requests per caller and route.
type RateLimit struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
	Pool     DBPoolConfig `mapstructure:"pool"`

	// SlowQueryThreshold routes gorm's slow-query warnings into the log; zero keeps gorm silent.
	SlowQueryThreshold time.Duration `mapstructure:"slow_query_threshold"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Database string            `mapstructure:"database"`
	Username string            `mapstructure:"username"`
	Password string            `mapstructure:"password"`
	Options  map[string]string `mapstructure:"options"`
}

// DBPoolConfig bounds the connection pool of networked drivers.
type DBPoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// CacheConfig describes cache backends. Without redis the database cache is used.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// AuthConfig captures identity settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// DevicesConfig bounds device registration and locking.
type DevicesConfig struct {
	MaxPerUser     int           `mapstructure:"max_per_user"`
	MaxLockMinutes int           `mapstructure:"max_lock_minutes"`
	StoreTimeout   time.Duration `mapstructure:"store_timeout"`
}

// BlockingConfig points at an optional category list file replacing the built-in lists.
type BlockingConfig struct {
	CategoriesFile string `mapstructure:"categories_file"`
}

// ProfileConfig customises generated configuration profiles.
type ProfileConfig struct {
	Organization     string           `mapstructure:"organization"`
	IdentifierPrefix string           `mapstructure:"identifier_prefix"`
	DisplayName      string           `mapstructure:"display_name"`
	DNS              ProfileDNSConfig `mapstructure:"dns"`
	Signing          SigningConfig    `mapstructure:"signing"`
	CacheTTL         time.Duration    `mapstructure:"cache_ttl"`
}

// ProfileDNSConfig describes the encrypted resolver written into profiles.
type ProfileDNSConfig struct {
	Protocol   string   `mapstructure:"protocol"`
	ServerName string   `mapstructure:"server_name"`
	ServerURL  string   `mapstructure:"server_url"`
	Addresses  []string `mapstructure:"addresses"`
}

// SigningConfig locates the PEM certificate and key used to sign profiles.
type SigningConfig struct {
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// Enabled reports whether both signing files are configured.
func (s SigningConfig) Enabled() bool {
	return strings.TrimSpace(s.CertFile) != "" && strings.TrimSpace(s.KeyFile) != ""
}

// BillingConfig configures the payment provider integration.
type BillingConfig struct {
	Provider       string            `mapstructure:"provider"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	ResyncSchedule string            `mapstructure:"resync_schedule"`
	Stripe         StripeBillingConf `mapstructure:"stripe"`
}

// StripeBillingConf holds Stripe credentials and the price catalogue.
type StripeBillingConf struct {
	SecretKey     string            `mapstructure:"secret_key"`
	WebhookSecret string            `mapstructure:"webhook_secret"`
	Prices        map[string]string `mapstructure:"prices"`
}

// StripeEnabled reports whether Stripe is the configured provider.
func (b BillingConfig) StripeEnabled() bool {
	return strings.EqualFold(strings.TrimSpace(b.Provider), "stripe")
}

// MonitoringConfig enables metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("ALTRII")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.request_timeout", "15s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.rate_limit.requests", 120)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/altrii.sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.mysql.port", 3306)
	v.SetDefault("database.pool.max_open", 20)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", "30m")
	v.SetDefault("database.slow_query_threshold", "500ms")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.username", "")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "altrii:")

	v.SetDefault("auth.jwt.secret", "")
	v.SetDefault("auth.jwt.issuer", "altrii")
	v.SetDefault("auth.jwt.access_token_ttl", "24h")

	v.SetDefault("devices.max_per_user", 3)
	v.SetDefault("devices.max_lock_minutes", 43200) // 30 days
	v.SetDefault("devices.store_timeout", "5s")

	v.SetDefault("blocking.categories_file", "")

	v.SetDefault("profile.organization", "Altrii Recovery")
	v.SetDefault("profile.identifier_prefix", "com.altrii")
	v.SetDefault("profile.display_name", "Altrii Content Filter")
	v.SetDefault("profile.dns.protocol", "TLS")
	v.SetDefault("profile.dns.server_name", "family.cloudflare-dns.com")
	v.SetDefault("profile.dns.server_url", "")
	v.SetDefault("profile.dns.addresses", []string{"1.1.1.3", "1.0.0.3"})
	v.SetDefault("profile.signing.cert_file", "")
	v.SetDefault("profile.signing.key_file", "")
	v.SetDefault("profile.cache_ttl", "10m")

	v.SetDefault("billing.provider", "none")
	v.SetDefault("billing.timeout", "5s")
	v.SetDefault("billing.resync_schedule", "@every 6h")
	v.SetDefault("billing.stripe.secret_key", "")
	v.SetDefault("billing.stripe.webhook_secret", "")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
