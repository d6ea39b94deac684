package app

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/altrii/altrii/pkg/crypto"
)

const jwtSecretBytes = 48

// ApplyRuntimeDefaults fills values that cannot have a static default. It returns the keys
// it generated so callers can log them without exposing the values.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	generated := make(map[string]bool)
	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		secret, err := crypto.GenerateToken(jwtSecretBytes)
		if err != nil {
			return nil, fmt.Errorf("generate jwt secret: %w", err)
		}
		cfg.Auth.JWT.Secret = secret
		generated["auth.jwt.secret"] = true
	}
	return generated, nil
}

// Validate reports every inconsistent setting at once rather than failing on the first.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var err error
	switch strings.ToLower(strings.TrimSpace(c.Database.Driver)) {
	case "", "sqlite", "postgres", "postgresql", "mysql":
	default:
		err = multierr.Append(err, fmt.Errorf("database.driver: unsupported driver %q", c.Database.Driver))
	}

	if c.Devices.MaxPerUser <= 0 {
		err = multierr.Append(err, errors.New("devices.max_per_user: must be positive"))
	}
	if c.Devices.MaxLockMinutes <= 0 {
		err = multierr.Append(err, errors.New("devices.max_lock_minutes: must be positive"))
	}

	signing := c.Profile.Signing
	if !signing.Enabled() && (strings.TrimSpace(signing.CertFile) != "" || strings.TrimSpace(signing.KeyFile) != "") {
		err = multierr.Append(err, errors.New("profile.signing: cert_file and key_file must be set together"))
	}
	switch strings.ToUpper(strings.TrimSpace(c.Profile.DNS.Protocol)) {
	case "", "TLS":
	case "HTTPS":
		if strings.TrimSpace(c.Profile.DNS.ServerURL) == "" {
			err = multierr.Append(err, errors.New("profile.dns.server_url: required for the HTTPS protocol"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("profile.dns.protocol: unsupported protocol %q", c.Profile.DNS.Protocol))
	}

	switch provider := strings.ToLower(strings.TrimSpace(c.Billing.Provider)); provider {
	case "", "none":
	case "stripe":
		if strings.TrimSpace(c.Billing.Stripe.SecretKey) == "" {
			err = multierr.Append(err, errors.New("billing.stripe.secret_key: required when provider is stripe"))
		}
		if strings.TrimSpace(c.Billing.Stripe.WebhookSecret) == "" {
			err = multierr.Append(err, errors.New("billing.stripe.webhook_secret: required when provider is stripe"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("billing.provider: unsupported provider %q", c.Billing.Provider))
	}

	return err
}
