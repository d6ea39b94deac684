package app

import (
	"github.com/altrii/altrii/internal/billing"
	"github.com/altrii/altrii/internal/profile"
	"github.com/altrii/altrii/internal/services"
)

// DeviceServiceConfig converts device limits for the device service.
func (c Config) DeviceServiceConfig() services.DeviceConfig {
	return services.DeviceConfig{
		MaxPerUser:     c.Devices.MaxPerUser,
		MaxLockMinutes: c.Devices.MaxLockMinutes,
		StoreTimeout:   c.Devices.StoreTimeout,
	}
}

// BuilderConfig converts profile settings for the document builder.
func (c ProfileConfig) BuilderConfig() profile.Config {
	return profile.Config{
		IdentifierPrefix: c.IdentifierPrefix,
		Organization:     c.Organization,
		DisplayName:      c.DisplayName,
		DNS: profile.DNSConfig{
			Protocol:   c.DNS.Protocol,
			ServerName: c.DNS.ServerName,
			ServerURL:  c.DNS.ServerURL,
			Addresses:  append([]string(nil), c.DNS.Addresses...),
		},
	}
}

// ProfileServiceConfig converts caching settings for the profile service.
func (c Config) ProfileServiceConfig() services.ProfileConfig {
	return services.ProfileConfig{
		CacheTTL:     c.Profile.CacheTTL,
		StoreTimeout: c.Devices.StoreTimeout,
	}
}

// StripeConfig converts billing settings for the Stripe synchroniser.
func (c BillingConfig) StripeConfig() billing.StripeConfig {
	prices := make(map[string]string, len(c.Stripe.Prices))
	for id, plan := range c.Stripe.Prices {
		prices[id] = plan
	}
	return billing.StripeConfig{
		SecretKey:     c.Stripe.SecretKey,
		WebhookSecret: c.Stripe.WebhookSecret,
		Prices:        prices,
		Timeout:       c.Timeout,
	}
}
