package app

import (
	"strings"

	"github.com/altrii/altrii/internal/database"
)

// ConnectionConfig selects the host parameters matching the configured driver.
func (c DatabaseConfig) ConnectionConfig() database.Config {
	driver := strings.ToLower(strings.TrimSpace(c.Driver))
	cfg := database.Config{
		Driver:             driver,
		Path:               strings.TrimSpace(c.Path),
		DSN:                strings.TrimSpace(c.DSN),
		MaxOpenConns:       c.Pool.MaxOpen,
		MaxIdleConns:       c.Pool.MaxIdle,
		ConnMaxLifetime:    c.Pool.MaxLifetime,
		SlowQueryThreshold: c.SlowQueryThreshold,
	}

	var auth DBAuthConfig
	switch driver {
	case "postgres", "postgresql":
		auth = c.Postgres
	case "mysql":
		auth = c.MySQL
	default:
		return cfg
	}

	cfg.Host = strings.TrimSpace(auth.Host)
	cfg.Port = auth.Port
	cfg.Name = strings.TrimSpace(auth.Database)
	cfg.User = strings.TrimSpace(auth.Username)
	cfg.Password = auth.Password
	if len(auth.Options) > 0 {
		cfg.Options = make(map[string]string, len(auth.Options))
		for k, v := range auth.Options {
			cfg.Options[k] = v
		}
	}
	return cfg
}
