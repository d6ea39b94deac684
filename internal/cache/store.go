package cache

import (
	"context"
	"strings"
	"time"
)

// Store is the shared cache behind rate limiting and rendered profiles. Implementations
// treat a non-positive ttl on Set as "never expires".
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

// Key namespaces.
const (
	NamespaceRate    = "rate"
	NamespaceProfile = "profile"
)

// Key joins a namespace and its parts with ":". Empty parts are kept so positions stay
// stable.
func Key(namespace string, parts ...string) string {
	return namespace + ":" + strings.Join(parts, ":")
}
