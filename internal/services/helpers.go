package services

import (
	"context"
	"strings"
	"time"

	"github.com/altrii/altrii/internal/database"
	apperrors "github.com/altrii/altrii/pkg/errors"
)

// DefaultStoreTimeout bounds each store round trip made by a service call.
const DefaultStoreTimeout = 5 * time.Second

// Actor is the authenticated identity supplied by the identity provider.
type Actor struct {
	UserID string
}

func (a Actor) authenticated() bool {
	return strings.TrimSpace(a.UserID) != ""
}

func requireActor(actor Actor) error {
	if !actor.authenticated() {
		return apperrors.ErrUnauthorized
	}
	return nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// storeCall runs fn under the store timeout and maps deadline expiry to UpstreamUnavailable.
func storeCall(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ensureContext(ctx), timeout)
	defer cancel()
	return database.Unavailable("store", fn(ctx))
}

func utcNow() time.Time {
	return time.Now().UTC()
}
