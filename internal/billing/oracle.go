package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/database"
	"github.com/altrii/altrii/internal/models"
	apperrors "github.com/altrii/altrii/pkg/errors"
)

// DefaultTimeout bounds every oracle lookup.
const DefaultTimeout = 5 * time.Second

// Oracle reports the current subscription status for a user. Callers only read the value;
// computing it is the billing provider's job.
type Oracle interface {
	PlanStatus(ctx context.Context, userID string) (string, error)
}

// IsActive reports whether status authorises paid operations.
func IsActive(status string) bool {
	return status == models.PlanStatusActive
}

// StoreOracle answers from the status persisted by webhook and refresh synchronisation.
type StoreOracle struct {
	db      *gorm.DB
	timeout time.Duration
}

// NewStoreOracle constructs a StoreOracle. A non-positive timeout selects DefaultTimeout.
func NewStoreOracle(db *gorm.DB, timeout time.Duration) (*StoreOracle, error) {
	if db == nil {
		return nil, errors.New("billing oracle: db is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &StoreOracle{db: db, timeout: timeout}, nil
}

// PlanStatus returns the stored status, ErrNotFound for unknown users and
// ErrUpstreamUnavailable when the store does not answer in time.
func (o *StoreOracle) PlanStatus(ctx context.Context, userID string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperrors.ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var user models.User
	err := o.db.WithContext(ctx).Select("id", "plan_status").Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", apperrors.ErrNotFound
	}
	if err != nil {
		return "", database.Unavailable("billing", err)
	}
	return user.PlanStatus, nil
}

// StaticOracle returns fixed statuses; unknown users resolve to Default.
type StaticOracle struct {
	Statuses map[string]string
	Default  string
	Err      error
}

// PlanStatus implements Oracle.
func (o StaticOracle) PlanStatus(_ context.Context, userID string) (string, error) {
	if o.Err != nil {
		return "", o.Err
	}
	if status, ok := o.Statuses[userID]; ok {
		return status, nil
	}
	return o.Default, nil
}
