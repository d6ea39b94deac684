package database

import (
	"context"
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/metrics"
)

// IsUniqueViolation detects database uniqueness constraint violations across vendors.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique") ||
		strings.Contains(lower, "duplicate") ||
		strings.Contains(lower, "primary key")
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	// 57014: query_canceled, raised when statement_timeout fires or the context is cancelled.
	return errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "57014"
}

// Unavailable converts deadline errors into ErrUpstreamUnavailable, counting them against
// upstream. Other errors are returned unchanged.
func Unavailable(upstream string, err error) error {
	if !IsTimeout(err) {
		return err
	}
	metrics.UpstreamTimeouts.WithLabelValues(upstream).Inc()
	return apperrors.ErrUpstreamUnavailable.WithInternal(err)
}
