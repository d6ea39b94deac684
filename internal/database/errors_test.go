package database

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	apperrors "github.com/altrii/altrii/pkg/errors"
)

func TestIsUniqueViolation(t *testing.T) {
	require.False(t, IsUniqueViolation(nil))
	require.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	require.True(t, IsUniqueViolation(fmt.Errorf("wrap: %w", &pgconn.PgError{Code: "23505"})))
	require.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062, Message: "dup"}))
	require.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: users.email")))
	require.False(t, IsUniqueViolation(errors.New("connection refused")))
}

func TestUnavailableMapsDeadlines(t *testing.T) {
	err := Unavailable("store", fmt.Errorf("query: %w", context.DeadlineExceeded))
	require.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))

	err = Unavailable("store", &pgconn.PgError{Code: "57014"})
	require.True(t, errors.Is(err, apperrors.ErrUpstreamUnavailable))

	plain := errors.New("boom")
	require.Same(t, plain, Unavailable("store", plain))
	require.NoError(t, Unavailable("store", nil))
}
