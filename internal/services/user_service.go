package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/altrii/altrii/internal/blocking"
	"github.com/altrii/altrii/internal/database"
	"github.com/altrii/altrii/internal/models"
	"github.com/altrii/altrii/pkg/crypto"
	apperrors "github.com/altrii/altrii/pkg/errors"
	"github.com/altrii/altrii/pkg/logger"
	"github.com/altrii/altrii/pkg/metrics"
)

const minPasswordLength = 8

// ErrEmailTaken is returned when another account already uses the email.
var ErrEmailTaken = apperrors.ErrConflict.WithMessage("email already in use")

// SignUpInput describes a new account.
type SignUpInput struct {
	Email    string
	Password string
}

// UserService manages account lifecycle: sign-up, credential checks and credential changes.
type UserService struct {
	db      *gorm.DB
	timeout time.Duration
	log     *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(db *gorm.DB, timeout time.Duration) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{
		db:      db,
		timeout: timeout,
		log:     logger.WithModule("users"),
	}, nil
}

// SignUp creates an account with default blocking settings and an inactive plan.
func (s *UserService) SignUp(ctx context.Context, input SignUpInput) (*models.User, error) {
	email, err := normaliseEmail(input.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword("password", input.Password); err != nil {
		return nil, err
	}

	hashed, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}
	settings, err := encodeSettings(blocking.DefaultSettings())
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:            email,
		PasswordHash:     hashed,
		Plan:             models.PlanMonth,
		PlanStatus:       models.PlanStatusInactive,
		BlockingSettings: settings,
	}

	err = storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Create(user).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	s.log.Info("user signed up", zap.String("user_id", user.ID))
	return user, nil
}

// Authenticate verifies credentials. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	var user models.User
	err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Take(&user, "email = ?", email).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyPassword(user.PasswordHash, password) {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInvalidCredentials
	}

	now := time.Now()
	updates := map[string]any{"last_login_at": now}
	if crypto.NeedsRehash(user.PasswordHash) {
		if hashed, err := crypto.HashPassword(password); err == nil {
			updates["password_hash"] = hashed
		}
	}
	if err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(&user).Updates(updates).Error
	}); err != nil {
		s.log.Warn("failed to record login", zap.String("user_id", user.ID), zap.Error(err))
	}
	user.LastLoginAt = &now

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	return &user, nil
}

// GetByID loads a user by identifier together with their devices.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).
			Preload("Devices", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
			Take(&user, "id = ?", id).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// ChangePassword replaces the password after verifying the current one.
func (s *UserService) ChangePassword(ctx context.Context, actor Actor, currentPassword, newPassword string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if currentPassword == "" {
		return apperrors.NewValidation(map[string]string{"current_password": "required"})
	}
	if err := validatePassword("new_password", newPassword); err != nil {
		return err
	}

	user, err := s.verifiedUser(ctx, actor, currentPassword)
	if err != nil {
		return err
	}

	hashed, err := crypto.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("user service: hash new password: %w", err)
	}
	if err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(user).Update("password_hash", hashed).Error
	}); err != nil {
		return fmt.Errorf("user service: change password: %w", err)
	}

	s.log.Info("password changed", zap.String("user_id", user.ID))
	return nil
}

// ChangeEmail moves the account to a new, unused email after verifying the password.
func (s *UserService) ChangeEmail(ctx context.Context, actor Actor, newEmail, password string) (*models.User, error) {
	if err := requireActor(actor); err != nil {
		return nil, err
	}
	email, err := normaliseEmail(newEmail)
	if err != nil {
		return nil, err
	}

	user, err := s.verifiedUser(ctx, actor, password)
	if err != nil {
		return nil, err
	}
	if user.Email == email {
		return nil, apperrors.NewBadRequest("email is unchanged")
	}

	err = storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Model(user).Update("email", email).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("user service: change email: %w", err)
	}
	user.Email = email

	s.log.Info("email changed", zap.String("user_id", user.ID))
	return user, nil
}

func (s *UserService) verifiedUser(ctx context.Context, actor Actor, password string) (*models.User, error) {
	var user models.User
	err := storeCall(ctx, s.timeout, func(ctx context.Context) error {
		return s.db.WithContext(ctx).Take(&user, "id = ?", actor.UserID).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if !crypto.VerifyPassword(user.PasswordHash, password) {
		return nil, apperrors.NewBadRequest("invalid password")
	}
	return &user, nil
}

func normaliseEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", apperrors.NewValidation(map[string]string{"email": "required"})
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperrors.NewValidation(map[string]string{"email": "must be a valid email address"})
	}
	return email, nil
}

func validatePassword(field, password string) error {
	if len(password) < minPasswordLength {
		return apperrors.NewValidation(map[string]string{field: fmt.Sprintf("must be at least %d characters", minPasswordLength)})
	}
	if len(password) > crypto.MaxPasswordBytes {
		return apperrors.NewValidation(map[string]string{field: fmt.Sprintf("must be at most %d bytes", crypto.MaxPasswordBytes)})
	}
	return nil
}
