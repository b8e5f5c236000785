// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/platform/validate"
	"github.com/taibuivan/agora/pkg/normalize"
	"github.com/taibuivan/agora/pkg/uuid"
)

// # Service Layer

// Service orchestrates registration and profile management for identities.
type Service struct {
	repository Repository
	sessions   SessionRevoker
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a new [Service]. sessions may be nil when no session
// store is wired (tests, CLI).
func NewService(repository Repository, sessions SessionRevoker, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		sessions:   sessions,
		logger:     logger,
		now:        time.Now,
	}
}

// WithSessionRevoker installs sessions after construction. The session manager
// loads subjects through this service, so one of the two is built first.
func (service *Service) WithSessionRevoker(sessions SessionRevoker) *Service {
	service.sessions = sessions
	return service
}

// WithClock replaces the time source. Intended for tests.
func (service *Service) WithClock(now func() time.Time) *Service {
	service.now = now
	return service
}

// # Registration

// RegisterInput carries the fields accepted at sign-up.
type RegisterInput struct {
	Username    string
	Email       string
	Password    string
	DisplayName string
}

/*
Register creates a new pending identity.

Description: Validates input, rejects identifiers already held by a live
identity, hashes the password and stamps fresh security and concurrency stamps.

Returns:
  - *Identity: The persisted identity (status pending)
  - error: VALIDATION_ERROR, CONFLICT or storage failures
*/
func (service *Service) Register(ctx context.Context, input RegisterInput) (*Identity, error) {
	v := &validate.Validator{}
	v.Required("username", input.Username).Username("username", input.Username)
	v.Required("email", input.Email).Email("email", input.Email)
	v.Password("password", input.Password)
	if input.DisplayName != "" {
		v.MaxLen("display_name", input.DisplayName, 100)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	normalizedEmail := normalize.Identifier(input.Email)
	normalizedUsername := normalize.Identifier(input.Username)

	emailTaken, usernameTaken, err := service.repository.LoginTaken(ctx, normalizedEmail, normalizedUsername)
	if err != nil {
		return nil, fmt.Errorf("account_service_register_lookup_failed: %w", err)
	}
	if emailTaken {
		return nil, apperr.Conflict("Email is already registered")
	}
	if usernameTaken {
		return nil, apperr.Conflict("Username is already taken")
	}

	hash, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("account_service_register_hash_failed: %w", err))
	}

	displayName := input.DisplayName
	if displayName == "" {
		displayName = input.Username
	}

	identity := &Identity{
		ID:                 uuid.New(),
		Username:           input.Username,
		NormalizedUsername: normalizedUsername,
		Email:              input.Email,
		NormalizedEmail:    normalizedEmail,
		PasswordHash:       hash,
		SecurityStamp:      uuid.New(),
		ConcurrencyStamp:   uuid.New(),
		TwoFactorType:      TwoFactorNone,
		Role:               sec.RoleMember,
		Status:             StatusPending,
		VerificationStatus: VerificationNone,
		LockoutEnabled:     true,
		DisplayName:        displayName,
	}
	identity.Touch("", service.now())

	if err := service.repository.Create(ctx, identity); err != nil {
		return nil, fmt.Errorf("account_service_register_failed: %w", err)
	}

	service.logger.Info("account_registered", slog.String("user_id", identity.ID))

	return identity, nil
}

// # Lookup

// FindByID retrieves a live identity.
func (service *Service) FindByID(ctx context.Context, id string) (*Identity, error) {
	identity, err := service.repository.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("account_service_find_failed: %w", err)
	}
	return identity, nil
}

// FindByLogin resolves an email or username to a live identity.
func (service *Service) FindByLogin(ctx context.Context, login string) (*Identity, error) {
	normalized := normalize.Identifier(login)
	if normalized == "" {
		return nil, apperr.NotFound("Account")
	}
	identity, err := service.repository.FindByLogin(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("account_service_find_by_login_failed: %w", err)
	}
	return identity, nil
}

// # Profile Management

// UpdateProfileInput defines the mutable subset of profile fields.
type UpdateProfileInput struct {
	DisplayName *string
	PhoneNumber *string
}

/*
UpdateProfile applies a partial set of changes to an identity.

Description: Changing the phone number clears its confirmation; an empty
phone number removes it.
*/
func (service *Service) UpdateProfile(ctx context.Context, userID string, input UpdateProfileInput) (*Identity, error) {
	v := &validate.Validator{}
	if input.DisplayName != nil {
		v.MinLen("display_name", *input.DisplayName, 2).MaxLen("display_name", *input.DisplayName, 100)
	}
	if input.PhoneNumber != nil && *input.PhoneNumber != "" {
		v.Phone("phone_number", *input.PhoneNumber)
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	identity, err := service.repository.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("account_service_update_lookup_failed: %w", err)
	}

	if input.DisplayName != nil {
		identity.DisplayName = *input.DisplayName
	}

	if input.PhoneNumber != nil && *input.PhoneNumber != identity.Phone() {
		identity.PhoneConfirmed = false
		identity.PhoneNumber = nil
		if *input.PhoneNumber != "" {
			phone := *input.PhoneNumber
			identity.PhoneNumber = &phone
		}
	}

	identity.ConcurrencyStamp = uuid.New()
	identity.Touch(userID, service.now())

	if err := service.repository.UpdateProfile(ctx, identity); err != nil {
		return nil, fmt.Errorf("account_service_update_failed: %w", err)
	}

	service.logger.Info("account_profile_updated", slog.String("user_id", userID))

	return identity, nil
}

// MarkEmailVerified confirms the identity's email address.
func (service *Service) MarkEmailVerified(ctx context.Context, userID string) error {
	if err := service.repository.MarkEmailVerified(ctx, userID, service.now()); err != nil {
		return fmt.Errorf("account_service_verify_email_failed: %w", err)
	}
	service.logger.Info("account_email_verified", slog.String("user_id", userID))
	return nil
}

/*
SetStatus changes the administrative status of an identity.

Description: Suspending or banning immediately revokes every session so the
change takes effect without waiting for access tokens to expire.
*/
func (service *Service) SetStatus(ctx context.Context, userID string, status Status, actor string) error {
	if !status.Valid() {
		return apperr.ValidationError("Invalid account status")
	}

	if err := service.repository.SetStatus(ctx, userID, status, actor, service.now()); err != nil {
		return fmt.Errorf("account_service_set_status_failed: %w", err)
	}

	if (status == StatusSuspended || status == StatusBanned) && service.sessions != nil {
		if err := service.sessions.RevokeAll(ctx, userID, "account "+string(status)); err != nil {
			return fmt.Errorf("account_service_set_status_revoke_failed: %w", err)
		}
	}

	service.logger.Warn("account_status_changed",
		slog.String("user_id", userID),
		slog.String("status", string(status)),
		slog.String("actor", actor),
	)
	return nil
}

// DeleteAccount soft-deletes the identity and signs it out everywhere.
func (service *Service) DeleteAccount(ctx context.Context, userID, actor string) error {
	if err := service.repository.SoftDelete(ctx, userID, actor, service.now()); err != nil {
		return fmt.Errorf("account_service_delete_failed: %w", err)
	}

	if service.sessions != nil {
		if err := service.sessions.RevokeAll(ctx, userID, "account deleted"); err != nil {
			return fmt.Errorf("account_service_delete_revoke_failed: %w", err)
		}
	}

	service.logger.Info("account_deleted", slog.String("user_id", userID), slog.String("actor", actor))
	return nil
}
