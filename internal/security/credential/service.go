// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package credential

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/platform/validate"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/pkg/uuid"
)

// Service is the credential store.
type Service struct {
	store   Store
	revoker TokenRevoker
	policy  Policy
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a credential [Service].
func NewService(store Store, revoker TokenRevoker, policy Policy, logger *slog.Logger) *Service {
	if policy.Threshold <= 0 {
		policy.Threshold = DefaultPolicy.Threshold
	}
	if policy.Window <= 0 {
		policy.Window = DefaultPolicy.Window
	}
	return &Service{
		store:   store,
		revoker: revoker,
		policy:  policy,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (service *Service) WithClock(now func() time.Time) *Service {
	service.now = now
	return service
}

// # Verification

/*
Verify checks plaintext against the identity's password.

Returns:
  - nil: Password matched; the failure counter has been reset
  - error: AccountLocked while the lockout window is open (regardless of the
    password), InvalidCredentials on mismatch, or a storage failure
*/
func (service *Service) Verify(ctx context.Context, identity *account.Identity, plaintext string) error {
	lockedUntil, err := service.store.LockedUntil(ctx, identity.ID, service.now())
	if err != nil {
		sec.CompareDummy(plaintext)
		return apperr.Internal(fmt.Errorf("credential_lockout_read_failed: %w", err))
	}
	if lockedUntil != nil {
		identity.LockoutEnd = lockedUntil
		sec.CompareDummy(plaintext)
		return apperr.AccountLocked()
	}

	if !sec.CheckPasswordHash(plaintext, identity.PasswordHash) {
		if err := service.RecordFailure(ctx, identity); err != nil {
			return err
		}
		return apperr.InvalidCredentials()
	}

	return service.RecordSuccess(ctx, identity)
}

// VerifyDummy burns one bcrypt comparison for logins naming no known identity.
func (service *Service) VerifyDummy(plaintext string) {
	sec.CompareDummy(plaintext)
}

// RecordFailure advances the counter and applies a lockout at the threshold.
// A storage failure aborts the login rather than continuing on a stale counter.
func (service *Service) RecordFailure(ctx context.Context, identity *account.Identity) error {
	now := service.now()

	failure, err := service.store.IncrementFailure(ctx, identity.ID, service.policy.Threshold, now, now.Add(service.policy.Window))
	if err != nil {
		return apperr.Internal(fmt.Errorf("credential_record_failure_failed: %w", err))
	}

	identity.AccessFailedCount = failure.Count
	identity.LockoutEnd = failure.LockedUntil

	if identity.LockedOut(now) {
		service.logger.Warn("credential_lockout_applied",
			slog.String("user_id", identity.ID),
			slog.Time("lockout_end", *failure.LockedUntil),
		)
	}
	return nil
}

// RecordSuccess resets the counter. It skips the write when there is nothing to reset.
func (service *Service) RecordSuccess(ctx context.Context, identity *account.Identity) error {
	if identity.AccessFailedCount == 0 && identity.LockoutEnd == nil {
		return nil
	}

	if err := service.store.ResetFailures(ctx, identity.ID, service.now()); err != nil {
		return apperr.Internal(fmt.Errorf("credential_record_success_failed: %w", err))
	}

	identity.AccessFailedCount = 0
	identity.LockoutEnd = nil
	return nil
}

// # Password Management

/*
SetPassword replaces the password, regenerates the security stamp and revokes
every outstanding refresh token of the identity.

Description: The revocation is part of the operation; if it fails the caller
sees the error even though the new hash is already stored.
*/
func (service *Service) SetPassword(ctx context.Context, identity *account.Identity, newPlaintext, actor string) error {
	v := &validate.Validator{}
	v.Password("password", newPlaintext)
	if err := v.Err(); err != nil {
		return err
	}

	hash, err := sec.HashPassword(newPlaintext)
	if err != nil {
		return apperr.Internal(fmt.Errorf("credential_set_password_hash_failed: %w", err))
	}

	stamp := uuid.New()
	if err := service.store.UpdatePassword(ctx, identity.ID, hash, stamp, actor, service.now()); err != nil {
		return fmt.Errorf("credential_set_password_failed: %w", err)
	}

	identity.PasswordHash = hash
	identity.SecurityStamp = stamp

	if err := service.revoker.RevokeAll(ctx, identity.ID, ReasonPasswordChanged); err != nil {
		return fmt.Errorf("credential_set_password_revoke_failed: %w", err)
	}

	service.logger.Info("credential_password_changed",
		slog.String("user_id", identity.ID),
		slog.String("actor", actor),
	)
	return nil
}

// ChangePassword verifies the current password before replacing it.
// A wrong current password counts toward the lockout like any failed login.
func (service *Service) ChangePassword(ctx context.Context, identity *account.Identity, current, next string) error {
	if err := service.Verify(ctx, identity, current); err != nil {
		return err
	}
	return service.SetPassword(ctx, identity, next, identity.ID)
}

// Unlock lifts an active lockout ahead of its expiry.
func (service *Service) Unlock(ctx context.Context, userID, actor string) error {
	if err := service.store.Unlock(ctx, userID); err != nil {
		return fmt.Errorf("credential_unlock_failed: %w", err)
	}
	service.logger.Info("credential_unlocked", slog.String("user_id", userID), slog.String("actor", actor))
	return nil
}
