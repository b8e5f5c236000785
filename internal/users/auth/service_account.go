// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/notify"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/platform/validate"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/users/account"
)

// # Registration Flow

/*
Register creates a pending identity and emails its verification token.

Description: A failure to store or send the token does not undo the
registration; the user can ask for a new token later.

Parameters:
  - ctx: context.Context
  - input: account.RegisterInput
  - ip: string

Returns:
  - *account.Identity: Created entity
  - error: VALIDATION_ERROR, CONFLICT or storage errors
*/
func (service *Service) Register(ctx context.Context, input account.RegisterInput, ip string) (*account.Identity, error) {
	identity, err := service.accounts.Register(ctx, input)
	if err != nil {
		return nil, err
	}

	service.activity(ctx, identity.ID, ActivityRegistered, ip, nil)
	service.sendVerification(ctx, identity)
	return identity, nil
}

// ResendVerification issues a fresh verification token for an unverified identity.
func (service *Service) ResendVerification(ctx context.Context, userID string) error {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if identity.EmailConfirmed {
		return apperr.Conflict("Email is already verified")
	}
	service.sendVerification(ctx, identity)
	return nil
}

func (service *Service) sendVerification(ctx context.Context, identity *account.Identity) {
	token, err := sec.GenerateSecureToken(VerificationTokenLength)
	if err != nil {
		service.logger.Error("auth_verify_token_failed", slog.Any("error", err))
		return
	}

	if err := service.verifyTokens.Put(ctx, token, identity.ID, service.config.VerifyTokenTTL); err != nil {
		service.logger.Error("auth_verify_token_store_failed", slog.String("user_id", identity.ID), slog.Any("error", err))
		return
	}

	service.notifier.Dispatch(ctx, notify.Message{
		Channel: notify.ChannelEmail,
		To:      identity.Email,
		Subject: "Confirm your email address",
		Text:    fmt.Sprintf("Welcome to Agora, %s.\n\nYour email confirmation token is:\n\n%s\n\nIt expires in %s.", identity.Username, token, service.config.VerifyTokenTTL),
	})
}

/*
VerifyEmail confirms a user's email address using a secure token.

Parameters:
  - ctx: context.Context
  - token: string

Returns:
  - error: TOKEN_INVALID for unknown or used tokens, storage errors otherwise
*/
func (service *Service) VerifyEmail(ctx context.Context, token string) error {
	userID, err := service.verifyTokens.Take(ctx, token)
	if err != nil {
		return tokenError(err)
	}

	if err := service.accounts.MarkEmailVerified(ctx, userID); err != nil {
		return fmt.Errorf("auth_service_verify_email_failed: %w", err)
	}

	service.activity(ctx, userID, ActivityEmailVerified, "", nil)
	return nil
}

// # Password Recovery

/*
RequestPasswordReset emails a reset token when login names a live identity.

Description: Unknown logins succeed silently so the endpoint cannot be used to
enumerate accounts.
*/
func (service *Service) RequestPasswordReset(ctx context.Context, login, ip string) error {
	identity, err := service.accounts.FindByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if identity.CheckAvailable() != nil {
		return nil
	}

	token, err := sec.GenerateSecureToken(ResetTokenLength)
	if err != nil {
		return apperr.Internal(fmt.Errorf("auth_service_generate_reset_token_failed: %w", err))
	}

	if err := service.resetTokens.Put(ctx, token, identity.ID, service.config.ResetTokenTTL); err != nil {
		return apperr.Internal(fmt.Errorf("auth_service_save_reset_token_failed: %w", err))
	}

	service.notifier.Dispatch(ctx, notify.Message{
		Channel: notify.ChannelEmail,
		To:      identity.Email,
		Subject: "Reset your password",
		Text:    fmt.Sprintf("A password reset was requested from %s.\n\nYour reset token is:\n\n%s\n\nIt expires in %s. Ignore this email if it was not you.", ip, token, service.config.ResetTokenTTL),
	})
	return nil
}

/*
ResetPassword completes the forgot-password flow.

Description: The new password is validated before the token is redeemed, so a
weak password does not burn the token. Setting the password revokes every
session of the identity.
*/
func (service *Service) ResetPassword(ctx context.Context, token, newPassword, ip string) error {
	if err := validatePassword(FieldPassword, newPassword); err != nil {
		return err
	}

	userID, err := service.resetTokens.Take(ctx, token)
	if err != nil {
		return tokenError(err)
	}

	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return tokenError(err)
	}

	if err := service.credentials.SetPassword(ctx, identity, newPassword, identity.ID); err != nil {
		return err
	}

	service.passwordChanged(ctx, identity, ActivityPasswordReset, ip)
	return nil
}

/*
ChangePassword updates the authenticated user's password.

Description: The current password is checked like a login and counts toward
the lockout. On success every session, including the caller's, is revoked.
*/
func (service *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, ip string) error {
	if err := validatePassword(FieldNewPassword, newPassword); err != nil {
		return err
	}

	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := service.credentials.ChangePassword(ctx, identity, currentPassword, newPassword); err != nil {
		return err
	}

	service.passwordChanged(ctx, identity, ActivityPasswordChanged, ip)
	return nil
}

func (service *Service) passwordChanged(ctx context.Context, identity *account.Identity, activity, ip string) {
	service.activity(ctx, identity.ID, activity, ip, nil)
	service.alert(ctx, identity.ID, audit.AlertPasswordChanged, audit.SeverityLow, "Password changed", audit.Metadata{"ip": ip})

	service.notifier.Dispatch(ctx, notify.Message{
		Channel: notify.ChannelEmail,
		To:      identity.Email,
		Subject: "Your password was changed",
		Text:    "The password of your Agora account was just changed and every device was signed out. If this was not you, reset your password immediately.",
	})
}

// # Helpers

func validatePassword(field, password string) error {
	v := &validate.Validator{}
	v.Password(field, password)
	return v.Err()
}

// tokenError hides whether a single-use token never existed or was already used.
func tokenError(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.TokenInvalid()
	}
	return err
}
