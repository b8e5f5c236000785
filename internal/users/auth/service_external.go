// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/external"
	"github.com/taibuivan/agora/pkg/uuid"
)

// # External Identity Providers

// usernameAttempts bounds the suffixes tried when a derived username is taken.
const usernameAttempts = 3

var handleUnsafe = regexp.MustCompile(`[^a-z0-9_.]+`)

// ExternalProviders lists the configured provider names.
func (service *Service) ExternalProviders() []string {
	if service.providers == nil {
		return nil
	}
	return service.providers.Names()
}

// BeginExternal returns the provider URL to redirect the browser to.
func (service *Service) BeginExternal(ctx context.Context, providerName string) (string, error) {
	provider, err := service.provider(providerName)
	if err != nil {
		return "", err
	}

	state, err := sec.GenerateSecureToken(ExternalStateLength)
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("auth_external_state_failed: %w", err))
	}
	if err := service.states.Put(ctx, state, provider.Name(), ExternalStateTTL); err != nil {
		return "", apperr.Internal(fmt.Errorf("auth_external_state_store_failed: %w", err))
	}

	return provider.AuthCodeURL(state), nil
}

/*
CompleteExternal finishes a provider round trip and signs the user in.

Description: The state must have been issued for the same provider. A known
(provider, subject) link signs into its identity. Otherwise a verified email
matching a live identity is linked to it; an unverified match is refused so a
provider account cannot take over a local one. With no match a new identity is
registered. From there the login continues exactly like a password login.

Returns:
  - *Result: Tokens, or a pending challenge
  - error: TOKEN_INVALID (bad state), UNAUTHORIZED (exchange failed),
    CONFLICT, IP_BLOCKED or ACCOUNT_UNAVAILABLE
*/
func (service *Service) CompleteExternal(ctx context.Context, providerName, state, code string, client Client) (*Result, error) {
	attempt := audit.LoginAttempt{IPAddress: client.IP, DeviceID: client.DeviceID, UserAgent: client.UserAgent}

	if err := service.ipGuard.CheckAllowed(ctx, client.IP); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	provider, err := service.provider(providerName)
	if err != nil {
		return nil, err
	}

	issuedFor, err := service.states.Take(ctx, state)
	if err != nil || issuedFor != provider.Name() {
		return nil, service.deny(ctx, attempt, apperr.TokenInvalid())
	}

	claims, err := provider.Exchange(ctx, code)
	if err != nil {
		service.logger.Warn("auth_external_exchange_failed", slog.String("provider", provider.Name()), slog.Any("error", err))
		return nil, service.deny(ctx, attempt, apperr.Unauthorized("External sign-in failed"))
	}
	attempt.Email = claims.Email

	identity, err := service.reconcile(ctx, claims, client.IP)
	if err != nil {
		return nil, service.deny(ctx, attempt, err)
	}
	attempt.UserID = &identity.ID

	if err := identity.CheckAvailable(); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	return service.continueLogin(ctx, identity, client, attempt, audit.MethodExternal)
}

// reconcile resolves claims to a local identity, linking or registering as needed.
func (service *Service) reconcile(ctx context.Context, claims *external.Claims, ip string) (*account.Identity, error) {
	link, err := service.links.Find(ctx, claims.Provider, claims.Subject)
	if err == nil {
		return service.accounts.FindByID(ctx, link.UserID)
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	if claims.Email == "" {
		return nil, apperr.Unprocessable("The provider did not share an email address")
	}

	identity, err := service.accounts.FindByLogin(ctx, claims.Email)
	switch {
	case err == nil:
		if !claims.EmailVerified {
			return nil, apperr.Conflict("An account with this email already exists. Sign in with your password first.")
		}
	case errors.Is(err, apperr.ErrNotFound):
		identity, err = service.registerExternal(ctx, claims)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if err := service.links.Create(ctx, &external.Link{
		ID:                  uuid.New(),
		UserID:              identity.ID,
		Provider:            claims.Provider,
		ProviderKey:         claims.Subject,
		ProviderDisplayName: claims.Name,
		CreatedAt:           service.now(),
	}); err != nil {
		return nil, err
	}

	service.activity(ctx, identity.ID, ActivityExternalLinked, ip, audit.Metadata{"provider": claims.Provider})
	return identity, nil
}

// registerExternal creates an identity for first-time provider users. The
// random password is never disclosed; the user can set one through password reset.
func (service *Service) registerExternal(ctx context.Context, claims *external.Claims) (*account.Identity, error) {
	password, err := sec.GenerateSecureToken(32)
	if err != nil {
		return nil, apperr.Internal(err)
	}

	base := usernameFrom(claims)
	candidate := base

	var identity *account.Identity
	for i := 0; i < usernameAttempts; i++ {
		identity, err = service.accounts.Register(ctx, account.RegisterInput{
			Username:    candidate,
			Email:       claims.Email,
			Password:    password,
			DisplayName: claims.Name,
		})
		if !errors.Is(err, apperr.ErrConflict) {
			break
		}

		suffix, suffixErr := sec.GenerateNumericCode(4)
		if suffixErr != nil {
			return nil, apperr.Internal(suffixErr)
		}
		candidate = base + "_" + suffix
	}
	if err != nil {
		return nil, err
	}

	if claims.EmailVerified {
		if err := service.accounts.MarkEmailVerified(ctx, identity.ID); err != nil {
			return nil, err
		}
		identity.EmailConfirmed = true
		identity.Status = account.StatusActive
	}
	return identity, nil
}

// ListExternalLinks returns the providers linked to userID.
func (service *Service) ListExternalLinks(ctx context.Context, userID string) ([]external.Link, error) {
	return service.links.ListByUser(ctx, userID)
}

// UnlinkExternal removes a provider link.
func (service *Service) UnlinkExternal(ctx context.Context, userID, providerName string) error {
	return service.links.Delete(ctx, userID, providerName)
}

func (service *Service) provider(name string) (external.Provider, error) {
	if service.providers == nil || service.links == nil || service.states == nil {
		return nil, apperr.NotFound("Identity provider")
	}
	return service.providers.Get(name)
}

// usernameFrom derives a handle from the provider username or the email local part.
func usernameFrom(claims *external.Claims) string {
	base := claims.Username
	if base == "" {
		base, _, _ = strings.Cut(claims.Email, "@")
	}

	base = handleUnsafe.ReplaceAllString(strings.ToLower(base), "")
	if len(base) > 24 {
		base = base[:24]
	}
	if len(base) < 3 {
		base = "user"
	}
	return base
}
