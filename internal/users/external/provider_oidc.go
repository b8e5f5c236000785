// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package external

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// OIDCConfig describes an OpenID Connect provider.
type OIDCConfig struct {
	Name         string
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GoogleIssuer is the issuer URL of Google accounts.
const GoogleIssuer = "https://accounts.google.com"

// OIDCProvider verifies ID tokens issued by an OpenID Connect provider.
type OIDCProvider struct {
	name     string
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// NewOIDCProvider discovers the issuer's endpoints and keys. It performs a network call.
func NewOIDCProvider(ctx context.Context, config OIDCConfig) (*OIDCProvider, error) {
	provider, err := oidc.NewProvider(ctx, config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("external: failed to discover %s: %w", config.Name, err)
	}

	return &OIDCProvider{
		name: config.Name,
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: provider.Verifier(&oidc.Config{ClientID: config.ClientID}),
	}, nil
}

// Name implements [Provider].
func (provider *OIDCProvider) Name() string { return provider.name }

// AuthCodeURL implements [Provider].
func (provider *OIDCProvider) AuthCodeURL(state string) string {
	return provider.oauth.AuthCodeURL(state)
}

type idTokenClaims struct {
	Email             string `json:"email"`
	EmailVerified     bool   `json:"email_verified"`
	Name              string `json:"name"`
	PreferredUsername string `json:"preferred_username"`
}

// Exchange redeems code and verifies the returned ID token.
func (provider *OIDCProvider) Exchange(ctx context.Context, code string) (*Claims, error) {
	token, err := provider.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("external_oidc_exchange_failed: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, fmt.Errorf("external_oidc_missing_id_token: %s", provider.name)
	}

	idToken, err := provider.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("external_oidc_verify_failed: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("external_oidc_claims_failed: %w", err)
	}

	return &Claims{
		Provider:      provider.name,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
		Username:      claims.PreferredUsername,
	}, nil
}
