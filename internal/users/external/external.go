// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package external signs users in through third-party identity providers.

A [Provider] turns an authorization code into verified [Claims]. Providers are
registered by name in a [Registry]; the auth orchestrator links the claims to
a local identity through the externallogin table and then treats the sign-in
like any other.

Two variants exist: [OIDCProvider] verifies an ID token against the issuer's
keys, and [OAuth2Provider] reads a userinfo endpoint for providers that only
speak plain OAuth2.
*/
package external

import (
	"context"
	"time"
)

// Claims is what a provider asserts about the signed-in user.
type Claims struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
	Username      string
}

// Provider is one external identity provider.
type Provider interface {
	// Name is the registry key and the value stored in externallogin.provider.
	Name() string
	// AuthCodeURL returns the URL the browser is sent to; state is echoed back on the callback.
	AuthCodeURL(state string) string
	// Exchange redeems an authorization code and returns the verified claims.
	Exchange(ctx context.Context, code string) (*Claims, error)
}

// Link ties a provider account to a local identity.
type Link struct {
	ID                  string    `json:"id"`
	UserID              string    `json:"-"`
	Provider            string    `json:"provider"`
	ProviderKey         string    `json:"-"`
	ProviderDisplayName string    `json:"provider_display_name"`
	CreatedAt           time.Time `json:"created_at"`
}

// LinkStore persists [Link] rows.
type LinkStore interface {
	// Find returns apperr.NotFound when (provider, key) is not linked.
	Find(ctx context.Context, provider, providerKey string) (*Link, error)
	// Create returns apperr.Conflict when (provider, key) is already linked.
	Create(ctx context.Context, link *Link) error
	ListByUser(ctx context.Context, userID string) ([]Link, error)
	Delete(ctx context.Context, userID, provider string) error
}
