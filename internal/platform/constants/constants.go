// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package constants holds values shared across layers: server timing, the
// edge throttle housekeeping, token cookie naming, header names and the Redis
// key taxonomy of the security subsystems.
package constants

import "time"

// # Metadata

const (
	AppName    = "agora-identity"
	AppVersion = "0.1.0-dev"
)

// # Server Timing

const (
	DefaultReadTimeout       = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 120 * time.Second
	DefaultReadHeaderTimeout = 2 * time.Second

	// GlobalRequestTimeout bounds a whole request, and doubles as the
	// PostgreSQL statement_timeout.
	GlobalRequestTimeout = 30 * time.Second

	// ShutdownTimeout is how long in-flight requests get after SIGTERM.
	ShutdownTimeout = 30 * time.Second

	// NotificationTimeout bounds a single delivery attempt of an email or SMS.
	NotificationTimeout = 10 * time.Second
)

// # Edge Throttle Housekeeping

const (
	// RateLimitCleanupInterval is how often idle addresses are swept.
	RateLimitCleanupInterval = 1 * time.Minute

	// RateLimitClientTTL is how long an address must be idle before its bucket is dropped.
	RateLimitClientTTL = 3 * time.Minute
)

// # Authentication

const (
	// AuthIssuer is the standard 'iss' claim in JWTs.
	AuthIssuer = "agora.social"

	// RefreshTokenCookieName is the name of the cookie that stores the refresh token.
	RefreshTokenCookieName = "refresh_token"

	// RefreshTokenCookiePath is the scoped path for the refresh token cookie.
	RefreshTokenCookiePath = "/api/v1/auth"
)

// # HTTP Headers

const (
	HeaderXRequestID     = "X-Request-ID"
	HeaderXRealIP        = "X-Real-IP"
	HeaderXForwardedFor  = "X-Forwarded-For"
	HeaderOrigin         = "Origin"
	HeaderAuthorization  = "Authorization"
	HeaderRetryAfter     = "Retry-After"
	HeaderDeviceID       = "X-Device-ID"
	HeaderAcceptLanguage = "Accept-Language"
)

// # Database Schemas

const (
	SchemaIdentity = "identity"
)

// # Redis Prefixes
//
// auth:* keys belong to the sign-in flows and expire with them; risk:* keys
// hold behavioural signals and roll over on their own windows.

const (
	RedisPrefixResetToken    = "auth:reset_token:"
	RedisPrefixVerifyToken   = "auth:verify_token:"
	RedisPrefixChallenge     = "auth:challenge:"
	RedisPrefixLoginRate     = "auth:login_rate:"
	RedisPrefixTOTPPending   = "auth:totp_pending:"
	RedisPrefixTOTPUsed      = "auth:totp_used:"
	RedisPrefixFactorAnswers = "auth:factor_answers:"
	RedisPrefixOAuthState    = "auth:oauth_state:"
	RedisPrefixRiskLast      = "risk:last:"
	RedisPrefixRiskHours     = "risk:hours:"
	RedisPrefixRiskFails     = "risk:fails:"
)
