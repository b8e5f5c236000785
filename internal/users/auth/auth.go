// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth orchestrates sign-in and account security.

A password login passes through the IP reputation guard, a per-account rate
limit, the credential store, the device registry and the risk scorer, in that
order. It ends with a token pair, or with a pending challenge when a second
factor is required or the attempt looks suspicious. Every decision point writes
to the audit recorder. Audit failures are logged and never change the outcome.

The package also hosts registration, email verification, password recovery,
second-factor management, step-up re-verification and external provider
sign-in, together with their HTTP handlers.
*/
package auth

import (
	"context"
	"time"

	"github.com/taibuivan/agora/internal/platform/notify"
	redisstore "github.com/taibuivan/agora/internal/platform/redis"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/device"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/security/risk"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/external"
)

// # Inputs & Results

// Client describes the caller of an authentication request.
type Client struct {
	IP             string
	UserAgent      string
	DeviceID       string
	DeviceName     string
	AcceptLanguage string
}

func (client Client) metadata() device.Metadata {
	return device.Metadata{
		DeviceID:       client.DeviceID,
		Name:           client.DeviceName,
		UserAgent:      client.UserAgent,
		AcceptLanguage: client.AcceptLanguage,
		IP:             client.IP,
	}
}

// Credentials is a password login attempt.
type Credentials struct {
	Login    string
	Password string
	Client   Client
}

// Challenge is returned instead of tokens when the login needs another factor.
type Challenge struct {
	Token     string    `json:"challenge_token"`
	Method    string    `json:"method"`
	Target    string    `json:"target,omitempty"`
	Reason    string    `json:"reason"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Result is the outcome of a login that was not denied. Exactly one of
// Tokens and Challenge is set.
type Result struct {
	Tokens    *session.TokenPair `json:"tokens,omitempty"`
	Challenge *Challenge         `json:"challenge,omitempty"`
	User      *account.Identity  `json:"user,omitempty"`
}

// PendingChallenge is the server-side state of a [Challenge].
type PendingChallenge struct {
	UserID     string  `json:"user_id"`
	Reason     string  `json:"reason"`
	Method     string  `json:"method"`
	LoginVia   string  `json:"login_via"`
	DeviceID   string  `json:"device_id"`
	DeviceName string  `json:"device_name"`
	Browser    string  `json:"browser"`
	OS         string  `json:"os"`
	IP         string  `json:"ip"`
	UserAgent  string  `json:"user_agent"`
	RiskScore  int     `json:"risk_score"`
	Located    bool    `json:"located"`
	Country    string  `json:"country,omitempty"`
	City       string  `json:"city,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
}

// # Collaborators

// Accounts is the identity store.
type Accounts interface {
	Register(ctx context.Context, input account.RegisterInput) (*account.Identity, error)
	FindByID(ctx context.Context, id string) (*account.Identity, error)
	FindByLogin(ctx context.Context, login string) (*account.Identity, error)
	MarkEmailVerified(ctx context.Context, userID string) error
}

// CredentialVerifier verifies and replaces passwords.
type CredentialVerifier interface {
	Verify(ctx context.Context, identity *account.Identity, plaintext string) error
	VerifyDummy(plaintext string)
	SetPassword(ctx context.Context, identity *account.Identity, newPlaintext, actor string) error
	ChangePassword(ctx context.Context, identity *account.Identity, current, next string) error
}

// SecondFactor is the second-factor engine.
type SecondFactor interface {
	IssueOTP(ctx context.Context, identity *account.Identity, purpose twofactor.Purpose, method twofactor.Method) (*twofactor.Issued, error)
	VerifySecondFactor(ctx context.Context, identity *account.Identity, purpose twofactor.Purpose, code, ip string) error
	EnrollTOTP(ctx context.Context, identity *account.Identity) (*twofactor.Enrollment, error)
	ConfirmTOTP(ctx context.Context, identity *account.Identity, code string) ([]string, error)
	EnableOTPMethod(ctx context.Context, identity *account.Identity, method twofactor.Method) ([]string, error)
	Disable(ctx context.Context, identity *account.Identity) error
	GenerateBackupCodes(ctx context.Context, identity *account.Identity) ([]string, error)
	RemainingBackupCodes(ctx context.Context, identity *account.Identity) (int, error)
	ConfirmPhone(ctx context.Context, identity *account.Identity, code string) error
}

// Devices is the device registry.
type Devices interface {
	Recognize(ctx context.Context, userID string, meta device.Metadata) (*device.Device, bool, error)
	Trust(ctx context.Context, userID, deviceID string) error
	RevokeTrust(ctx context.Context, userID, deviceID string) error
	List(ctx context.Context, userID string) ([]device.Device, error)
	Forget(ctx context.Context, userID, deviceID string) error
}

// RiskScorer assesses login attempts.
type RiskScorer interface {
	Score(ctx context.Context, attempt risk.Attempt) risk.Assessment
	RecordSuccess(ctx context.Context, userID, ip string, location risk.Location, located bool)
	RecordFailure(ctx context.Context, userID string)
}

// Sessions is the session and token manager.
type Sessions interface {
	Issue(ctx context.Context, subject session.Subject, origin session.Origin) (*session.TokenPair, error)
	Rotate(ctx context.Context, rawToken, ip string) (*session.TokenPair, error)
	Revoke(ctx context.Context, rawToken, reason string) error
	End(ctx context.Context, sessionID, reason string) error
	RevokeAll(ctx context.Context, userID, reason string) error
	RevokeSession(ctx context.Context, userID, sessionID string) error
	RequireStepUp(ctx context.Context, sessionID string) error
	ClearStepUp(ctx context.Context, sessionID string) error
	ListActive(ctx context.Context, userID string) ([]session.Session, error)
}

// IPGuard is the IP reputation guard.
type IPGuard interface {
	CheckAllowed(ctx context.Context, ip string) error
	RecordFailure(ctx context.Context, ip string) (*ipguard.Record, error)
}

// Auditor is the append-only audit sink.
type Auditor interface {
	RecordAttempt(ctx context.Context, attempt audit.LoginAttempt)
	RecordLogin(ctx context.Context, login audit.LoginHistory)
	RecordActivity(ctx context.Context, activity audit.UserActivity)
	RaiseAlert(ctx context.Context, alert audit.SecurityAlert) audit.SecurityAlert
}

// Notifier delivers email and SMS without blocking.
type Notifier interface {
	Dispatch(ctx context.Context, message notify.Message)
}

// LoginLimiter throttles login attempts per account identifier.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (redisstore.LimitResult, error)
}

// Providers resolves external identity providers by name.
type Providers interface {
	Get(name string) (external.Provider, error)
	Names() []string
}
