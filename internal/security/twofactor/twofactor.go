// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package twofactor issues and verifies second-factor challenges.

Three mechanisms are supported: one-time codes delivered by email or SMS,
time-based codes from an authenticator app (TOTP), and single-use backup codes.

# State Machine

A one-time code moves Issued -> Verified | Expired | Exhausted. Issuing a new
code for the same identity and purpose expires every earlier active code, so at
most one code per purpose can ever be verified. Codes are stored as SHA-256
hashes and compared in constant time.
*/
package twofactor

import (
	"context"
	"time"

	"github.com/taibuivan/agora/internal/platform/notify"
	"github.com/taibuivan/agora/internal/users/account"
)

// # Enumerations

// Purpose scopes a one-time code to the flow that requested it.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeStepUp        Purpose = "step_up"
	PurposePasswordReset Purpose = "password_reset"
	PurposeVerifyEmail   Purpose = "verify_email"
	PurposeVerifyPhone   Purpose = "verify_phone"
)

// Method is the delivery channel of a one-time code.
type Method string

const (
	MethodEmail Method = "email"
	MethodSMS   Method = "sms"
)

// Verdict is the outcome of one verification attempt against a locked code.
type Verdict int

const (
	VerdictMismatch Verdict = iota
	VerdictMatch
	VerdictExhausted
)

// # Entities

// Code is a persisted one-time code.
type Code struct {
	ID          string
	UserID      string
	Purpose     Purpose
	Method      Method
	Target      string
	CodeHash    string
	IsUsed      bool
	UsedAt      *time.Time
	Attempts    int
	MaxAttempts int
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Issued describes a freshly dispatched code without revealing it.
type Issued struct {
	Method    Method    `json:"method"`
	Target    string    `json:"target"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Enrollment is a pending TOTP secret awaiting confirmation.
type Enrollment struct {
	Secret string `json:"secret"`
	URL    string `json:"otpauth_url"`
}

// # Contracts

// CodeStore persists one-time codes.
type CodeStore interface {
	// Replace expires every active code for (code.UserID, code.Purpose) and inserts code, atomically.
	Replace(ctx context.Context, code *Code) error

	/*
		Attempt locks the newest active code for (userID, purpose) and applies judge.

		Description: The store persists the verdict in the same transaction that
		holds the row lock: a match marks the code used, a mismatch increments
		attempts, exhaustion changes nothing.

		Returns:
		  - Verdict: the judge's decision
		  - error: apperr.NotFound when no unexpired, unused code exists
	*/
	Attempt(ctx context.Context, userID string, purpose Purpose, now time.Time, judge func(Code) Verdict) (Verdict, error)
}

// BackupStore persists hashed backup codes.
type BackupStore interface {
	// ReplaceBackupCodes deletes the existing set and stores hashes.
	ReplaceBackupCodes(ctx context.Context, userID string, hashes []string, at time.Time) error

	// ConsumeBackupCode marks the matching unused code as used. It reports false when none matched.
	ConsumeBackupCode(ctx context.Context, userID, hash, ip string, at time.Time) (bool, error)

	// RemainingBackupCodes counts unused codes.
	RemainingBackupCodes(ctx context.Context, userID string) (int, error)

	// DeleteBackupCodes removes every code of the identity.
	DeleteBackupCodes(ctx context.Context, userID string) error
}

// AccountStore writes the second-factor columns of identity.account.
type AccountStore interface {
	// SetTwoFactor stores the enrolled type and secret with a fresh security stamp.
	SetTwoFactor(ctx context.Context, userID string, kind account.TwoFactorType, secret *string, stamp string, at time.Time) error

	// ConfirmPhone flags the identity's phone number as verified.
	ConfirmPhone(ctx context.Context, userID string, at time.Time) error
}

// PendingStore holds volatile TOTP state.
type PendingStore interface {
	PutEnrollment(ctx context.Context, userID, secret string, ttl time.Duration) error
	GetEnrollment(ctx context.Context, userID string) (string, error)
	DeleteEnrollment(ctx context.Context, userID string) error

	// MarkTOTPUsed records code as spent and reports whether this call was the first.
	MarkTOTPUsed(ctx context.Context, userID, code string, ttl time.Duration) (bool, error)

	// CountAnswer increments the answer counter of userID and returns the new
	// value. The window starts at the first answer.
	CountAnswer(ctx context.Context, userID string, window time.Duration) (int, error)
	ResetAnswers(ctx context.Context, userID string) error
}

// Notifier delivers a message without blocking the caller. Implemented by notify.Dispatcher.
type Notifier interface {
	Dispatch(ctx context.Context, message notify.Message)
}
