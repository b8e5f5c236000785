// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package credential verifies passwords and enforces account lockout.

The lockout check always precedes the password comparison and reads the
row, never the caller's copy of the identity. A locked account still pays for
one bcrypt comparison, so response timing does not reveal whether the
password was right.

# Concurrency

The failure counter is advanced by a single UPDATE ... RETURNING statement.
Two concurrent failures can never both observe the pre-increment value and
miss the threshold, and a failure that lands on a locked row neither extends
the lock nor restarts the counter.
*/
package credential

import (
	"context"
	"time"
)

// Policy configures the lockout behaviour.
type Policy struct {
	// Threshold is the number of consecutive failures that triggers a lockout.
	Threshold int
	// Window is how long the lockout lasts.
	Window time.Duration
}

// DefaultPolicy is five failures, fifteen minutes.
var DefaultPolicy = Policy{Threshold: 5, Window: 15 * time.Minute}

// Failure is the counter state after a recorded failure.
type Failure struct {
	Count       int
	LockedUntil *time.Time
}

// Store persists the credential columns of identity.account.
type Store interface {
	// LockedUntil reads the lockout of userID from the row. It returns nil
	// unless lockout is enabled and still open at now.
	LockedUntil(ctx context.Context, userID string, now time.Time) (*time.Time, error)

	/*
		IncrementFailure atomically advances the failure counter.

		Description: When the incremented value reaches threshold (and lockout is
		enabled for the identity) the row is locked until lockUntil and the counter
		restarts from zero. A row still locked at now is returned unchanged.
	*/
	IncrementFailure(ctx context.Context, userID string, threshold int, now, lockUntil time.Time) (Failure, error)

	// ResetFailures zeroes the counter and clears any elapsed lockout.
	ResetFailures(ctx context.Context, userID string, now time.Time) error

	// UpdatePassword stores a new hash with a fresh security stamp.
	UpdatePassword(ctx context.Context, userID, hash, securityStamp, actor string, at time.Time) error

	// Unlock clears an active lockout. Administrative.
	Unlock(ctx context.Context, userID string) error
}

// TokenRevoker revokes every refresh token and session of an identity.
type TokenRevoker interface {
	RevokeAll(ctx context.Context, userID, reason string) error
}

// ReasonPasswordChanged is recorded on tokens revoked by a password change.
const ReasonPasswordChanged = "password changed"
