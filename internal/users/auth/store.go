// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"time"
)

// # Volatile Data Access

// TokenStore holds single-use opaque tokens (password reset, email
// verification, external provider state) mapped to a value.
type TokenStore interface {

	/*
		Put stores value under token for a limited duration.

		Parameters:
		  - ctx: context.Context
		  - token: string
		  - value: string
		  - ttl: time.Duration

		Returns:
		  - error: Persistence failures
	*/
	Put(ctx context.Context, token, value string, ttl time.Duration) error

	/*
		Take returns the value stored under token and removes it atomically.

		Description: Of two concurrent calls with the same token only one sees the value.

		Returns:
		  - string: The stored value
		  - error: apperr.NotFound when the token is absent or expired
	*/
	Take(ctx context.Context, token string) (string, error)
}

// ChallengeStore holds pending login challenges.
type ChallengeStore interface {

	/*
		Put stores a pending challenge with a zero attempt counter.

		Parameters:
		  - ctx: context.Context
		  - token: string
		  - pending: *PendingChallenge
		  - ttl: time.Duration

		Returns:
		  - error: Persistence failures
	*/
	Put(ctx context.Context, token string, pending *PendingChallenge, ttl time.Duration) error

	// Get returns apperr.NotFound when the challenge is absent or expired.
	Get(ctx context.Context, token string) (*PendingChallenge, error)

	// CountAttempt increments the attempt counter and returns its new value.
	// It returns apperr.NotFound when the challenge is gone.
	CountAttempt(ctx context.Context, token string) (int, error)

	// Consume deletes the challenge and reports whether this call removed it.
	Consume(ctx context.Context, token string) (bool, error)
}
