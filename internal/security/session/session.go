// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package session issues, rotates and revokes refresh tokens and the sessions
they keep alive.

A refresh token moves through Active -> RotatedOut | Revoked | Expired. Every
rotation consumes the presented token and creates its successor in one
transaction, so a token can be exchanged exactly once. Presenting a token that
was already exchanged is treated as theft: every token and session of the
owner is revoked.
*/
package session

import (
	"context"
	"time"

	"github.com/taibuivan/agora/internal/platform/sec"
)

// End reasons written to session.endreason and refreshtoken.revokedreason.
const (
	ReasonLogout      = "logout"
	ReasonExpired     = "expired"
	ReasonReplay      = "token replay"
	ReasonUserRevoked = "revoked by user"
	ReasonRotated     = "rotated"
)

// RefreshToken is the persisted half of a refresh credential. The raw token
// is only ever held by the client; rows carry its SHA-256 digest.
type RefreshToken struct {
	ID              string
	UserID          string
	TokenHash       string
	JwtID           string
	SessionID       string
	DeviceID        string
	IsUsed          bool
	IsRevoked       bool
	RevokedReason   *string
	RevokedAt       *time.Time
	ExpiresAt       time.Time
	ReplacedByToken *string
	CreatedByIP     string
	CreatedAt       time.Time
}

// Active reports whether the token can still be exchanged at now.
func (token *RefreshToken) Active(now time.Time) bool {
	return !token.IsUsed && !token.IsRevoked && now.Before(token.ExpiresAt)
}

// Session is one signed-in client of an identity.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"-"`
	SessionTokenHash string     `json:"-"`
	RefreshTokenID   string     `json:"-"`
	DeviceID         string     `json:"device_id"`
	DeviceName       string     `json:"device_name"`
	Browser          string     `json:"browser"`
	OS               string     `json:"os"`
	IPAddress        string     `json:"ip_address"`
	Country          string     `json:"country,omitempty"`
	City             string     `json:"city,omitempty"`
	IsCurrent        bool       `json:"is_current"`
	IsActive         bool       `json:"is_active"`
	StepUpRequired   bool       `json:"step_up_required"`
	SteppedUpAt      *time.Time `json:"stepped_up_at,omitempty"`
	LastActivityAt   time.Time  `json:"last_activity_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	EndReason        *string    `json:"end_reason,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Subject is the identity a token pair is minted for.
type Subject struct {
	UserID   string
	Username string
	Role     string
}

// Origin describes the client a session is opened from.
type Origin struct {
	DeviceID   string
	DeviceName string
	Browser    string
	OS         string
	IP         string
	Country    string
	City       string
}

// TokenPair is returned to the client after login or refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
}

// ReapResult counts rows removed by [Manager.Reap].
type ReapResult struct {
	Tokens   int64
	Sessions int64
}

// # Persistence

// Store is the session persistence boundary.
type Store interface {
	// Atomic runs fn in one transaction; an error from fn rolls everything back.
	Atomic(ctx context.Context, fn func(tx Tx) error) error

	// FindSession returns apperr.NotFound for an unknown id.
	FindSession(ctx context.Context, sessionID string) (*Session, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	SetStepUp(ctx context.Context, sessionID string, required bool, at time.Time) error

	// Reap deletes tokens and sessions that ended or expired before cutoff.
	Reap(ctx context.Context, cutoff time.Time) (ReapResult, error)
}

// Tx is the set of writes available inside [Store.Atomic].
type Tx interface {
	// LockToken loads the token with tokenHash under a row lock; apperr.NotFound if absent.
	LockToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	InsertToken(ctx context.Context, token *RefreshToken) error
	MarkUsed(ctx context.Context, tokenID, replacedBy string) error
	RevokeToken(ctx context.Context, tokenID, reason string, at time.Time) error
	RevokeUserTokens(ctx context.Context, userID, reason string, at time.Time) (int64, error)

	// InsertSession clears iscurrent on the other sessions of (user, device) first.
	InsertSession(ctx context.Context, session *Session) error
	// LockSession loads a session under a row lock; apperr.NotFound if absent.
	LockSession(ctx context.Context, sessionID string) (*Session, error)
	RepointSession(ctx context.Context, sessionID, tokenID, ip string, expiresAt, at time.Time) error
	EndSession(ctx context.Context, sessionID, reason string, at time.Time) error
	EndUserSessions(ctx context.Context, userID, reason string, at time.Time) (int64, error)
}

// # Collaborators

// Signer mints access tokens.
type Signer interface {
	GenerateAccessToken(subject sec.AccessSubject, timeToLive time.Duration) (string, error)
}

// SubjectSource loads the current subject of a user at refresh time. It
// returns an error for identities that may no longer sign in.
type SubjectSource interface {
	Subject(ctx context.Context, userID string) (Subject, error)
}

// ReplayObserver is told about detected refresh token reuse after the
// family revocation has been committed.
type ReplayObserver interface {
	TokenReplayed(ctx context.Context, userID, tokenID, ip string)
}
