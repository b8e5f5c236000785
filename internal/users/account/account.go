// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package account owns the UserIdentity aggregate: registration, lookup by login,
profile updates and soft deletion.

Credential, second-factor and lockout state live on the same row but are
mutated only by the security packages; this package never touches them after
registration.

# Architecture

  - Entities: Identity (embeds database.AuditFields).
  - Normalization: emails and usernames are unique on their NFKC case-folded form.
  - Lifecycle: pending -> active on email verification; suspended/banned by admins;
    soft-deleted, never hard-deleted.
*/
package account

import (
	"context"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/database"
	"github.com/taibuivan/agora/internal/platform/sec"
)

// # Enumerations

// Status is the administrative state of an identity.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusPending   Status = "pending"
	StatusBanned    Status = "banned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusPending, StatusBanned:
		return true
	}
	return false
}

// TwoFactorType is the second factor an identity has enrolled.
type TwoFactorType string

const (
	TwoFactorNone  TwoFactorType = "none"
	TwoFactorEmail TwoFactorType = "email"
	TwoFactorSMS   TwoFactorType = "sms"
	TwoFactorTOTP  TwoFactorType = "totp"
)

// VerificationStatus tracks which contact points have been confirmed.
type VerificationStatus string

const (
	VerificationNone  VerificationStatus = "unverified"
	VerificationEmail VerificationStatus = "email"
	VerificationPhone VerificationStatus = "phone"
	VerificationFull  VerificationStatus = "full"
)

// # Domain Entities

// Identity is a registered platform user together with its security state.
type Identity struct {
	ID                 string             `json:"id"`
	Username           string             `json:"username"`
	NormalizedUsername string             `json:"-"`
	Email              string             `json:"email"`
	NormalizedEmail    string             `json:"-"`
	EmailConfirmed     bool               `json:"email_confirmed"`
	PhoneNumber        *string            `json:"phone_number,omitempty"`
	PhoneConfirmed     bool               `json:"phone_confirmed"`
	PasswordHash       string             `json:"-"`
	SecurityStamp      string             `json:"-"`
	ConcurrencyStamp   string             `json:"-"`
	TwoFactorType      TwoFactorType      `json:"two_factor_type"`
	TwoFactorSecret    *string            `json:"-"`
	Role               sec.UserRole       `json:"role"`
	Status             Status             `json:"status"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	LockoutEnabled     bool               `json:"-"`
	LockoutEnd         *time.Time         `json:"-"`
	AccessFailedCount  int                `json:"-"`
	DisplayName        string             `json:"display_name"`

	database.AuditFields
}

// TwoFactorEnabled reports whether login requires a second factor.
func (identity *Identity) TwoFactorEnabled() bool {
	return identity.TwoFactorType != "" && identity.TwoFactorType != TwoFactorNone
}

// LockedOut reports whether the lockout window is still open at now.
func (identity *Identity) LockedOut(now time.Time) bool {
	return identity.LockoutEnabled && identity.LockoutEnd != nil && identity.LockoutEnd.After(now)
}

// CheckAvailable returns AccountUnavailable for identities that may not sign in.
// Pending identities are allowed; they only lack a verified email.
func (identity *Identity) CheckAvailable() error {
	if identity.Deleted() {
		return apperr.AccountUnavailable()
	}
	switch identity.Status {
	case StatusSuspended, StatusBanned:
		return apperr.AccountUnavailable()
	}
	return nil
}

// Phone returns the phone number or "" when none is set.
func (identity *Identity) Phone() string {
	if identity.PhoneNumber == nil {
		return ""
	}
	return *identity.PhoneNumber
}

// # Repository Contracts

// Repository defines the persistence contract for identities.
//
// Every finder excludes soft-deleted rows.
type Repository interface {
	/*
		Create inserts a new identity.

		Returns:
		  - error: apperr.Conflict when the email or username is already taken
	*/
	Create(ctx context.Context, identity *Identity) error

	// FindByID retrieves an identity by its primary key.
	FindByID(ctx context.Context, id string) (*Identity, error)

	// FindByLogin retrieves an identity whose normalized email or username equals login.
	FindByLogin(ctx context.Context, normalizedLogin string) (*Identity, error)

	// LoginTaken reports which of the normalized identifiers already belong to a live identity.
	LoginTaken(ctx context.Context, normalizedEmail, normalizedUsername string) (emailTaken, usernameTaken bool, err error)

	// UpdateProfile persists display name and phone fields along with the audit columns.
	UpdateProfile(ctx context.Context, identity *Identity) error

	// MarkEmailVerified confirms the email and activates a pending identity.
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error

	// SetStatus changes the administrative status.
	SetStatus(ctx context.Context, id string, status Status, actor string, at time.Time) error

	// SoftDelete flags the identity as deleted.
	SoftDelete(ctx context.Context, id, actor string, at time.Time) error
}

// SessionRevoker ends every session of an identity. Implemented by the session manager.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID, reason string) error
}
