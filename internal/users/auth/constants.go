// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import "time"

// # Authentication Constraints

const (
	// ResetTokenTTL is the duration a password reset token remains valid.
	// Short-lived (1 hour) for security.
	ResetTokenTTL = 1 * time.Hour

	// ResetTokenLength is the byte length of the random password reset token.
	ResetTokenLength = 32

	// VerificationTokenTTL is the duration an email verification token remains valid.
	// Long-lived (24 hours) as users might not check email immediately.
	VerificationTokenTTL = 24 * time.Hour

	// VerificationTokenLength is the byte length of the random verification token.
	VerificationTokenLength = 32

	// ChallengeTokenLength is the byte length of a pending login challenge handle.
	ChallengeTokenLength = 32

	// ExternalStateTTL bounds the round trip to an external identity provider.
	ExternalStateTTL = 10 * time.Minute

	// ExternalStateLength is the byte length of the OAuth state parameter.
	ExternalStateLength = 24
)

// Challenge reasons.
const (
	ReasonTwoFactor = "two_factor"
	ReasonRisk      = "risk"
)

// Challenge methods in addition to the OTP delivery channels.
const (
	MethodTOTP = "totp"
)

// End reasons written by the orchestrator.
const (
	ReasonSuspiciousLogin   = "suspicious login"
	ReasonLogoutAll         = "logout all"
	ReasonStepUpUnavailable = "step-up unavailable"
)

// Activities recorded in the user activity log.
const (
	ActivityRegistered       = "registered"
	ActivityEmailVerified    = "email_verified"
	ActivityPasswordChanged  = "password_changed"
	ActivityPasswordReset    = "password_reset"
	ActivityTwoFactorEnabled = "two_factor_enabled"
	ActivityTwoFactorOff     = "two_factor_disabled"
	ActivityBackupCodesReset = "backup_codes_regenerated"
	ActivityStepUpCompleted  = "step_up_completed"
	ActivityDeviceTrusted    = "device_trusted"
	ActivityDeviceForgotten  = "device_forgotten"
	ActivityExternalLinked   = "external_login_linked"
	ActivitySessionRevoked   = "session_revoked"
)

// # Field Identifiers

// Global field names for validation and identity mapping in the authentication domain.
const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldDisplayName     = "display_name"
	FieldLogin           = "login"
	FieldToken           = "token"
	FieldCode            = "code"
	FieldMethod          = "method"
	FieldChallengeToken  = "challenge_token"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldAccessToken     = "access_token"
	FieldTokenType       = "token_type"
	FieldExpiresIn       = "expires_in"
	FieldUser            = "user"
	FieldMessage         = "message"
	FieldBackupCodes     = "backup_codes"
	FieldRemaining       = "remaining"
	FieldURL             = "url"
)
