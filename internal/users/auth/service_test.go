// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/platform/apperr"
	redisstore "github.com/taibuivan/agora/internal/platform/redis"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/credential"
	"github.com/taibuivan/agora/internal/security/device"
	"github.com/taibuivan/agora/internal/security/risk"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/auth"
)

// # Password Login

func TestAuthenticate_IssuesTokensForCorrectPassword(t *testing.T) {
	f := newFixture(t)

	result, err := f.login(testPassword)
	require.NoError(t, err)

	require.NotNil(t, result.Tokens)
	assert.Nil(t, result.Challenge)
	assert.Equal(t, "alice", result.User.Username)
	assert.Equal(t, 1, f.risk.successes)

	require.Len(t, f.auditor.logins, 1)
	assert.Equal(t, audit.MethodPassword, f.auditor.logins[0].Method)
	assert.Equal(t, result.Tokens.SessionID, f.auditor.logins[0].SessionID)

	require.Len(t, f.auditor.attempts, 1)
	assert.True(t, f.auditor.attempts[0].Success)
	assert.Empty(t, f.sessions.flagged(), "a password-only account proved everything it has")
}

func TestAuthenticate_UnknownLoginLooksLikeWrongPassword(t *testing.T) {
	f := newFixture(t)

	_, unknownErr := f.service.Authenticate(context.Background(), auth.Credentials{
		Login: "nobody", Password: testPassword, Client: client(),
	})
	_, wrongErr := f.login("wrong-password")

	require.True(t, errors.Is(unknownErr, apperr.ErrInvalidCredentials))
	require.True(t, errors.Is(wrongErr, apperr.ErrInvalidCredentials))
	assert.Equal(t, unknownErr.Error(), wrongErr.Error())

	record, err := f.ipStore.Find(context.Background(), testIP)
	require.NoError(t, err)
	assert.Equal(t, 2, record.FailedAttempts)
}

func TestAuthenticate_LocksAccountOnFifthFailure(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 4; i++ {
		_, err := f.login("wrong-password")
		require.Truef(t, errors.Is(err, apperr.ErrInvalidCredentials), "attempt %d", i)
	}
	assert.False(t, f.identity.LockedOut(time.Now()))
	assert.Empty(t, f.auditor.alertsOf(audit.AlertAccountLocked))

	_, err := f.login("wrong-password")
	require.True(t, errors.Is(err, apperr.ErrInvalidCredentials))
	assert.True(t, f.identity.LockedOut(time.Now()))
	assert.Len(t, f.auditor.alertsOf(audit.AlertAccountLocked), 1)

	_, err = f.login(testPassword)
	assert.True(t, errors.Is(err, apperr.ErrAccountLocked))
	assert.Zero(t, f.sessions.issuedCount())
}

func TestAuthenticate_BlocksAddressAfterTenFailures(t *testing.T) {
	f := newFixture(t)

	for i := 1; i <= 20; i++ {
		_, err := f.login("wrong-password")
		require.Error(t, err)

		if i <= 10 {
			assert.Falsef(t, errors.Is(err, apperr.ErrIPBlocked), "attempt %d", i)
		} else {
			assert.Truef(t, errors.Is(err, apperr.ErrIPBlocked), "attempt %d", i)
		}
	}

	assert.Equal(t, int32(10), f.verifier.calls.Load())

	alerts := f.auditor.alertsOf(audit.AlertIPBlocked)
	require.Len(t, alerts, 1)
	assert.Equal(t, audit.SeverityHigh, alerts[0].Severity)
	assert.Nil(t, alerts[0].UserID)

	_, err := f.login(testPassword)
	assert.True(t, errors.Is(err, apperr.ErrIPBlocked))
}

func TestAuthenticate_RateLimitedBeforeCredentialCheck(t *testing.T) {
	limiter := &fakeLimiter{result: redisstore.LimitResult{Allowed: false, RetryAfter: 1500 * time.Millisecond}}
	f := newFixture(t, withLimiter(limiter))

	_, err := f.login(testPassword)
	require.True(t, errors.Is(err, apperr.ErrRateLimited))
	assert.Zero(t, f.verifier.calls.Load())

	require.Len(t, f.auditor.attempts, 1)
	assert.Equal(t, apperr.CodeRateLimited, f.auditor.attempts[0].FailureReason)
}

func TestAuthenticate_RefusesSuspendedAccount(t *testing.T) {
	f := newFixture(t)
	f.identity.Status = account.StatusSuspended

	_, err := f.login(testPassword)
	assert.True(t, errors.Is(err, apperr.ErrAccountUnavailable))
	assert.Zero(t, f.sessions.issuedCount())
}

// # Challenges

func TestAuthenticate_ChallengesTwoFactorOnUntrustedDevice(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail

	result, err := f.login(testPassword)
	require.NoError(t, err)

	require.NotNil(t, result.Challenge)
	assert.Nil(t, result.Tokens)
	assert.Equal(t, auth.ReasonTwoFactor, result.Challenge.Reason)
	assert.Equal(t, string(twofactor.MethodEmail), result.Challenge.Method)
	assert.NotEmpty(t, result.Challenge.Token)
	assert.Equal(t, []twofactor.Purpose{twofactor.PurposeLogin}, f.factor.issued)
	assert.Zero(t, f.sessions.issuedCount())

	require.Len(t, f.auditor.attempts, 1)
	assert.Equal(t, apperr.CodeChallengeRequired, f.auditor.attempts[0].FailureReason)
}

func TestAuthenticate_TOTPChallengeSendsNothing(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorTOTP

	result, err := f.login(testPassword)
	require.NoError(t, err)

	require.NotNil(t, result.Challenge)
	assert.Equal(t, auth.MethodTOTP, result.Challenge.Method)
	assert.Empty(t, f.factor.issued)
}

func TestAuthenticate_TrustedDeviceSkipsSecondFactor(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail

	_, _, err := f.devices.Recognize(context.Background(), f.identity.ID, device.Metadata{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.NoError(t, f.devices.Trust(context.Background(), f.identity.ID, "dev-1"))

	result, err := f.login(testPassword)
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	assert.Nil(t, result.Challenge)
	assert.Equal(t, []string{result.Tokens.SessionID}, f.sessions.flagged(),
		"the skipped factor is still owed before sensitive operations")
}

func TestAuthenticate_ChangedClientLosesDeviceTrust(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail
	ctx := context.Background()

	_, _, err := f.devices.Recognize(ctx, f.identity.ID, device.Metadata{DeviceID: "dev-1", UserAgent: "curl/8.5"})
	require.NoError(t, err)
	require.NoError(t, f.devices.Trust(ctx, f.identity.ID, "dev-1"))

	result, err := f.login(testPassword)
	require.NoError(t, err)
	require.NotNil(t, result.Challenge, "a reused device id from another client is not trusted")
	assert.Nil(t, result.Tokens)

	require.Len(t, f.risk.scored, 1)
	assert.True(t, f.risk.scored[0].FingerprintChanged)
	assert.False(t, f.risk.scored[0].TrustedDevice)
	assert.False(t, f.devices.trusted(f.identity.ID, "dev-1"))
}

func TestAuthenticate_ElevatedRiskBelowThresholdFlagsSession(t *testing.T) {
	f := newFixture(t)
	f.risk.assessment = risk.Assessment{Score: 60, Suspicious: false, Severity: risk.SeverityMedium}

	result, err := f.login(testPassword)
	require.NoError(t, err)
	require.NotNil(t, result.Tokens)
	assert.Equal(t, []string{result.Tokens.SessionID}, f.sessions.flagged())
}

func TestAuthenticate_UnflaggableSessionIsEnded(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail
	f.sessions.stepUpErr = errors.New("connection reset")

	_, _, err := f.devices.Recognize(context.Background(), f.identity.ID, device.Metadata{DeviceID: "dev-1"})
	require.NoError(t, err)
	require.NoError(t, f.devices.Trust(context.Background(), f.identity.ID, "dev-1"))

	result, err := f.login(testPassword)
	assert.Nil(t, result)
	assert.True(t, errors.Is(err, apperr.ErrInternal))
	assert.Equal(t, []string{"session-1"}, f.sessions.ended)
}

func TestAuthenticate_SuspiciousLoginIsChallengedAndAlerted(t *testing.T) {
	f := newFixture(t)
	f.risk.assessment = risk.Assessment{
		Score:      75,
		Suspicious: true,
		Severity:   risk.SeverityHigh,
		Factors:    []risk.Factor{risk.FactorNewDevice},
	}

	result, err := f.login(testPassword)
	require.NoError(t, err)

	require.NotNil(t, result.Challenge)
	assert.Equal(t, auth.ReasonRisk, result.Challenge.Reason)

	alerts := f.auditor.alertsOf(audit.AlertSuspiciousLogin)
	require.Len(t, alerts, 1)
	assert.Equal(t, audit.SeverityHigh, alerts[0].Severity)
	assert.Empty(t, f.sessions.revokeAll)
}

func TestAuthenticate_CriticalRiskRevokesExistingSessions(t *testing.T) {
	f := newFixture(t)
	f.risk.assessment = risk.Assessment{Score: 95, Suspicious: true, Severity: risk.SeverityCritical}

	result, err := f.login(testPassword)
	require.NoError(t, err)

	require.NotNil(t, result.Challenge)
	assert.Equal(t, auth.ReasonSuspiciousLogin, f.sessions.revokeAll[f.identity.ID])
}

func TestCompleteChallenge_IssuesSessionAndTrustsDevice(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail

	result, err := f.login(testPassword)
	require.NoError(t, err)
	token := result.Challenge.Token

	completed, err := f.service.CompleteChallenge(context.Background(), token, testCode, true, client())
	require.NoError(t, err)
	require.NotNil(t, completed.Tokens)
	assert.True(t, f.devices.trusted(f.identity.ID, "dev-1"))

	require.Len(t, f.auditor.logins, 1)
	assert.Equal(t, audit.MethodTwoFactor, f.auditor.logins[0].Method)

	_, err = f.service.CompleteChallenge(context.Background(), token, testCode, false, client())
	assert.True(t, errors.Is(err, apperr.ErrTokenInvalid))
	assert.Equal(t, 1, f.sessions.issuedCount())

	again, err := f.login(testPassword)
	require.NoError(t, err)
	assert.NotNil(t, again.Tokens, "trusted device skips the second factor")
}

func TestCompleteChallenge_HighRiskSessionOwesStepUp(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		severity risk.Severity
		flagged  bool
	}{
		{"medium", 55, risk.SeverityMedium, false},
		{"high", 75, risk.SeverityHigh, true},
		{"critical", 95, risk.SeverityCritical, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.risk.assessment = risk.Assessment{Score: tt.score, Suspicious: true, Severity: tt.severity}

			result, err := f.login(testPassword)
			require.NoError(t, err)
			require.NotNil(t, result.Challenge)

			f.risk.assessment = risk.Assessment{Severity: risk.SeverityLow}
			completed, err := f.service.CompleteChallenge(context.Background(), result.Challenge.Token, testCode, false, client())
			require.NoError(t, err)

			if tt.flagged {
				assert.Equal(t, []string{completed.Tokens.SessionID}, f.sessions.flagged())
			} else {
				assert.Empty(t, f.sessions.flagged())
			}
		})
	}
}

func TestCompleteChallenge_ExhaustsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail

	result, err := f.login(testPassword)
	require.NoError(t, err)
	token := result.Challenge.Token

	for i := 1; i <= 5; i++ {
		_, err := f.service.CompleteChallenge(context.Background(), token, "000000", false, client())
		require.Truef(t, errors.Is(err, apperr.ErrOTPMismatch), "attempt %d", i)
	}
	assert.Equal(t, 5, f.risk.failures)

	_, err = f.service.CompleteChallenge(context.Background(), token, testCode, false, client())
	assert.True(t, errors.Is(err, apperr.ErrOTPExhausted))

	_, err = f.service.CompleteChallenge(context.Background(), token, testCode, false, client())
	assert.True(t, errors.Is(err, apperr.ErrTokenInvalid))
	assert.Zero(t, f.sessions.issuedCount())
}

func TestCompleteChallenge_UnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CompleteChallenge(context.Background(), "missing", testCode, false, client())
	assert.True(t, errors.Is(err, apperr.ErrTokenInvalid))
}

// # Sessions & Step-up

func TestRefresh_BlockedAddressNeverRotates(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 10; i++ {
		_, _ = f.service.Authenticate(context.Background(), auth.Credentials{
			Login: "nobody", Password: "x", Client: client(),
		})
	}

	_, err := f.service.Refresh(context.Background(), "refresh-1", client())
	assert.True(t, errors.Is(err, apperr.ErrIPBlocked))
	assert.Zero(t, f.sessions.rotated)
}

func TestLogout_EndsSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.Logout(context.Background(), "session-9"))
	assert.Equal(t, []string{"session-9"}, f.sessions.ended)
}

func TestBeginStepUp_UsesEnrolledChannel(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorEmail

	challenge, err := f.service.BeginStepUp(context.Background(), f.identity.ID)
	require.NoError(t, err)
	assert.Equal(t, string(twofactor.MethodEmail), challenge.Method)
	assert.Equal(t, []twofactor.Purpose{twofactor.PurposeStepUp}, f.factor.issued)
}

func TestCompleteStepUp_RecordsActivity(t *testing.T) {
	f := newFixture(t)

	err := f.service.CompleteStepUp(context.Background(), f.identity.ID, "session-1", "bad", testIP)
	assert.True(t, errors.Is(err, apperr.ErrOTPMismatch))

	require.NoError(t, f.service.CompleteStepUp(context.Background(), f.identity.ID, "session-1", testCode, testIP))
	require.Len(t, f.auditor.activities, 1)
	assert.Equal(t, auth.ActivityStepUpCompleted, f.auditor.activities[0].Activity)
	assert.Equal(t, []string{"session-1"}, f.sessions.cleared)
}

func TestCompleteStepUp_GuessingIsBoundedAndAlerted(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorTOTP
	f.factor.limit = 5
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		err := f.service.CompleteStepUp(ctx, f.identity.ID, "session-1", "000000", testIP)
		require.Truef(t, errors.Is(err, apperr.ErrOTPMismatch), "attempt %d", i)
	}
	for i := 0; i < 20; i++ {
		err := f.service.CompleteStepUp(ctx, f.identity.ID, "session-1", "000000", testIP)
		require.True(t, errors.Is(err, apperr.ErrOTPExhausted))
	}

	err := f.service.CompleteStepUp(ctx, f.identity.ID, "session-1", testCode, testIP)
	assert.True(t, errors.Is(err, apperr.ErrOTPExhausted), "the right code is refused once answers are used up")
	assert.Empty(t, f.sessions.cleared)

	assert.Equal(t, 26, f.risk.failures)
	assert.Len(t, f.auditor.alertsOf(audit.AlertFactorExhausted), 21)

	_, err = f.ipStore.Find(ctx, testIP)
	require.NoError(t, err, "wrong answers count against the address")
}

func TestCompleteStepUp_EmptyCodeIsChallenged(t *testing.T) {
	f := newFixture(t)

	err := f.service.CompleteStepUp(context.Background(), f.identity.ID, "session-1", "  ", testIP)
	assert.True(t, errors.Is(err, apperr.ErrChallengeRequired))
	assert.Zero(t, f.factor.checks)
}

// # Recovery & Verification

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.RequestPasswordReset(ctx, "alice@example.com", testIP))
	require.Equal(t, 1, f.notifier.count())
	token := f.resetTokens.only(t)

	require.NoError(t, f.service.ResetPassword(ctx, token, "brand-new-password", testIP))
	assert.Equal(t, credential.ReasonPasswordChanged, f.sessions.revokeAll[f.identity.ID])
	assert.Len(t, f.auditor.alertsOf(audit.AlertPasswordChanged), 1)

	err := f.service.ResetPassword(ctx, token, "another-password", testIP)
	assert.True(t, errors.Is(err, apperr.ErrTokenInvalid))

	result, err := f.login("brand-new-password")
	require.NoError(t, err)
	assert.NotNil(t, result.Tokens)
}

func TestResetPassword_WeakPasswordKeepsToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.RequestPasswordReset(ctx, "alice", testIP))
	token := f.resetTokens.only(t)

	err := f.service.ResetPassword(ctx, token, "short", testIP)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	assert.Equal(t, token, f.resetTokens.only(t))
}

func TestRequestPasswordReset_UnknownLoginIsSilent(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.service.RequestPasswordReset(context.Background(), "ghost@example.com", testIP))
	assert.Zero(t, f.notifier.count())
}

func TestRegister_VerificationTokenActivatesAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	identity, err := f.service.Register(ctx, account.RegisterInput{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "bobs-password",
	}, testIP)
	require.NoError(t, err)
	assert.Equal(t, account.StatusPending, identity.Status)
	require.Equal(t, 1, f.notifier.count())

	token := f.verifyTokens.only(t)
	require.NoError(t, f.service.VerifyEmail(ctx, token))
	assert.True(t, identity.EmailConfirmed)
	assert.Equal(t, account.StatusActive, identity.Status)

	assert.True(t, errors.Is(f.service.VerifyEmail(ctx, token), apperr.ErrTokenInvalid))
}

func TestChangePassword_WrongCurrentPassword(t *testing.T) {
	f := newFixture(t)

	err := f.service.ChangePassword(context.Background(), f.identity.ID, "wrong-password", "brand-new-password", testIP)
	assert.True(t, errors.Is(err, apperr.ErrInvalidCredentials))
	assert.Empty(t, f.sessions.revokeAll)
}

// # Second Factor Management

func TestDisableTwoFactor_RequiresCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.True(t, errors.Is(f.service.DisableTwoFactor(ctx, f.identity.ID, testCode, testIP), apperr.ErrConflict))

	f.identity.TwoFactorType = account.TwoFactorSMS
	assert.True(t, errors.Is(f.service.DisableTwoFactor(ctx, f.identity.ID, "bad", testIP), apperr.ErrOTPMismatch))
	assert.Equal(t, account.TwoFactorSMS, f.identity.TwoFactorType)

	require.NoError(t, f.service.DisableTwoFactor(ctx, f.identity.ID, testCode, testIP))
	assert.Equal(t, account.TwoFactorNone, f.identity.TwoFactorType)
	assert.Len(t, f.auditor.alertsOf(audit.AlertTwoFactorChange), 1)
}

func TestRegenerateBackupCodes_RequiresFactorAnswer(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorTOTP
	ctx := context.Background()

	codes, err := f.service.RegenerateBackupCodes(ctx, f.identity.ID, "", testIP)
	assert.True(t, errors.Is(err, apperr.ErrChallengeRequired))
	assert.Nil(t, codes)

	codes, err = f.service.RegenerateBackupCodes(ctx, f.identity.ID, "000000", testIP)
	assert.True(t, errors.Is(err, apperr.ErrOTPMismatch))
	assert.Nil(t, codes)

	codes, err = f.service.RegenerateBackupCodes(ctx, f.identity.ID, testCode, testIP)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa-bbbb"}, codes)
}

func TestConfirmTOTP_ReplacingFactorNeedsCurrentAnswer(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorSMS
	ctx := context.Background()

	_, err := f.service.ConfirmTOTP(ctx, f.identity.ID, "654321", "", testIP)
	assert.True(t, errors.Is(err, apperr.ErrChallengeRequired))
	assert.Equal(t, account.TwoFactorSMS, f.identity.TwoFactorType)

	_, err = f.service.ConfirmTOTP(ctx, f.identity.ID, "654321", "000000", testIP)
	assert.True(t, errors.Is(err, apperr.ErrOTPMismatch))
	assert.Equal(t, account.TwoFactorSMS, f.identity.TwoFactorType)

	codes, err := f.service.ConfirmTOTP(ctx, f.identity.ID, "654321", testCode, testIP)
	require.NoError(t, err)
	assert.NotEmpty(t, codes)
	assert.Equal(t, account.TwoFactorTOTP, f.identity.TwoFactorType)
}

func TestConfirmTOTP_FirstFactorNeedsNoCurrentAnswer(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ConfirmTOTP(context.Background(), f.identity.ID, "654321", "", testIP)
	require.NoError(t, err)
	assert.Equal(t, account.TwoFactorTOTP, f.identity.TwoFactorType)
	assert.Zero(t, f.factor.checks)
}

func TestEnableOTP_SwitchingFactorNeedsCurrentAnswer(t *testing.T) {
	f := newFixture(t)
	f.identity.TwoFactorType = account.TwoFactorTOTP
	ctx := context.Background()

	_, err := f.service.EnableOTP(ctx, f.identity.ID, twofactor.MethodEmail, "", testIP)
	assert.True(t, errors.Is(err, apperr.ErrChallengeRequired))
	assert.Equal(t, account.TwoFactorTOTP, f.identity.TwoFactorType)

	_, err = f.service.EnableOTP(ctx, f.identity.ID, twofactor.MethodEmail, testCode, testIP)
	require.NoError(t, err)
	assert.Equal(t, account.TwoFactorEmail, f.identity.TwoFactorType)
}
