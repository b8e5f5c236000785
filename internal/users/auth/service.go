// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/metrics"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/device"
	"github.com/taibuivan/agora/internal/security/risk"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/external"
	"github.com/taibuivan/agora/pkg/normalize"
)

// # Contracts & Types

// Config holds the orchestrator policy.
type Config struct {
	ChallengeTTL         time.Duration
	ChallengeMaxAttempts int
	ResetTokenTTL        time.Duration
	VerifyTokenTTL       time.Duration
}

// DefaultConfig keeps a challenge open for ten minutes and five attempts.
var DefaultConfig = Config{
	ChallengeTTL:         10 * time.Minute,
	ChallengeMaxAttempts: 5,
	ResetTokenTTL:        ResetTokenTTL,
	VerifyTokenTTL:       VerificationTokenTTL,
}

// Dependencies groups the collaborators of the [Service]. Limiter, Providers
// and Links may be nil; the matching features are then disabled.
type Dependencies struct {
	Accounts     Accounts
	Credentials  CredentialVerifier
	SecondFactor SecondFactor
	Devices      Devices
	Risk         RiskScorer
	Sessions     Sessions
	IPGuard      IPGuard
	Auditor      Auditor
	Notifier     Notifier
	Limiter      LoginLimiter

	Challenges   ChallengeStore
	ResetTokens  TokenStore
	VerifyTokens TokenStore
	States       TokenStore

	Providers Providers
	Links     external.LinkStore

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Service implements the authentication use cases.
//
// # Review Process
//
// This service is critical for security. Any changes to the login pipeline,
// challenge handling or recovery flows must be reviewed by the security team.
type Service struct {
	accounts     Accounts
	credentials  CredentialVerifier
	secondFactor SecondFactor
	devices      Devices
	risk         RiskScorer
	sessions     Sessions
	ipGuard      IPGuard
	auditor      Auditor
	notifier     Notifier
	limiter      LoginLimiter

	challenges   ChallengeStore
	resetTokens  TokenStore
	verifyTokens TokenStore
	states       TokenStore

	providers Providers
	links     external.LinkStore

	config  Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewService constructs a new [Service]. Zero config fields fall back to [DefaultConfig].
func NewService(deps Dependencies, config Config) *Service {
	if config.ChallengeTTL <= 0 {
		config.ChallengeTTL = DefaultConfig.ChallengeTTL
	}
	if config.ChallengeMaxAttempts <= 0 {
		config.ChallengeMaxAttempts = DefaultConfig.ChallengeMaxAttempts
	}
	if config.ResetTokenTTL <= 0 {
		config.ResetTokenTTL = DefaultConfig.ResetTokenTTL
	}
	if config.VerifyTokenTTL <= 0 {
		config.VerifyTokenTTL = DefaultConfig.VerifyTokenTTL
	}

	return &Service{
		accounts:     deps.Accounts,
		credentials:  deps.Credentials,
		secondFactor: deps.SecondFactor,
		devices:      deps.Devices,
		risk:         deps.Risk,
		sessions:     deps.Sessions,
		ipGuard:      deps.IPGuard,
		auditor:      deps.Auditor,
		notifier:     deps.Notifier,
		limiter:      deps.Limiter,
		challenges:   deps.Challenges,
		resetTokens:  deps.ResetTokens,
		verifyTokens: deps.VerifyTokens,
		states:       deps.States,
		providers:    deps.Providers,
		links:        deps.Links,
		config:       config,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		now:          time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (service *Service) WithClock(now func() time.Time) *Service {
	service.now = now
	return service
}

// # Authentication Flow

/*
Authenticate runs a password login through the full pipeline.

Description: A blocked address is refused before anything else is consulted.
Unknown logins still pay for one bcrypt comparison and count against the
address. A correct password on an untrusted device of a 2FA identity, or any
login the risk scorer flags, yields a [Challenge] instead of tokens.

Parameters:
  - ctx: context.Context
  - credentials: Credentials

Returns:
  - *Result: Tokens, or a pending challenge
  - error: IP_BLOCKED, RATE_LIMITED, INVALID_CREDENTIALS, ACCOUNT_LOCKED,
    ACCOUNT_UNAVAILABLE or INTERNAL_ERROR
*/
func (service *Service) Authenticate(ctx context.Context, credentials Credentials) (*Result, error) {
	client := credentials.Client
	attempt := audit.LoginAttempt{
		Email:     credentials.Login,
		IPAddress: client.IP,
		DeviceID:  client.DeviceID,
		UserAgent: client.UserAgent,
	}

	// ── 1. Address Reputation ─────────────────────────────────────────────
	if err := service.ipGuard.CheckAllowed(ctx, client.IP); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	// ── 2. Per-account Throttle ───────────────────────────────────────────
	if err := service.throttle(ctx, credentials.Login); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	// ── 3. Credential Check ───────────────────────────────────────────────
	identity, err := service.accounts.FindByLogin(ctx, credentials.Login)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, service.deny(ctx, attempt, err)
		}
		service.credentials.VerifyDummy(credentials.Password)
		service.recordAddressFailure(ctx, client.IP)
		return nil, service.deny(ctx, attempt, apperr.InvalidCredentials())
	}
	attempt.UserID = &identity.ID

	if err := service.credentials.Verify(ctx, identity, credentials.Password); err != nil {
		if errors.Is(err, apperr.ErrInvalidCredentials) || errors.Is(err, apperr.ErrAccountLocked) {
			service.recordAddressFailure(ctx, client.IP)
			service.risk.RecordFailure(ctx, identity.ID)

			if errors.Is(err, apperr.ErrInvalidCredentials) && identity.LockedOut(service.now()) {
				service.alert(ctx, identity.ID, audit.AlertAccountLocked, audit.SeverityMedium,
					"Account locked after repeated failed sign-ins", audit.Metadata{"ip": client.IP})
			}
		}
		return nil, service.deny(ctx, attempt, err)
	}

	// ── 4. Availability ───────────────────────────────────────────────────
	if err := identity.CheckAvailable(); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	return service.continueLogin(ctx, identity, client, attempt, audit.MethodPassword)
}

// continueLogin runs the device, risk and challenge steps shared by every
// first factor.
func (service *Service) continueLogin(ctx context.Context, identity *account.Identity, client Client, attempt audit.LoginAttempt, via string) (*Result, error) {

	// ── Device Recognition ────────────────────────────────────────────────
	known, created, err := service.devices.Recognize(ctx, identity.ID, client.metadata())
	if err != nil {
		return nil, service.deny(ctx, attempt, apperr.Internal(fmt.Errorf("auth_device_recognize_failed: %w", err)))
	}
	attempt.DeviceID = known.DeviceID

	// ── Risk Assessment ───────────────────────────────────────────────────
	assessment := service.risk.Score(ctx, risk.Attempt{
		UserID:             identity.ID,
		IP:                 client.IP,
		NewDevice:          created,
		TrustedDevice:      known.IsTrusted,
		FingerprintChanged: known.FingerprintChanged,
	})
	attempt.RiskScore = assessment.Score
	attempt.IsSuspicious = assessment.Suspicious
	attempt.RiskFactors = strings.Join(assessment.FactorNames(), ",")
	if assessment.Located {
		attempt.Country, attempt.City = assessment.Location.Country, assessment.Location.City
	}

	if assessment.Suspicious {
		service.alert(ctx, identity.ID, audit.AlertSuspiciousLogin, string(assessment.Severity),
			fmt.Sprintf("Suspicious sign-in scored %d", assessment.Score),
			audit.Metadata{
				"ip":        client.IP,
				"device_id": known.DeviceID,
				"score":     assessment.Score,
				"factors":   assessment.FactorNames(),
			})

		// A critical score means the existing sessions may be the attacker's.
		if assessment.Severity == risk.SeverityCritical {
			if err := service.sessions.RevokeAll(ctx, identity.ID, ReasonSuspiciousLogin); err != nil {
				service.logger.Error("auth_revoke_on_risk_failed", slog.String("user_id", identity.ID), slog.Any("error", err))
			}
		}
	}

	// ── Second Factor ─────────────────────────────────────────────────────
	reason := ""
	switch {
	case assessment.Suspicious:
		reason = ReasonRisk
	case identity.TwoFactorEnabled() && !known.IsTrusted:
		reason = ReasonTwoFactor
	}

	if reason != "" {
		challenge, err := service.openChallenge(ctx, identity, known, client, assessment, reason, via)
		if err != nil {
			return nil, service.deny(ctx, attempt, err)
		}

		attempt.FailureReason = apperr.CodeChallengeRequired
		service.auditor.RecordAttempt(ctx, attempt)
		service.metrics.AuthOutcome("challenge")
		service.logger.Info("auth_challenge_issued",
			slog.String("user_id", identity.ID),
			slog.String("reason", reason),
			slog.String("method", challenge.Method),
		)
		return &Result{Challenge: challenge}, nil
	}

	// ── Session ───────────────────────────────────────────────────────────
	origin := session.Origin{
		DeviceID:   known.DeviceID,
		DeviceName: known.DeviceName,
		Browser:    known.Browser,
		OS:         known.OS,
		IP:         client.IP,
		Country:    attempt.Country,
		City:       attempt.City,
	}
	pair, err := service.openSession(ctx, identity, origin, assessment.Location, assessment.Located, via, attempt)
	if err != nil {
		return nil, err
	}

	// No factor was asked for. A 2FA identity on a trusted device, or a score
	// short of the challenge threshold but above low, still owes one before
	// sensitive operations.
	if (identity.TwoFactorEnabled() && known.IsTrusted) || assessment.Severity != risk.SeverityLow {
		if err := service.demandStepUp(ctx, identity.ID, pair.SessionID); err != nil {
			return nil, err
		}
	}
	return &Result{Tokens: pair, User: identity}, nil
}

// openChallenge dispatches the second factor and parks the login in the challenge store.
func (service *Service) openChallenge(ctx context.Context, identity *account.Identity, known *device.Device, client Client, assessment risk.Assessment, reason, via string) (*Challenge, error) {
	token, err := sec.GenerateSecureToken(ChallengeTokenLength)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_challenge_token_failed: %w", err))
	}

	challenge := &Challenge{
		Token:     token,
		Reason:    reason,
		ExpiresAt: service.now().Add(service.config.ChallengeTTL),
	}

	if identity.TwoFactorType == account.TwoFactorTOTP {
		challenge.Method = MethodTOTP
	} else {
		issued, err := service.secondFactor.IssueOTP(ctx, identity, twofactor.PurposeLogin, otpMethod(identity))
		if err != nil {
			return nil, err
		}
		challenge.Method = string(issued.Method)
		challenge.Target = issued.Target
	}

	pending := &PendingChallenge{
		UserID:     identity.ID,
		Reason:     reason,
		Method:     challenge.Method,
		LoginVia:   via,
		DeviceID:   known.DeviceID,
		DeviceName: known.DeviceName,
		Browser:    known.Browser,
		OS:         known.OS,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
		RiskScore:  assessment.Score,
		Located:    assessment.Located,
	}
	if assessment.Located {
		pending.Country = assessment.Location.Country
		pending.City = assessment.Location.City
		pending.Latitude = assessment.Location.Latitude
		pending.Longitude = assessment.Location.Longitude
	}

	if err := service.challenges.Put(ctx, token, pending, service.config.ChallengeTTL); err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_challenge_store_failed: %w", err))
	}
	return challenge, nil
}

/*
CompleteChallenge answers a pending login challenge.

Description: Each challenge accepts at most ChallengeMaxAttempts answers. The
challenge is consumed before the session is issued, so two concurrent correct
answers produce one session. trustDevice marks the device trusted, which lets
later logins from it skip the second factor.

Returns:
  - *Result: Tokens
  - error: TOKEN_INVALID (unknown or used challenge), OTP_MISMATCH,
    OTP_EXHAUSTED, IP_BLOCKED or ACCOUNT_UNAVAILABLE
*/
func (service *Service) CompleteChallenge(ctx context.Context, token, code string, trustDevice bool, client Client) (*Result, error) {
	attempt := audit.LoginAttempt{IPAddress: client.IP, DeviceID: client.DeviceID, UserAgent: client.UserAgent}

	if err := service.ipGuard.CheckAllowed(ctx, client.IP); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	pending, err := service.challenges.Get(ctx, token)
	if err != nil {
		return nil, service.deny(ctx, attempt, challengeError(err))
	}

	attempt.UserID = &pending.UserID
	attempt.DeviceID = pending.DeviceID
	attempt.RiskScore = pending.RiskScore
	attempt.IsSuspicious = pending.Reason == ReasonRisk
	attempt.Country, attempt.City = pending.Country, pending.City

	attempts, err := service.challenges.CountAttempt(ctx, token)
	if err != nil {
		return nil, service.deny(ctx, attempt, challengeError(err))
	}
	if attempts > service.config.ChallengeMaxAttempts {
		if _, err := service.challenges.Consume(ctx, token); err != nil {
			service.logger.Warn("auth_challenge_discard_failed", slog.Any("error", err))
		}
		return nil, service.deny(ctx, attempt, apperr.OTPExhausted())
	}

	identity, err := service.accounts.FindByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, service.deny(ctx, attempt, apperr.AccountUnavailable())
		}
		return nil, service.deny(ctx, attempt, err)
	}
	attempt.Email = identity.Email

	if err := identity.CheckAvailable(); err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	if err := service.secondFactor.VerifySecondFactor(ctx, identity, twofactor.PurposeLogin, code, client.IP); err != nil {
		if errors.Is(err, apperr.ErrOTPMismatch) || errors.Is(err, apperr.ErrOTPExhausted) {
			service.risk.RecordFailure(ctx, identity.ID)
			service.recordAddressFailure(ctx, client.IP)
		}
		if errors.Is(err, apperr.ErrNotFound) {
			err = apperr.TokenInvalid()
		}
		return nil, service.deny(ctx, attempt, err)
	}

	consumed, err := service.challenges.Consume(ctx, token)
	if err != nil {
		return nil, service.deny(ctx, attempt, apperr.Internal(fmt.Errorf("auth_challenge_consume_failed: %w", err)))
	}
	if !consumed {
		return nil, service.deny(ctx, attempt, apperr.TokenInvalid())
	}

	if trustDevice && pending.DeviceID != "" {
		if err := service.devices.Trust(ctx, identity.ID, pending.DeviceID); err != nil {
			service.logger.Warn("auth_device_trust_failed", slog.String("user_id", identity.ID), slog.Any("error", err))
		} else {
			service.activity(ctx, identity.ID, ActivityDeviceTrusted, client.IP, audit.Metadata{"device_id": pending.DeviceID})
		}
	}

	origin := session.Origin{
		DeviceID:   pending.DeviceID,
		DeviceName: pending.DeviceName,
		Browser:    pending.Browser,
		OS:         pending.OS,
		IP:         client.IP,
		Country:    pending.Country,
		City:       pending.City,
	}
	location := risk.Location{
		Country:   pending.Country,
		City:      pending.City,
		Latitude:  pending.Latitude,
		Longitude: pending.Longitude,
	}

	via := audit.MethodTwoFactor
	if pending.LoginVia == audit.MethodExternal {
		via = audit.MethodExternal
	}

	pair, err := service.openSession(ctx, identity, origin, location, pending.Located, via, attempt)
	if err != nil {
		return nil, err
	}

	// A high-risk sign-in keeps its second factor for the login only.
	if pending.Reason == ReasonRisk && risk.SeverityFor(pending.RiskScore) != risk.SeverityMedium {
		if err := service.demandStepUp(ctx, identity.ID, pair.SessionID); err != nil {
			return nil, err
		}
	}
	return &Result{Tokens: pair, User: identity}, nil
}

// openSession issues the token pair and writes the success records.
func (service *Service) openSession(ctx context.Context, identity *account.Identity, origin session.Origin, location risk.Location, located bool, via string, attempt audit.LoginAttempt) (*session.TokenPair, error) {
	pair, err := service.sessions.Issue(ctx, session.Subject{
		UserID:   identity.ID,
		Username: identity.Username,
		Role:     string(identity.Role),
	}, origin)
	if err != nil {
		return nil, service.deny(ctx, attempt, err)
	}

	service.risk.RecordSuccess(ctx, identity.ID, origin.IP, location, located)

	attempt.Success = true
	attempt.FailureReason = ""
	service.auditor.RecordAttempt(ctx, attempt)
	service.auditor.RecordLogin(ctx, audit.LoginHistory{
		UserID:    identity.ID,
		SessionID: pair.SessionID,
		IPAddress: origin.IP,
		DeviceID:  origin.DeviceID,
		Country:   origin.Country,
		City:      origin.City,
		Method:    via,
	})

	service.metrics.AuthOutcome("success")
	service.logger.Info("auth_login_succeeded",
		slog.String("user_id", identity.ID),
		slog.String("session_id", pair.SessionID),
		slog.String("method", via),
	)
	return pair, nil
}

// # Session Management

/*
Refresh exchanges a refresh token for a new pair.

Description: Replay detection, family revocation and the replay alert happen
inside the session manager and its observer.

Returns:
  - *session.TokenPair: The successor pair
  - error: TOKEN_INVALID, TOKEN_REPLAY, IP_BLOCKED or ACCOUNT_UNAVAILABLE
*/
func (service *Service) Refresh(ctx context.Context, refreshToken string, client Client) (*session.TokenPair, error) {
	if err := service.ipGuard.CheckAllowed(ctx, client.IP); err != nil {
		return nil, err
	}
	return service.sessions.Rotate(ctx, refreshToken, client.IP)
}

// Logout ends one session and revokes its refresh token. Idempotent.
func (service *Service) Logout(ctx context.Context, sessionID string) error {
	return service.sessions.End(ctx, sessionID, session.ReasonLogout)
}

// LogoutToken revokes the session behind a raw refresh token. Idempotent.
func (service *Service) LogoutToken(ctx context.Context, refreshToken string) error {
	return service.sessions.Revoke(ctx, refreshToken, session.ReasonLogout)
}

// LogoutAll ends every session of userID.
func (service *Service) LogoutAll(ctx context.Context, userID, ip string) error {
	if err := service.sessions.RevokeAll(ctx, userID, ReasonLogoutAll); err != nil {
		return err
	}
	service.activity(ctx, userID, ActivitySessionRevoked, ip, audit.Metadata{"scope": "all"})
	return nil
}

// ListActiveSessions returns the live sessions of userID.
func (service *Service) ListActiveSessions(ctx context.Context, userID string) ([]session.Session, error) {
	return service.sessions.ListActive(ctx, userID)
}

// RevokeSession ends one session of userID. Sessions of other users are NOT_FOUND.
func (service *Service) RevokeSession(ctx context.Context, userID, sessionID, ip string) error {
	if err := service.sessions.RevokeSession(ctx, userID, sessionID); err != nil {
		return err
	}
	service.activity(ctx, userID, ActivitySessionRevoked, ip, audit.Metadata{"session_id": sessionID})
	return nil
}

// # Step-up

// RequireStepUp flags a session; sensitive operations then demand [Service.CompleteStepUp].
func (service *Service) RequireStepUp(ctx context.Context, sessionID string) error {
	return service.sessions.RequireStepUp(ctx, sessionID)
}

/*
BeginStepUp starts re-verification of an authenticated user.

Description: TOTP identities answer from their app and receive nothing.
Everyone else gets a step_up code over their enrolled channel, or by email.
*/
func (service *Service) BeginStepUp(ctx context.Context, userID string) (*Challenge, error) {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	challenge := &Challenge{Reason: string(twofactor.PurposeStepUp)}
	if identity.TwoFactorType == account.TwoFactorTOTP {
		challenge.Method = MethodTOTP
		return challenge, nil
	}

	issued, err := service.secondFactor.IssueOTP(ctx, identity, twofactor.PurposeStepUp, otpMethod(identity))
	if err != nil {
		return nil, err
	}
	challenge.Method = string(issued.Method)
	challenge.Target = issued.Target
	challenge.ExpiresAt = issued.ExpiresAt
	return challenge, nil
}

// CompleteStepUp verifies code and clears the step-up flag of sessionID.
func (service *Service) CompleteStepUp(ctx context.Context, userID, sessionID, code, ip string) error {
	identity, err := service.accounts.FindByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := service.proveFactor(ctx, identity, code, ip); err != nil {
		return err
	}

	if err := service.sessions.ClearStepUp(ctx, sessionID); err != nil {
		return apperr.Internal(err)
	}
	service.activity(ctx, identity.ID, ActivityStepUpCompleted, ip, audit.Metadata{"session_id": sessionID})
	return nil
}

// demandStepUp flags a just-issued session. A session that cannot be flagged
// is ended rather than handed out unflagged.
func (service *Service) demandStepUp(ctx context.Context, userID, sessionID string) error {
	err := service.sessions.RequireStepUp(ctx, sessionID)
	if err == nil {
		return nil
	}

	service.logger.Error("auth_step_up_flag_failed", slog.String("user_id", userID), slog.String("session_id", sessionID), slog.Any("error", err))
	if endErr := service.sessions.End(ctx, sessionID, ReasonStepUpUnavailable); endErr != nil {
		service.logger.Error("auth_unflagged_session_end_failed", slog.String("session_id", sessionID), slog.Any("error", endErr))
	}
	return apperr.Internal(fmt.Errorf("auth_step_up_flag_failed: %w", err))
}

/*
proveFactor demands a step_up answer from the identity's second factor.

Description: Wrong and exhausted answers count as failures against the
identity's risk signals and the caller's address. Exhaustion also raises an
alert, since it usually means someone is guessing.

Returns:
  - error: CHALLENGE_REQUIRED for an empty code, OTP_MISMATCH, OTP_EXHAUSTED
    or NOT_FOUND when no step_up code is outstanding
*/
func (service *Service) proveFactor(ctx context.Context, identity *account.Identity, code, ip string) error {
	if strings.TrimSpace(code) == "" {
		return apperr.ChallengeRequired()
	}

	err := service.secondFactor.VerifySecondFactor(ctx, identity, twofactor.PurposeStepUp, code, ip)
	if err == nil {
		return nil
	}

	if errors.Is(err, apperr.ErrOTPMismatch) || errors.Is(err, apperr.ErrOTPExhausted) {
		service.risk.RecordFailure(ctx, identity.ID)
		service.recordAddressFailure(ctx, ip)
	}
	if errors.Is(err, apperr.ErrOTPExhausted) {
		service.alert(ctx, identity.ID, audit.AlertFactorExhausted, audit.SeverityHigh,
			"Second-factor answers exhausted", audit.Metadata{"ip": ip})
	}
	return err
}

// # Helpers

// otpMethod returns the enrolled OTP channel, falling back to email.
func otpMethod(identity *account.Identity) twofactor.Method {
	if method := twofactor.MethodFor(identity); method != "" {
		return method
	}
	return twofactor.MethodEmail
}

// throttle applies the per-account fixed window. A limiter failure lets the attempt through.
func (service *Service) throttle(ctx context.Context, login string) error {
	if service.limiter == nil {
		return nil
	}
	key := normalize.Identifier(login)
	if key == "" {
		return nil
	}

	result, err := service.limiter.Allow(ctx, sec.HashToken(key))
	if err != nil {
		service.logger.Warn("auth_login_rate_degraded", slog.Any("error", err))
		return nil
	}
	if result.Allowed {
		return nil
	}
	return apperr.RateLimited(max(int(math.Ceil(result.RetryAfter.Seconds())), 1))
}

// recordAddressFailure counts a failure against the source address and raises
// an alert when that failure started a block.
func (service *Service) recordAddressFailure(ctx context.Context, ip string) {
	record, err := service.ipGuard.RecordFailure(ctx, ip)
	if err != nil {
		service.logger.Warn("auth_ip_failure_not_recorded", slog.String("ip", ip), slog.Any("error", err))
		return
	}
	if record == nil || record.BlockedAt == nil || record.LastAttemptAt == nil || !record.BlockedAt.Equal(*record.LastAttemptAt) {
		return
	}

	severity := audit.SeverityHigh
	if record.IsPermanent {
		severity = audit.SeverityCritical
	}
	service.auditor.RaiseAlert(ctx, audit.SecurityAlert{
		AlertType: audit.AlertIPBlocked,
		Severity:  severity,
		Message:   fmt.Sprintf("Address %s blocked after repeated failed sign-ins", ip),
		Metadata: audit.Metadata{
			"ip":          ip,
			"block_type":  string(record.BlockType),
			"block_count": record.BlockCount,
		},
	})
}

// deny records a refused attempt and returns err as an [apperr.AppError].
func (service *Service) deny(ctx context.Context, attempt audit.LoginAttempt, err error) error {
	if !apperr.IsAppError(err) {
		err = apperr.Internal(err)
	}

	attempt.Success = false
	attempt.FailureReason = apperr.CodeOf(err)
	service.auditor.RecordAttempt(ctx, attempt)

	service.metrics.AuthOutcome(strings.ToLower(attempt.FailureReason))
	service.logger.Info("auth_login_denied",
		slog.String("ip", attempt.IPAddress),
		slog.String("code", attempt.FailureReason),
	)
	return err
}

func (service *Service) alert(ctx context.Context, userID, alertType, severity, message string, metadata audit.Metadata) {
	service.auditor.RaiseAlert(ctx, audit.SecurityAlert{
		UserID:    &userID,
		AlertType: alertType,
		Severity:  severity,
		Message:   message,
		Metadata:  metadata,
	})
}

func (service *Service) activity(ctx context.Context, userID, activity, ip string, metadata audit.Metadata) {
	service.auditor.RecordActivity(ctx, audit.UserActivity{
		UserID:    userID,
		Activity:  activity,
		IPAddress: ip,
		Metadata:  metadata,
	})
}

// challengeError maps a challenge store failure to the caller-facing error.
func challengeError(err error) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.TokenInvalid()
	}
	return apperr.Internal(err)
}
