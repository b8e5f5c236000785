// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/metrics"
	"github.com/taibuivan/agora/internal/platform/notify"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/pkg/uuid"
)

// Config holds the second-factor policy.
type Config struct {
	CodeTTL         time.Duration
	MaxAttempts     int
	Digits          int
	BackupCodeCount int
	TOTPIssuer      string
	EnrollmentTTL   time.Duration
	// AttemptWindow bounds authenticator and backup-code answers: at most
	// MaxAttempts per identity inside one window.
	AttemptWindow time.Duration
}

// DefaultConfig is a six-digit code valid for ten minutes with five attempts.
var DefaultConfig = Config{
	CodeTTL:         10 * time.Minute,
	MaxAttempts:     5,
	Digits:          6,
	BackupCodeCount: 10,
	TOTPIssuer:      "Agora",
	EnrollmentTTL:   15 * time.Minute,
	AttemptWindow:   15 * time.Minute,
}

// totpPeriod and totpSkew accept the previous, current and next 30s step.
const (
	totpPeriod = 30
	totpSkew   = 1
)

// Stores groups the persistence dependencies of the [Engine].
type Stores struct {
	Codes    CodeStore
	Backups  BackupStore
	Accounts AccountStore
	Pending  PendingStore
}

// Engine is the second-factor engine.
type Engine struct {
	codes    CodeStore
	backups  BackupStore
	accounts AccountStore
	pending  PendingStore
	notifier Notifier
	config   Config
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs an [Engine]. Zero config fields fall back to [DefaultConfig].
func NewEngine(stores Stores, notifier Notifier, config Config, recorder *metrics.Metrics, logger *slog.Logger) *Engine {
	if config.CodeTTL <= 0 {
		config.CodeTTL = DefaultConfig.CodeTTL
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if config.Digits <= 0 {
		config.Digits = DefaultConfig.Digits
	}
	if config.BackupCodeCount <= 0 {
		config.BackupCodeCount = DefaultConfig.BackupCodeCount
	}
	if config.TOTPIssuer == "" {
		config.TOTPIssuer = DefaultConfig.TOTPIssuer
	}
	if config.EnrollmentTTL <= 0 {
		config.EnrollmentTTL = DefaultConfig.EnrollmentTTL
	}
	if config.AttemptWindow <= 0 {
		config.AttemptWindow = DefaultConfig.AttemptWindow
	}
	return &Engine{
		codes:    stores.Codes,
		backups:  stores.Backups,
		accounts: stores.Accounts,
		pending:  stores.Pending,
		notifier: notifier,
		config:   config,
		metrics:  recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (engine *Engine) WithClock(now func() time.Time) *Engine {
	engine.now = now
	return engine
}

// # One-time Codes

/*
IssueOTP generates and dispatches a one-time code.

Description: Earlier active codes for the same purpose are expired in the same
transaction that stores the new one. Delivery is fire-and-forget; a failed
send never fails the issue.

Returns:
  - *Issued: Masked destination and expiry
  - error: UNPROCESSABLE when the identity has no address for method
*/
func (engine *Engine) IssueOTP(ctx context.Context, identity *account.Identity, purpose Purpose, method Method) (*Issued, error) {
	target, channel, err := destination(identity, method)
	if err != nil {
		return nil, err
	}

	plain, err := sec.GenerateNumericCode(engine.config.Digits)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("twofactor_issue_generate_failed: %w", err))
	}

	now := engine.now()
	code := &Code{
		ID:          uuid.New(),
		UserID:      identity.ID,
		Purpose:     purpose,
		Method:      method,
		Target:      target,
		CodeHash:    sec.HashToken(plain),
		MaxAttempts: engine.config.MaxAttempts,
		ExpiresAt:   now.Add(engine.config.CodeTTL),
		CreatedAt:   now,
	}

	if err := engine.codes.Replace(ctx, code); err != nil {
		return nil, fmt.Errorf("twofactor_issue_store_failed: %w", err)
	}

	engine.notifier.Dispatch(ctx, notify.Message{
		Channel: channel,
		To:      target,
		Subject: "Your Agora verification code",
		Text:    fmt.Sprintf("Your Agora %s code is %s. It expires in %d minutes.", purposeLabel(purpose), plain, int(engine.config.CodeTTL.Minutes())),
	})

	engine.logger.Info("twofactor_code_issued",
		slog.String("user_id", identity.ID),
		slog.String("purpose", string(purpose)),
		slog.String("method", string(method)),
	)

	return &Issued{Method: method, Target: mask(target, method), ExpiresAt: code.ExpiresAt}, nil
}

/*
VerifyOTP checks candidate against the active code for purpose.

Returns:
  - nil: The code matched and is now spent
  - error: NOT_FOUND (no active code), OTP_EXHAUSTED (attempts used up, even
    for the right code) or OTP_MISMATCH
*/
func (engine *Engine) VerifyOTP(ctx context.Context, identity *account.Identity, purpose Purpose, candidate string) error {
	candidateHash := sec.HashToken(strings.TrimSpace(candidate))

	verdict, err := engine.codes.Attempt(ctx, identity.ID, purpose, engine.now(), func(code Code) Verdict {
		if code.Attempts >= code.MaxAttempts {
			return VerdictExhausted
		}
		if sec.EqualHash(code.CodeHash, candidateHash) {
			return VerdictMatch
		}
		return VerdictMismatch
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			engine.metrics.OTPResult("not_found")
			return apperr.NotFound("Verification code")
		}
		return fmt.Errorf("twofactor_verify_failed: %w", err)
	}

	switch verdict {
	case VerdictMatch:
		engine.metrics.OTPResult("verified")
		return nil
	case VerdictExhausted:
		engine.metrics.OTPResult("exhausted")
		return apperr.OTPExhausted()
	default:
		engine.metrics.OTPResult("mismatch")
		return apperr.OTPMismatch()
	}
}

// # Backup Codes

// GenerateBackupCodes replaces the identity's backup codes and returns the plaintext set once.
func (engine *Engine) GenerateBackupCodes(ctx context.Context, identity *account.Identity) ([]string, error) {
	codes := make([]string, engine.config.BackupCodeCount)
	hashes := make([]string, engine.config.BackupCodeCount)
	for i := range codes {
		code, err := sec.GenerateBackupCode()
		if err != nil {
			return nil, apperr.Internal(fmt.Errorf("twofactor_backup_generate_failed: %w", err))
		}
		codes[i] = code
		hashes[i] = sec.HashToken(code)
	}

	if err := engine.backups.ReplaceBackupCodes(ctx, identity.ID, hashes, engine.now()); err != nil {
		return nil, fmt.Errorf("twofactor_backup_store_failed: %w", err)
	}

	engine.logger.Info("twofactor_backup_codes_generated", slog.String("user_id", identity.ID))
	return codes, nil
}

// ConsumeBackupCode spends one backup code. An unknown or already used code
// is an OTP_MISMATCH; too many answers inside the attempt window are OTP_EXHAUSTED.
func (engine *Engine) ConsumeBackupCode(ctx context.Context, identity *account.Identity, code, ip string) error {
	if err := engine.countAnswer(ctx, identity.ID); err != nil {
		return err
	}
	hash := sec.HashToken(sec.NormalizeBackupCode(code))

	consumed, err := engine.backups.ConsumeBackupCode(ctx, identity.ID, hash, ip, engine.now())
	if err != nil {
		return fmt.Errorf("twofactor_backup_consume_failed: %w", err)
	}
	if !consumed {
		engine.metrics.OTPResult("backup_mismatch")
		return apperr.OTPMismatch()
	}

	engine.resetAnswers(ctx, identity.ID)
	engine.metrics.OTPResult("backup_used")
	engine.logger.Warn("twofactor_backup_code_used", slog.String("user_id", identity.ID), slog.String("ip", ip))
	return nil
}

// RemainingBackupCodes counts the unused backup codes.
func (engine *Engine) RemainingBackupCodes(ctx context.Context, identity *account.Identity) (int, error) {
	remaining, err := engine.backups.RemainingBackupCodes(ctx, identity.ID)
	if err != nil {
		return 0, fmt.Errorf("twofactor_backup_count_failed: %w", err)
	}
	return remaining, nil
}

// IsBackupCode reports whether code has the shape of a backup code rather than a numeric OTP.
func IsBackupCode(code string) bool {
	normalized := sec.NormalizeBackupCode(code)
	return len(normalized) == 11 && normalized[5] == '-'
}

// # Authenticator App (TOTP)

// EnrollTOTP creates a pending secret. It becomes active only after [Engine.ConfirmTOTP].
func (engine *Engine) EnrollTOTP(ctx context.Context, identity *account.Identity) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      engine.config.TOTPIssuer,
		AccountName: identity.Email,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("twofactor_totp_generate_failed: %w", err))
	}

	if err := engine.pending.PutEnrollment(ctx, identity.ID, key.Secret(), engine.config.EnrollmentTTL); err != nil {
		return nil, fmt.Errorf("twofactor_totp_enroll_failed: %w", err)
	}

	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

/*
ConfirmTOTP activates a pending enrollment once the user proves possession.

Returns:
  - []string: A fresh set of backup codes, shown to the user once
  - error: NOT_FOUND without a pending enrollment, OTP_MISMATCH for a wrong code
*/
func (engine *Engine) ConfirmTOTP(ctx context.Context, identity *account.Identity, code string) ([]string, error) {
	secret, err := engine.pending.GetEnrollment(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("twofactor_totp_confirm_lookup_failed: %w", err)
	}

	if !engine.validateTOTP(secret, code) {
		engine.metrics.OTPResult("totp_mismatch")
		return nil, apperr.OTPMismatch()
	}

	if err := engine.setTwoFactor(ctx, identity, account.TwoFactorTOTP, &secret); err != nil {
		return nil, err
	}

	if err := engine.pending.DeleteEnrollment(ctx, identity.ID); err != nil {
		engine.logger.Warn("twofactor_totp_pending_cleanup_failed", slog.String("error", err.Error()))
	}

	return engine.GenerateBackupCodes(ctx, identity)
}

// VerifyTOTP checks an authenticator code. Each code is accepted once, and
// the identity gets MaxAttempts answers per attempt window.
func (engine *Engine) VerifyTOTP(ctx context.Context, identity *account.Identity, code string) error {
	if err := engine.countAnswer(ctx, identity.ID); err != nil {
		return err
	}

	if identity.TwoFactorSecret == nil || !engine.validateTOTP(*identity.TwoFactorSecret, code) {
		engine.metrics.OTPResult("totp_mismatch")
		return apperr.OTPMismatch()
	}

	first, err := engine.pending.MarkTOTPUsed(ctx, identity.ID, strings.TrimSpace(code), 3*totpPeriod*time.Second)
	if err != nil {
		return fmt.Errorf("twofactor_totp_replay_check_failed: %w", err)
	}
	if !first {
		engine.metrics.OTPResult("totp_replay")
		return apperr.OTPMismatch()
	}

	engine.resetAnswers(ctx, identity.ID)
	engine.metrics.OTPResult("totp_verified")
	return nil
}

// countAnswer records one authenticator or backup-code answer. Once the
// count passes MaxAttempts every answer is refused, the right one included,
// until the window lapses or an answer succeeds.
func (engine *Engine) countAnswer(ctx context.Context, userID string) error {
	attempts, err := engine.pending.CountAnswer(ctx, userID, engine.config.AttemptWindow)
	if err != nil {
		return fmt.Errorf("twofactor_answer_count_failed: %w", err)
	}
	if attempts > engine.config.MaxAttempts {
		engine.metrics.OTPResult("answers_exhausted")
		engine.logger.Warn("twofactor_answers_exhausted",
			slog.String("user_id", userID),
			slog.Int("attempts", attempts),
		)
		return apperr.OTPExhausted()
	}
	return nil
}

func (engine *Engine) resetAnswers(ctx context.Context, userID string) {
	if err := engine.pending.ResetAnswers(ctx, userID); err != nil {
		engine.logger.Warn("twofactor_answer_reset_failed", slog.String("user_id", userID), slog.Any("error", err))
	}
}

func (engine *Engine) validateTOTP(secret, code string) bool {
	valid, err := totp.ValidateCustom(strings.TrimSpace(code), secret, engine.now(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

// # Enrollment Lifecycle

/*
EnableOTPMethod makes email or SMS codes the identity's second factor.

Description: The destination must already be confirmed; enabling SMS for an
unverified phone number would let anyone who typed a wrong number lock the
owner out.
*/
func (engine *Engine) EnableOTPMethod(ctx context.Context, identity *account.Identity, method Method) ([]string, error) {
	var kind account.TwoFactorType
	switch method {
	case MethodEmail:
		if !identity.EmailConfirmed {
			return nil, apperr.Unprocessable("Email address must be verified first")
		}
		kind = account.TwoFactorEmail
	case MethodSMS:
		if identity.Phone() == "" || !identity.PhoneConfirmed {
			return nil, apperr.Unprocessable("Phone number must be verified first")
		}
		kind = account.TwoFactorSMS
	default:
		return nil, apperr.ValidationError("Unsupported delivery method")
	}

	if err := engine.setTwoFactor(ctx, identity, kind, nil); err != nil {
		return nil, err
	}
	return engine.GenerateBackupCodes(ctx, identity)
}

// Disable removes the second factor and every backup code.
func (engine *Engine) Disable(ctx context.Context, identity *account.Identity) error {
	if err := engine.setTwoFactor(ctx, identity, account.TwoFactorNone, nil); err != nil {
		return err
	}
	if err := engine.backups.DeleteBackupCodes(ctx, identity.ID); err != nil {
		return fmt.Errorf("twofactor_disable_backup_failed: %w", err)
	}
	return nil
}

func (engine *Engine) setTwoFactor(ctx context.Context, identity *account.Identity, kind account.TwoFactorType, secret *string) error {
	stamp := uuid.New()
	if err := engine.accounts.SetTwoFactor(ctx, identity.ID, kind, secret, stamp, engine.now()); err != nil {
		return fmt.Errorf("twofactor_set_type_failed: %w", err)
	}

	identity.TwoFactorType = kind
	identity.TwoFactorSecret = secret
	identity.SecurityStamp = stamp

	engine.logger.Info("twofactor_type_changed",
		slog.String("user_id", identity.ID),
		slog.String("type", string(kind)),
	)
	return nil
}

// ConfirmPhone verifies a verify_phone code and flags the number as confirmed.
func (engine *Engine) ConfirmPhone(ctx context.Context, identity *account.Identity, code string) error {
	if err := engine.VerifyOTP(ctx, identity, PurposeVerifyPhone, code); err != nil {
		return err
	}
	if err := engine.accounts.ConfirmPhone(ctx, identity.ID, engine.now()); err != nil {
		return fmt.Errorf("twofactor_confirm_phone_failed: %w", err)
	}
	identity.PhoneConfirmed = true
	return nil
}

// # Challenge Dispatch

// MethodFor returns the delivery method of an identity's enrolled OTP factor,
// or "" for TOTP and for identities without a second factor.
func MethodFor(identity *account.Identity) Method {
	switch identity.TwoFactorType {
	case account.TwoFactorEmail:
		return MethodEmail
	case account.TwoFactorSMS:
		return MethodSMS
	}
	return ""
}

/*
VerifySecondFactor checks code against whatever factor the identity uses.

Description: Backup codes are accepted for every enrolled type. Identities
without a second factor can only answer an emailed code (risk step-up).
*/
func (engine *Engine) VerifySecondFactor(ctx context.Context, identity *account.Identity, purpose Purpose, code, ip string) error {
	if IsBackupCode(code) {
		if !identity.TwoFactorEnabled() {
			return apperr.OTPMismatch()
		}
		return engine.ConsumeBackupCode(ctx, identity, code, ip)
	}

	if identity.TwoFactorType == account.TwoFactorTOTP {
		return engine.VerifyTOTP(ctx, identity, code)
	}
	return engine.VerifyOTP(ctx, identity, purpose, code)
}

// # Helpers

func destination(identity *account.Identity, method Method) (string, notify.Channel, error) {
	switch method {
	case MethodEmail:
		return identity.Email, notify.ChannelEmail, nil
	case MethodSMS:
		if identity.Phone() == "" {
			return "", "", apperr.Unprocessable("No phone number on file")
		}
		return identity.Phone(), notify.ChannelSMS, nil
	}
	return "", "", apperr.ValidationError("Unsupported delivery method")
}

func purposeLabel(purpose Purpose) string {
	switch purpose {
	case PurposeLogin, PurposeStepUp:
		return "sign-in"
	case PurposePasswordReset:
		return "password reset"
	default:
		return "verification"
	}
}

// mask hides most of a destination address.
func mask(target string, method Method) string {
	if method == MethodEmail {
		local, domain, found := strings.Cut(target, "@")
		if !found || len(local) == 0 {
			return "***"
		}
		return local[:1] + "***@" + domain
	}
	if len(target) <= 4 {
		return "***"
	}
	return strings.Repeat("*", len(target)-4) + target[len(target)-4:]
}
