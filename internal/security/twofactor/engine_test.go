// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor_test

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/notify"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
)

// # Test Doubles

type memoryCodes struct {
	mu    sync.Mutex
	codes []*twofactor.Code
}

func (m *memoryCodes) Replace(_ context.Context, code *twofactor.Code) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.codes {
		if existing.UserID == code.UserID && existing.Purpose == code.Purpose && !existing.IsUsed && existing.ExpiresAt.After(code.CreatedAt) {
			existing.ExpiresAt = code.CreatedAt
		}
	}
	clone := *code
	m.codes = append(m.codes, &clone)
	return nil
}

func (m *memoryCodes) Attempt(_ context.Context, userID string, purpose twofactor.Purpose, now time.Time, judge func(twofactor.Code) twofactor.Verdict) (twofactor.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var active []*twofactor.Code
	for _, code := range m.codes {
		if code.UserID == userID && code.Purpose == purpose && !code.IsUsed && code.ExpiresAt.After(now) {
			active = append(active, code)
		}
	}
	if len(active) == 0 {
		return twofactor.VerdictMismatch, apperr.NotFound("Verification code")
	}
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })

	code := active[0]
	verdict := judge(*code)
	switch verdict {
	case twofactor.VerdictMatch:
		code.IsUsed = true
		code.UsedAt = &now
	case twofactor.VerdictMismatch:
		if code.Attempts < code.MaxAttempts {
			code.Attempts++
		}
	}
	return verdict, nil
}

type memoryBackups struct {
	mu    sync.Mutex
	codes map[string]map[string]bool
}

func (m *memoryBackups) ReplaceBackupCodes(_ context.Context, userID string, hashes []string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes == nil {
		m.codes = make(map[string]map[string]bool)
	}
	set := make(map[string]bool, len(hashes))
	for _, hash := range hashes {
		set[hash] = false
	}
	m.codes[userID] = set
	return nil
}

func (m *memoryBackups) ConsumeBackupCode(_ context.Context, userID, hash, _ string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used, ok := m.codes[userID][hash]
	if !ok || used {
		return false, nil
	}
	m.codes[userID][hash] = true
	return true, nil
}

func (m *memoryBackups) RemainingBackupCodes(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	remaining := 0
	for _, used := range m.codes[userID] {
		if !used {
			remaining++
		}
	}
	return remaining, nil
}

func (m *memoryBackups) DeleteBackupCodes(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.codes, userID)
	return nil
}

type memoryAccounts struct {
	kinds  map[string]account.TwoFactorType
	phones map[string]bool
}

func (m *memoryAccounts) SetTwoFactor(_ context.Context, userID string, kind account.TwoFactorType, _ *string, _ string, _ time.Time) error {
	m.kinds[userID] = kind
	return nil
}

func (m *memoryAccounts) ConfirmPhone(_ context.Context, userID string, _ time.Time) error {
	m.phones[userID] = true
	return nil
}

type memoryPending struct {
	mu      sync.Mutex
	secrets map[string]string
	used    map[string]bool
	answers map[string]int
}

func (m *memoryPending) PutEnrollment(_ context.Context, userID, secret string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[userID] = secret
	return nil
}

func (m *memoryPending) GetEnrollment(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	secret, ok := m.secrets[userID]
	if !ok {
		return "", apperr.NotFound("Authenticator enrollment")
	}
	return secret, nil
}

func (m *memoryPending) DeleteEnrollment(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, userID)
	return nil
}

func (m *memoryPending) MarkTOTPUsed(_ context.Context, userID, code string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := userID + ":" + code
	if m.used[key] {
		return false, nil
	}
	m.used[key] = true
	return true, nil
}

func (m *memoryPending) CountAnswer(_ context.Context, userID string, _ time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[userID]++
	return m.answers[userID], nil
}

func (m *memoryPending) ResetAnswers(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.answers, userID)
	return nil
}

// lapse ends the current answer window of userID.
func (m *memoryPending) lapse(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.answers, userID)
}

type outbox struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (o *outbox) Dispatch(_ context.Context, message notify.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, message)
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

func (o *outbox) lastCode(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.messages)
	code := sixDigits.FindString(o.messages[len(o.messages)-1].Text)
	require.NotEmpty(t, code)
	return code
}

type fixture struct {
	engine   *twofactor.Engine
	codes    *memoryCodes
	backups  *memoryBackups
	accounts *memoryAccounts
	pending  *memoryPending
	outbox   *outbox
	identity *account.Identity
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	phone := "+14155550100"
	f := &fixture{
		codes:    &memoryCodes{},
		backups:  &memoryBackups{},
		accounts: &memoryAccounts{kinds: map[string]account.TwoFactorType{}, phones: map[string]bool{}},
		pending:  &memoryPending{secrets: map[string]string{}, used: map[string]bool{}, answers: map[string]int{}},
		outbox:   &outbox{},
		now:      time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		identity: &account.Identity{
			ID:             "user-1",
			Email:          "alice@example.com",
			EmailConfirmed: true,
			PhoneNumber:    &phone,
			TwoFactorType:  account.TwoFactorNone,
		},
	}
	stores := twofactor.Stores{
		Codes:    f.codes,
		Backups:  f.backups,
		Accounts: f.accounts,
		Pending:  f.pending,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.engine = twofactor.NewEngine(stores, f.outbox, twofactor.DefaultConfig, nil, logger).
		WithClock(func() time.Time { return f.now })
	return f
}

// # One-time Codes

func TestIssueOTP_DispatchesMaskedCode(t *testing.T) {
	f := newFixture(t)

	issued, err := f.engine.IssueOTP(context.Background(), f.identity, twofactor.PurposeLogin, twofactor.MethodEmail)
	require.NoError(t, err)

	assert.Equal(t, "a***@example.com", issued.Target)
	assert.Equal(t, f.now.Add(10*time.Minute), issued.ExpiresAt)
	require.Len(t, f.outbox.messages, 1)
	assert.Equal(t, notify.ChannelEmail, f.outbox.messages[0].Channel)
	assert.Equal(t, "alice@example.com", f.outbox.messages[0].To)

	code := f.outbox.lastCode(t)
	assert.NotEqual(t, code, f.codes.codes[0].CodeHash, "code must be stored hashed")
}

func TestIssueOTP_SMSMasksPhone(t *testing.T) {
	f := newFixture(t)

	issued, err := f.engine.IssueOTP(context.Background(), f.identity, twofactor.PurposeVerifyPhone, twofactor.MethodSMS)
	require.NoError(t, err)
	assert.Equal(t, "********0100", issued.Target)
	assert.Equal(t, notify.ChannelSMS, f.outbox.messages[0].Channel)
}

func TestIssueOTP_SMSWithoutPhone(t *testing.T) {
	f := newFixture(t)
	f.identity.PhoneNumber = nil

	_, err := f.engine.IssueOTP(context.Background(), f.identity, twofactor.PurposeLogin, twofactor.MethodSMS)
	assert.Equal(t, apperr.CodeUnprocessable, apperr.CodeOf(err))
}

func TestVerifyOTP_Match(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeLogin, twofactor.MethodEmail)
	require.NoError(t, err)
	code := f.outbox.lastCode(t)

	require.NoError(t, f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, code))

	err = f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, code)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "a verified code cannot be reused")
}

func TestVerifyOTP_ExhaustedEvenForCorrectCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeLogin, twofactor.MethodEmail)
	require.NoError(t, err)
	code := f.outbox.lastCode(t)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < 5; i++ {
		err := f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, wrong)
		assert.ErrorIs(t, err, apperr.ErrOTPMismatch, "attempt %d", i+1)
	}

	err = f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, code)
	assert.ErrorIs(t, err, apperr.ErrOTPExhausted)
}

func TestVerifyOTP_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeLogin, twofactor.MethodEmail)
	require.NoError(t, err)
	code := f.outbox.lastCode(t)

	f.now = f.now.Add(11 * time.Minute)
	err = f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, code)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestVerifyOTP_ReissueInvalidatesPrevious(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeLogin, twofactor.MethodEmail)
	require.NoError(t, err)
	first := f.outbox.lastCode(t)

	f.now = f.now.Add(time.Second)
	_, err = f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeLogin, twofactor.MethodEmail)
	require.NoError(t, err)
	second := f.outbox.lastCode(t)

	if first != second {
		err = f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, first)
		assert.ErrorIs(t, err, apperr.ErrOTPMismatch)
	}
	require.NoError(t, f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, second))
}

func TestVerifyOTP_PurposesAreIsolated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeStepUp, twofactor.MethodEmail)
	require.NoError(t, err)
	code := f.outbox.lastCode(t)

	err = f.engine.VerifyOTP(ctx, f.identity, twofactor.PurposeLogin, code)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// # Backup Codes

func TestBackupCodes_OneShot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.identity.TwoFactorType = account.TwoFactorEmail

	codes, err := f.engine.GenerateBackupCodes(ctx, f.identity)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	require.NoError(t, f.engine.VerifySecondFactor(ctx, f.identity, twofactor.PurposeLogin, codes[0], "203.0.113.7"))
	err = f.engine.VerifySecondFactor(ctx, f.identity, twofactor.PurposeLogin, codes[0], "203.0.113.7")
	assert.ErrorIs(t, err, apperr.ErrOTPMismatch)

	remaining, err := f.engine.RemainingBackupCodes(ctx, f.identity)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}

func TestBackupCodes_LooseFormatting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	codes, err := f.engine.GenerateBackupCodes(ctx, f.identity)
	require.NoError(t, err)

	loose := " " + codes[1][:5] + " " + codes[1][6:] + " "
	assert.True(t, twofactor.IsBackupCode(loose))
	require.NoError(t, f.engine.ConsumeBackupCode(ctx, f.identity, loose, ""))
}

func TestIsBackupCode(t *testing.T) {
	assert.True(t, twofactor.IsBackupCode("abcde-fghjk"))
	assert.True(t, twofactor.IsBackupCode("ABCDEFGHJK"))
	assert.False(t, twofactor.IsBackupCode("123456"))
	assert.False(t, twofactor.IsBackupCode(""))
}

// # TOTP

func TestTOTP_EnrollConfirmVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrollment, err := f.engine.EnrollTOTP(ctx, f.identity)
	require.NoError(t, err)
	assert.Contains(t, enrollment.URL, "otpauth://totp/")

	_, err = f.engine.ConfirmTOTP(ctx, f.identity, "000000x")
	assert.ErrorIs(t, err, apperr.ErrOTPMismatch)

	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)

	backups, err := f.engine.ConfirmTOTP(ctx, f.identity, code)
	require.NoError(t, err)
	assert.Len(t, backups, 10)
	assert.Equal(t, account.TwoFactorTOTP, f.identity.TwoFactorType)
	assert.Equal(t, account.TwoFactorTOTP, f.accounts.kinds["user-1"])
	require.NotNil(t, f.identity.TwoFactorSecret)

	f.now = f.now.Add(time.Minute)
	next, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)

	require.NoError(t, f.engine.VerifySecondFactor(ctx, f.identity, twofactor.PurposeLogin, next, ""))
	err = f.engine.VerifyTOTP(ctx, f.identity, next)
	assert.ErrorIs(t, err, apperr.ErrOTPMismatch, "a TOTP code is accepted once")
}

func TestTOTP_AnswersAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrollment, err := f.engine.EnrollTOTP(ctx, f.identity)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTOTP(ctx, f.identity, code)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	valid, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	wrong := "000000"
	if valid == wrong {
		wrong = "111111"
	}

	for i := 0; i < twofactor.DefaultConfig.MaxAttempts; i++ {
		err := f.engine.VerifyTOTP(ctx, f.identity, wrong)
		assert.ErrorIs(t, err, apperr.ErrOTPMismatch, "attempt %d", i+1)
	}
	for i := 0; i < 100; i++ {
		err := f.engine.VerifyTOTP(ctx, f.identity, wrong)
		require.ErrorIs(t, err, apperr.ErrOTPExhausted)
	}

	err = f.engine.VerifySecondFactor(ctx, f.identity, twofactor.PurposeStepUp, valid, "")
	assert.ErrorIs(t, err, apperr.ErrOTPExhausted, "the right code is refused once answers are used up")

	f.pending.lapse(f.identity.ID)
	require.NoError(t, f.engine.VerifySecondFactor(ctx, f.identity, twofactor.PurposeStepUp, valid, ""))
}

func TestBackupCodes_AnswersAreBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.identity.TwoFactorType = account.TwoFactorEmail

	codes, err := f.engine.GenerateBackupCodes(ctx, f.identity)
	require.NoError(t, err)

	for i := 0; i < twofactor.DefaultConfig.MaxAttempts; i++ {
		err := f.engine.ConsumeBackupCode(ctx, f.identity, "zzzzz-zzzzz", "203.0.113.7")
		assert.ErrorIs(t, err, apperr.ErrOTPMismatch)
	}

	err = f.engine.ConsumeBackupCode(ctx, f.identity, codes[0], "203.0.113.7")
	assert.ErrorIs(t, err, apperr.ErrOTPExhausted)

	remaining, err := f.engine.RemainingBackupCodes(ctx, f.identity)
	require.NoError(t, err)
	assert.Equal(t, 10, remaining, "a refused answer spends nothing")
}

func TestTOTP_SuccessResetsAnswers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	enrollment, err := f.engine.EnrollTOTP(ctx, f.identity)
	require.NoError(t, err)
	code, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	_, err = f.engine.ConfirmTOTP(ctx, f.identity, code)
	require.NoError(t, err)

	f.now = f.now.Add(time.Minute)
	valid, err := totp.GenerateCode(enrollment.Secret, f.now)
	require.NoError(t, err)
	wrong := "000000"
	if valid == wrong {
		wrong = "111111"
	}

	for i := 0; i < twofactor.DefaultConfig.MaxAttempts-1; i++ {
		assert.ErrorIs(t, f.engine.VerifyTOTP(ctx, f.identity, wrong), apperr.ErrOTPMismatch)
	}
	require.NoError(t, f.engine.VerifyTOTP(ctx, f.identity, valid))
	assert.Zero(t, f.pending.answers[f.identity.ID])
}

func TestTOTP_ConfirmWithoutEnrollment(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.ConfirmTOTP(context.Background(), f.identity, "123456")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

// # Enrollment Lifecycle

func TestEnableOTPMethod_RequiresConfirmedDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.EnableOTPMethod(ctx, f.identity, twofactor.MethodSMS)
	assert.Equal(t, apperr.CodeUnprocessable, apperr.CodeOf(err))

	backups, err := f.engine.EnableOTPMethod(ctx, f.identity, twofactor.MethodEmail)
	require.NoError(t, err)
	assert.Len(t, backups, 10)
	assert.Equal(t, account.TwoFactorEmail, f.identity.TwoFactorType)
	assert.Equal(t, twofactor.MethodEmail, twofactor.MethodFor(f.identity))
}

func TestConfirmPhone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.IssueOTP(ctx, f.identity, twofactor.PurposeVerifyPhone, twofactor.MethodSMS)
	require.NoError(t, err)

	require.NoError(t, f.engine.ConfirmPhone(ctx, f.identity, f.outbox.lastCode(t)))
	assert.True(t, f.identity.PhoneConfirmed)
	assert.True(t, f.accounts.phones["user-1"])

	_, err = f.engine.EnableOTPMethod(ctx, f.identity, twofactor.MethodSMS)
	require.NoError(t, err)
}

func TestDisable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.EnableOTPMethod(ctx, f.identity, twofactor.MethodEmail)
	require.NoError(t, err)
	stamp := f.identity.SecurityStamp

	require.NoError(t, f.engine.Disable(ctx, f.identity))
	assert.Equal(t, account.TwoFactorNone, f.identity.TwoFactorType)
	assert.NotEqual(t, stamp, f.identity.SecurityStamp)

	remaining, err := f.engine.RemainingBackupCodes(ctx, f.identity)
	require.NoError(t, err)
	assert.Zero(t, remaining)
}

func TestVerifySecondFactor_BackupRejectedWithoutEnrollment(t *testing.T) {
	f := newFixture(t)

	err := f.engine.VerifySecondFactor(context.Background(), f.identity, twofactor.PurposeStepUp, "abcde-fghjk", "")
	assert.ErrorIs(t, err, apperr.ErrOTPMismatch)
}
