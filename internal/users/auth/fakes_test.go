// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/notify"
	redisstore "github.com/taibuivan/agora/internal/platform/redis"
	"github.com/taibuivan/agora/internal/platform/sec"
	"github.com/taibuivan/agora/internal/security/audit"
	"github.com/taibuivan/agora/internal/security/credential"
	"github.com/taibuivan/agora/internal/security/device"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/security/risk"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/security/twofactor"
	"github.com/taibuivan/agora/internal/users/account"
	"github.com/taibuivan/agora/internal/users/auth"
	"github.com/taibuivan/agora/internal/users/external"
)

const (
	testPassword = "correct-password"
	testIP       = "203.0.113.7"
	testCode     = "123456"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// # Accounts

type memoryAccounts struct {
	mu    sync.Mutex
	byID  map[string]*account.Identity
	count int
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{byID: make(map[string]*account.Identity)}
}

// add stores identity; lookups return the same pointer so the credential
// service's lockout updates are visible to later logins.
func (m *memoryAccounts) add(identity *account.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[identity.ID] = identity
}

func (m *memoryAccounts) Register(_ context.Context, input account.RegisterInput) (*account.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.byID {
		if strings.EqualFold(identity.Username, input.Username) || strings.EqualFold(identity.Email, input.Email) {
			return nil, apperr.Conflict("taken")
		}
	}

	hash, err := sec.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	m.count++
	identity := &account.Identity{
		ID:             fmt.Sprintf("user-%d", m.count),
		Username:       input.Username,
		Email:          input.Email,
		DisplayName:    input.DisplayName,
		PasswordHash:   hash,
		Status:         account.StatusPending,
		TwoFactorType:  account.TwoFactorNone,
		Role:           sec.RoleMember,
		LockoutEnabled: true,
	}
	m.byID[identity.ID] = identity
	return identity, nil
}

func (m *memoryAccounts) FindByID(_ context.Context, id string) (*account.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[id]
	if !ok {
		return nil, apperr.NotFound("Identity")
	}
	return identity, nil
}

func (m *memoryAccounts) FindByLogin(_ context.Context, login string) (*account.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.byID {
		if strings.EqualFold(identity.Username, login) || strings.EqualFold(identity.Email, login) {
			return identity, nil
		}
	}
	return nil, apperr.NotFound("Identity")
}

func (m *memoryAccounts) MarkEmailVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byID[userID]
	if !ok {
		return apperr.NotFound("Identity")
	}
	identity.EmailConfirmed = true
	identity.Status = account.StatusActive
	return nil
}

// # Credentials

type memoryCredentialStore struct {
	mu     sync.Mutex
	counts map[string]int
	locks  map[string]time.Time
}

func (m *memoryCredentialStore) LockedUntil(_ context.Context, userID string, now time.Time) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.locks[userID]
	if !ok || !until.After(now) {
		return nil, nil
	}
	return &until, nil
}

func (m *memoryCredentialStore) IncrementFailure(_ context.Context, userID string, threshold int, now, lockUntil time.Time) (credential.Failure, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
		m.locks = make(map[string]time.Time)
	}
	if until, ok := m.locks[userID]; ok && until.After(now) {
		return credential.Failure{Count: m.counts[userID], LockedUntil: &until}, nil
	}
	if m.counts[userID]+1 >= threshold {
		m.counts[userID] = 0
		m.locks[userID] = lockUntil
		until := lockUntil
		return credential.Failure{Count: 0, LockedUntil: &until}, nil
	}
	m.counts[userID]++
	return credential.Failure{Count: m.counts[userID]}, nil
}

func (m *memoryCredentialStore) ResetFailures(_ context.Context, userID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, userID)
	return nil
}

func (m *memoryCredentialStore) UpdatePassword(context.Context, string, string, string, string, time.Time) error {
	return nil
}

func (m *memoryCredentialStore) Unlock(context.Context, string) error { return nil }

// countingVerifier counts how often the credential store was consulted.
type countingVerifier struct {
	*credential.Service
	calls atomic.Int32
}

func (v *countingVerifier) Verify(ctx context.Context, identity *account.Identity, plaintext string) error {
	v.calls.Add(1)
	return v.Service.Verify(ctx, identity, plaintext)
}

// # Second Factor

type fakeSecondFactor struct {
	mu     sync.Mutex
	code   string
	issued []twofactor.Purpose
	checks int
	// limit, when set, refuses every answer after that many wrong ones.
	limit  int
	misses int
}

func (f *fakeSecondFactor) IssueOTP(_ context.Context, identity *account.Identity, purpose twofactor.Purpose, method twofactor.Method) (*twofactor.Issued, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued = append(f.issued, purpose)
	return &twofactor.Issued{Method: method, Target: "a***@example.com", ExpiresAt: time.Now().Add(5 * time.Minute)}, nil
}

func (f *fakeSecondFactor) VerifySecondFactor(_ context.Context, _ *account.Identity, _ twofactor.Purpose, code, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.limit > 0 && f.misses >= f.limit {
		return apperr.OTPExhausted()
	}
	if code != f.code {
		f.misses++
		return apperr.OTPMismatch()
	}
	f.misses = 0
	return nil
}

func (f *fakeSecondFactor) EnrollTOTP(context.Context, *account.Identity) (*twofactor.Enrollment, error) {
	return &twofactor.Enrollment{Secret: "SECRET"}, nil
}

func (f *fakeSecondFactor) ConfirmTOTP(_ context.Context, identity *account.Identity, _ string) ([]string, error) {
	identity.TwoFactorType = account.TwoFactorTOTP
	return []string{"aaaa-bbbb"}, nil
}

func (f *fakeSecondFactor) EnableOTPMethod(_ context.Context, identity *account.Identity, method twofactor.Method) ([]string, error) {
	identity.TwoFactorType = account.TwoFactorType(method)
	return []string{"aaaa-bbbb"}, nil
}

func (f *fakeSecondFactor) Disable(_ context.Context, identity *account.Identity) error {
	identity.TwoFactorType = account.TwoFactorNone
	return nil
}

func (f *fakeSecondFactor) GenerateBackupCodes(context.Context, *account.Identity) ([]string, error) {
	return []string{"aaaa-bbbb"}, nil
}

func (f *fakeSecondFactor) RemainingBackupCodes(context.Context, *account.Identity) (int, error) {
	return 1, nil
}

func (f *fakeSecondFactor) ConfirmPhone(context.Context, *account.Identity, string) error { return nil }

// # Devices

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	agents  map[string]string
}

func (f *fakeDevices) Recognize(_ context.Context, userID string, meta device.Metadata) (*device.Device, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.devices == nil {
		f.devices = make(map[string]*device.Device)
		f.agents = make(map[string]string)
	}

	id := meta.DeviceID
	if id == "" {
		id = "dev-generated"
	}
	k := userID + "/" + id
	if known, ok := f.devices[k]; ok {
		changed := f.agents[k] != "" && f.agents[k] != meta.UserAgent
		if changed {
			known.IsTrusted = false
		}
		f.agents[k] = meta.UserAgent
		out := *known
		out.FingerprintChanged = changed
		return &out, false, nil
	}
	known := &device.Device{UserID: userID, DeviceID: id, DeviceName: meta.Name}
	f.devices[k] = known
	f.agents[k] = meta.UserAgent
	return known, true, nil
}

func (f *fakeDevices) Trust(_ context.Context, userID, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	known, ok := f.devices[userID+"/"+deviceID]
	if !ok {
		return apperr.NotFound("Device")
	}
	known.IsTrusted = true
	return nil
}

func (f *fakeDevices) trusted(userID, deviceID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	known, ok := f.devices[userID+"/"+deviceID]
	return ok && known.IsTrusted
}

func (f *fakeDevices) RevokeTrust(context.Context, string, string) error { return nil }
func (f *fakeDevices) List(context.Context, string) ([]device.Device, error) { return nil, nil }
func (f *fakeDevices) Forget(context.Context, string, string) error { return nil }

// # Risk

type fakeRisk struct {
	mu         sync.Mutex
	assessment risk.Assessment
	scored     []risk.Attempt
	successes  int
	failures   int
}

func (f *fakeRisk) Score(_ context.Context, attempt risk.Attempt) risk.Assessment {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scored = append(f.scored, attempt)
	return f.assessment
}

func (f *fakeRisk) RecordSuccess(context.Context, string, string, risk.Location, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
}

func (f *fakeRisk) RecordFailure(context.Context, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures++
}

// # Sessions

type fakeSessions struct {
	mu        sync.Mutex
	issued    int
	rotated   int
	revokeAll map[string]string
	ended     []string
	stepUps   []string
	cleared   []string
	stepUpErr error
}

func (f *fakeSessions) Issue(_ context.Context, subject session.Subject, _ session.Origin) (*session.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return &session.TokenPair{
		AccessToken:      fmt.Sprintf("access-%d", f.issued),
		RefreshToken:     fmt.Sprintf("refresh-%d", f.issued),
		TokenType:        "Bearer",
		ExpiresIn:        900,
		RefreshExpiresAt: time.Now().Add(time.Hour),
		SessionID:        fmt.Sprintf("session-%d", f.issued),
	}, nil
}

func (f *fakeSessions) Rotate(context.Context, string, string) (*session.TokenPair, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rotated++
	return &session.TokenPair{AccessToken: "rotated", RefreshToken: "rotated", TokenType: "Bearer"}, nil
}

func (f *fakeSessions) RevokeAll(_ context.Context, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.revokeAll == nil {
		f.revokeAll = make(map[string]string)
	}
	f.revokeAll[userID] = reason
	return nil
}

func (f *fakeSessions) End(_ context.Context, sessionID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, sessionID)
	return nil
}

func (f *fakeSessions) issuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.issued
}

func (f *fakeSessions) Revoke(context.Context, string, string) error { return nil }
func (f *fakeSessions) RevokeSession(context.Context, string, string) error { return nil }

func (f *fakeSessions) RequireStepUp(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stepUpErr != nil {
		return f.stepUpErr
	}
	f.stepUps = append(f.stepUps, sessionID)
	return nil
}

func (f *fakeSessions) ClearStepUp(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, sessionID)
	return nil
}

func (f *fakeSessions) flagged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stepUps...)
}

func (f *fakeSessions) ListActive(context.Context, string) ([]session.Session, error) {
	return nil, nil
}

// # IP Reputation

type memoryIPStore struct {
	mu      sync.Mutex
	records map[string]ipguard.Record
}

func (m *memoryIPStore) Find(_ context.Context, ip string) (*ipguard.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[ip]
	if !ok {
		return nil, apperr.NotFound("IP")
	}
	return &record, nil
}

func (m *memoryIPStore) Update(_ context.Context, ip string, mutate func(record *ipguard.Record)) (*ipguard.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]ipguard.Record)
	}
	record, ok := m.records[ip]
	if !ok {
		record = ipguard.Record{ID: ip, IP: ip, BlockType: ipguard.BlockNone}
	}
	mutate(&record)
	m.records[ip] = record
	return &record, nil
}

func (m *memoryIPStore) ListBlocked(context.Context, time.Time) ([]ipguard.Record, error) {
	return nil, nil
}

// # Audit & Notifications

type auditSpy struct {
	mu         sync.Mutex
	attempts   []audit.LoginAttempt
	logins     []audit.LoginHistory
	activities []audit.UserActivity
	alerts     []audit.SecurityAlert
}

func (s *auditSpy) RecordAttempt(_ context.Context, attempt audit.LoginAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
}

func (s *auditSpy) RecordLogin(_ context.Context, login audit.LoginHistory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins = append(s.logins, login)
}

func (s *auditSpy) RecordActivity(_ context.Context, activity audit.UserActivity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, activity)
}

func (s *auditSpy) RaiseAlert(_ context.Context, alert audit.SecurityAlert) audit.SecurityAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return alert
}

func (s *auditSpy) alertsOf(alertType string) []audit.SecurityAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []audit.SecurityAlert
	for _, alert := range s.alerts {
		if alert.AlertType == alertType {
			found = append(found, alert)
		}
	}
	return found
}

type notifierSpy struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (s *notifierSpy) Dispatch(_ context.Context, message notify.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *notifierSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fakeLimiter struct {
	result redisstore.LimitResult
}

func (f *fakeLimiter) Allow(context.Context, string) (redisstore.LimitResult, error) {
	return f.result, nil
}

// # Volatile Stores

type memoryTokens struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryTokens) Put(_ context.Context, token, value string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[token] = value
	return nil
}

func (m *memoryTokens) Take(_ context.Context, token string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.values[token]
	if !ok {
		return "", apperr.NotFound("Token")
	}
	delete(m.values, token)
	return value, nil
}

// only returns the single stored token.
func (m *memoryTokens) only(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.values, 1)
	for token := range m.values {
		return token
	}
	return ""
}

type challengeEntry struct {
	pending  auth.PendingChallenge
	attempts int
}

type memoryChallenges struct {
	mu      sync.Mutex
	entries map[string]*challengeEntry
}

func (m *memoryChallenges) Put(_ context.Context, token string, pending *auth.PendingChallenge, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]*challengeEntry)
	}
	m.entries[token] = &challengeEntry{pending: *pending}
	return nil
}

func (m *memoryChallenges) Get(_ context.Context, token string) (*auth.PendingChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[token]
	if !ok {
		return nil, apperr.NotFound("Challenge")
	}
	pending := entry.pending
	return &pending, nil
}

func (m *memoryChallenges) CountAttempt(_ context.Context, token string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[token]
	if !ok {
		return 0, apperr.NotFound("Challenge")
	}
	entry.attempts++
	return entry.attempts, nil
}

func (m *memoryChallenges) Consume(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[token]
	delete(m.entries, token)
	return ok, nil
}

// # External Providers

type fakeProvider struct {
	name   string
	claims *external.Claims
}

func (p *fakeProvider) Name() string { return p.name }
func (p *fakeProvider) AuthCodeURL(state string) string { return "https://idp.example/authorize?state=" + state }

func (p *fakeProvider) Exchange(_ context.Context, code string) (*external.Claims, error) {
	if code != "good-code" {
		return nil, fmt.Errorf("exchange refused")
	}
	claims := *p.claims
	return &claims, nil
}

type memoryLinks struct {
	mu    sync.Mutex
	links []external.Link
}

func (m *memoryLinks) Find(_ context.Context, provider, key string) (*external.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, link := range m.links {
		if link.Provider == provider && link.ProviderKey == key {
			found := link
			return &found, nil
		}
	}
	return nil, apperr.NotFound("External login")
}

func (m *memoryLinks) Create(_ context.Context, link *external.Link) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.links {
		if existing.Provider == link.Provider && existing.ProviderKey == link.ProviderKey {
			return apperr.Conflict("linked")
		}
	}
	m.links = append(m.links, *link)
	return nil
}

func (m *memoryLinks) ListByUser(_ context.Context, userID string) ([]external.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found []external.Link
	for _, link := range m.links {
		if link.UserID == userID {
			found = append(found, link)
		}
	}
	return found, nil
}

func (m *memoryLinks) Delete(_ context.Context, userID, provider string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, link := range m.links {
		if link.UserID == userID && link.Provider == provider {
			m.links = append(m.links[:i], m.links[i+1:]...)
			return nil
		}
	}
	return apperr.NotFound("External login")
}

// # Fixture

type fixture struct {
	service      *auth.Service
	accounts     *memoryAccounts
	verifier     *countingVerifier
	factor       *fakeSecondFactor
	devices      *fakeDevices
	risk         *fakeRisk
	sessions     *fakeSessions
	ipStore      *memoryIPStore
	auditor      *auditSpy
	notifier     *notifierSpy
	challenges   *memoryChallenges
	resetTokens  *memoryTokens
	verifyTokens *memoryTokens
	states       *memoryTokens
	links        *memoryLinks
	provider     *fakeProvider
	identity     *account.Identity
}

type fixtureOption func(deps *auth.Dependencies)

func withLimiter(limiter auth.LoginLimiter) fixtureOption {
	return func(deps *auth.Dependencies) { deps.Limiter = limiter }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	hash, err := sec.HashPassword(testPassword)
	require.NoError(t, err)

	f := &fixture{
		accounts:     newMemoryAccounts(),
		factor:       &fakeSecondFactor{code: testCode},
		devices:      &fakeDevices{},
		risk:         &fakeRisk{assessment: risk.Assessment{Severity: risk.SeverityLow}},
		sessions:     &fakeSessions{},
		ipStore:      &memoryIPStore{},
		auditor:      &auditSpy{},
		notifier:     &notifierSpy{},
		challenges:   &memoryChallenges{},
		resetTokens:  &memoryTokens{},
		verifyTokens: &memoryTokens{},
		states:       &memoryTokens{},
		links:        &memoryLinks{},
		provider: &fakeProvider{name: "google", claims: &external.Claims{
			Provider:      "google",
			Subject:       "google-sub-1",
			Email:         "newcomer@example.com",
			EmailVerified: true,
			Name:          "New Comer",
		}},
	}

	f.identity = &account.Identity{
		ID:             "user-alice",
		Username:       "alice",
		Email:          "alice@example.com",
		EmailConfirmed: true,
		PasswordHash:   hash,
		TwoFactorType:  account.TwoFactorNone,
		Role:           sec.RoleMember,
		Status:         account.StatusActive,
		LockoutEnabled: true,
	}
	f.accounts.add(f.identity)

	credentials := credential.NewService(&memoryCredentialStore{}, f.sessions,
		credential.Policy{Threshold: 5, Window: 15 * time.Minute}, discard)
	f.verifier = &countingVerifier{Service: credentials}

	guard := ipguard.NewGuard(f.ipStore, ipguard.Policy{
		TempThreshold:        10,
		BaseBlock:            15 * time.Minute,
		MaxBlock:             24 * time.Hour,
		PermanentAfterBlocks: 3,
	}, nil, discard)

	deps := auth.Dependencies{
		Accounts:     f.accounts,
		Credentials:  f.verifier,
		SecondFactor: f.factor,
		Devices:      f.devices,
		Risk:         f.risk,
		Sessions:     f.sessions,
		IPGuard:      guard,
		Auditor:      f.auditor,
		Notifier:     f.notifier,
		Challenges:   f.challenges,
		ResetTokens:  f.resetTokens,
		VerifyTokens: f.verifyTokens,
		States:       f.states,
		Providers:    external.NewRegistry(f.provider),
		Links:        f.links,
		Logger:       discard,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	f.service = auth.NewService(deps, auth.Config{ChallengeMaxAttempts: 5})
	return f
}

func client() auth.Client {
	return auth.Client{IP: testIP, UserAgent: "Mozilla/5.0", DeviceID: "dev-1"}
}

func (f *fixture) login(password string) (*auth.Result, error) {
	return f.service.Authenticate(context.Background(), auth.Credentials{
		Login:    "alice",
		Password: password,
		Client:   client(),
	})
}
