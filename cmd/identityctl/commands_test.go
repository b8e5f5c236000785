// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/migration"
	"github.com/taibuivan/agora/internal/security/ipguard"
	"github.com/taibuivan/agora/internal/security/session"
	"github.com/taibuivan/agora/internal/users/account"
)

// # Fakes

type fakeIPs struct {
	blocked   map[string]ipguard.BlockInput
	unblocked []string
}

func (f *fakeIPs) Block(_ context.Context, ip string, input ipguard.BlockInput) (*ipguard.Record, error) {
	f.blocked[ip] = input
	blockType := ipguard.BlockTemporary
	if input.Permanent {
		blockType = ipguard.BlockPermanent
	}
	return &ipguard.Record{IP: ip, BlockType: blockType, BlockCount: 1}, nil
}

func (f *fakeIPs) Unblock(_ context.Context, ip, _ string) (*ipguard.Record, error) {
	f.unblocked = append(f.unblocked, ip)
	return &ipguard.Record{IP: ip, BlockType: ipguard.BlockNone, FailedAttempts: 12}, nil
}

type fakeAlerts struct{ resolved map[string]string }

func (f *fakeAlerts) ResolveAlert(_ context.Context, alertID, actor string) error {
	f.resolved[alertID] = actor
	return nil
}

type fakeSessions struct {
	reapedAge time.Duration
	revoked   []string
}

func (f *fakeSessions) Reap(_ context.Context, age time.Duration) (session.ReapResult, error) {
	f.reapedAge = age
	return session.ReapResult{Tokens: 7, Sessions: 3}, nil
}

func (f *fakeSessions) RevokeAll(_ context.Context, userID, _ string) error {
	f.revoked = append(f.revoked, userID)
	return nil
}

type fakeAccounts struct {
	identities map[string]*account.Identity
	statuses   map[string]account.Status
}

func (f *fakeAccounts) FindByLogin(_ context.Context, login string) (*account.Identity, error) {
	identity, ok := f.identities[login]
	if !ok {
		return nil, apperr.NotFound("User")
	}
	return identity, nil
}

func (f *fakeAccounts) SetStatus(_ context.Context, userID string, status account.Status, _ string) error {
	f.statuses[userID] = status
	return nil
}

type fakeLockouts struct{ unlocked []string }

func (f *fakeLockouts) Unlock(_ context.Context, userID, _ string) error {
	f.unlocked = append(f.unlocked, userID)
	return nil
}

type fakeBackups struct{}

func (fakeBackups) GenerateBackupCodes(context.Context, *account.Identity) ([]string, error) {
	return []string{"AAAA-BBBB", "CCCC-DDDD"}, nil
}

type fakeSchema struct {
	version   uint
	rolled    []int
	upCalls   int
	statusHit int
}

func (f *fakeSchema) Up() (migration.Status, error) {
	f.upCalls++
	f.version = 1
	return migration.Status{Version: f.version}, nil
}

func (f *fakeSchema) Down(steps int) (migration.Status, error) {
	f.rolled = append(f.rolled, steps)
	return migration.Status{Empty: true}, nil
}

func (f *fakeSchema) Status() (migration.Status, error) {
	f.statusHit++
	return migration.Status{Version: f.version}, nil
}

type harness struct {
	svc       *services
	schema    *fakeSchema
	connected int
	closed    int
}

func newHarness() *harness {
	h := &harness{schema: &fakeSchema{}}
	h.svc = &services{
		schema:   h.schema,
		ips:      &fakeIPs{blocked: map[string]ipguard.BlockInput{}},
		alerts:   &fakeAlerts{resolved: map[string]string{}},
		sessions: &fakeSessions{},
		accounts: &fakeAccounts{
			identities: map[string]*account.Identity{"alice": {ID: "user-alice", Username: "alice"}},
			statuses:   map[string]account.Status{},
		},
		lockouts: &fakeLockouts{},
		backups:  fakeBackups{},
		reapAge:  90 * 24 * time.Hour,
	}
	return h
}

func (h *harness) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand(func(context.Context) (*services, func(), error) {
		h.connected++
		return h.svc, func() { h.closed++ }, nil
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// # Tests

func TestMigrate(t *testing.T) {
	h := newHarness()

	out, err := h.execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, 1, h.schema.upCalls)
	assert.Equal(t, 1, h.closed)
	assert.Equal(t, "migrations applied (version=1)\n", out)
}

func TestMigrateStatus(t *testing.T) {
	h := newHarness()

	out, err := h.execute(t, "migrate", "status")
	require.NoError(t, err)
	assert.Zero(t, h.schema.upCalls)
	assert.Equal(t, "version=0\n", out)
}

func TestMigrateDown(t *testing.T) {
	h := newHarness()

	out, err := h.execute(t, "migrate", "down", "--steps", "2")
	require.NoError(t, err)
	assert.Equal(t, []int{2}, h.schema.rolled)
	assert.Contains(t, out, "version=none")

	_, err = h.execute(t, "migrate", "down", "--steps", "0")
	require.Error(t, err)
	assert.Equal(t, 1, h.connected)
}

func TestIPBlock(t *testing.T) {
	h := newHarness()

	out, err := h.execute(t, "ip", "block", "198.51.100.9", "--reason", "abuse report", "--permanent")
	require.NoError(t, err)

	input := h.svc.ips.(*fakeIPs).blocked["198.51.100.9"]
	assert.True(t, input.Permanent)
	assert.Equal(t, "abuse report", input.Reason)
	assert.Equal(t, operatorActor, input.Actor)
	assert.Contains(t, out, "block=permanent")
	assert.Contains(t, out, "expires=never")
}

func TestIPBlock_RequiresReasonBeforeConnecting(t *testing.T) {
	h := newHarness()

	_, err := h.execute(t, "ip", "block", "198.51.100.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--reason")
	assert.Zero(t, h.connected)
}

func TestIPUnblock(t *testing.T) {
	h := newHarness()

	out, err := h.execute(t, "ip", "unblock", "198.51.100.9")
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.9"}, h.svc.ips.(*fakeIPs).unblocked)
	assert.Contains(t, out, "failures=12")
}

func TestAlertResolve(t *testing.T) {
	h := newHarness()

	_, err := h.execute(t, "alert", "resolve", "alert-1")
	require.NoError(t, err)
	assert.Equal(t, operatorActor, h.svc.alerts.(*fakeAlerts).resolved["alert-1"])
}

func TestSessionsReap(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want time.Duration
	}{
		{"configured default", []string{"sessions", "reap"}, 90 * 24 * time.Hour},
		{"explicit age", []string{"sessions", "reap", "--older-than", "48h"}, 48 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()

			out, err := h.execute(t, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.want, h.svc.sessions.(*fakeSessions).reapedAge)
			assert.Contains(t, out, "reaped 7 tokens and 3 sessions")
		})
	}
}

func TestSessionsRevokeAll(t *testing.T) {
	h := newHarness()

	_, err := h.execute(t, "sessions", "revoke-all", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-alice"}, h.svc.sessions.(*fakeSessions).revoked)
}

func TestSessionsRevokeAll_UnknownLogin(t *testing.T) {
	h := newHarness()

	_, err := h.execute(t, "sessions", "revoke-all", "mallory")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, h.svc.sessions.(*fakeSessions).revoked)
}

func TestBackupCodesRegenerate(t *testing.T) {
	h := newHarness()

	out, err := h.execute(t, "backup-codes", "regenerate", "alice")
	require.NoError(t, err)
	assert.Equal(t, "AAAA-BBBB\nCCCC-DDDD\n", out)
}

func TestAccountUnlock(t *testing.T) {
	h := newHarness()

	_, err := h.execute(t, "account", "unlock", "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"user-alice"}, h.svc.lockouts.(*fakeLockouts).unlocked)
}

func TestAccountStatus(t *testing.T) {
	h := newHarness()

	_, err := h.execute(t, "account", "status", "alice", "suspended")
	require.NoError(t, err)
	assert.Equal(t, account.StatusSuspended, h.svc.accounts.(*fakeAccounts).statuses["user-alice"])

	_, err = h.execute(t, "account", "status", "alice", "pending")
	require.Error(t, err)

	_, err = h.execute(t, "account", "status", "alice", "royalty")
	require.Error(t, err)
}
