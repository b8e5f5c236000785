// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ipguard_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/security/ipguard"
)

type memoryStore struct {
	mu      sync.Mutex
	records map[string]*ipguard.Record
	findErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]*ipguard.Record)}
}

func (m *memoryStore) Find(_ context.Context, ip string) (*ipguard.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	record, ok := m.records[ip]
	if !ok {
		return nil, apperr.NotFound("Blocked IP")
	}
	clone := *record
	return &clone, nil
}

func (m *memoryStore) Update(_ context.Context, ip string, mutate func(*ipguard.Record)) (*ipguard.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[ip]
	if !ok {
		record = &ipguard.Record{ID: ip, IP: ip, BlockType: ipguard.BlockNone}
		m.records[ip] = record
	}
	mutate(record)
	clone := *record
	return &clone, nil
}

func (m *memoryStore) ListBlocked(_ context.Context, now time.Time) ([]ipguard.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ipguard.Record
	for _, record := range m.records {
		if record.Blocked(now) {
			out = append(out, *record)
		}
	}
	return out, nil
}

const attacker = "203.0.113.7"

func newGuard(now *time.Time) (*ipguard.Guard, *memoryStore) {
	store := newMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	guard := ipguard.NewGuard(store, ipguard.DefaultPolicy, nil, logger).WithClock(func() time.Time { return *now })
	return guard, store
}

func TestTwentyRapidFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, store := newGuard(&now)
	ctx := context.Background()

	recorded, refused := 0, 0
	for i := 0; i < 20; i++ {
		if err := guard.CheckAllowed(ctx, attacker); err != nil {
			assert.ErrorIs(t, err, apperr.ErrIPBlocked)
			refused++
			continue
		}
		_, err := guard.RecordFailure(ctx, attacker)
		require.NoError(t, err)
		recorded++
		now = now.Add(time.Second)
	}

	assert.Equal(t, 10, recorded)
	assert.Equal(t, 10, refused)

	record := store.records[attacker]
	assert.Equal(t, ipguard.BlockTemporary, record.BlockType)
	assert.Equal(t, 1, record.BlockCount)
	assert.Equal(t, 10, record.FailedAttempts)
	assert.Equal(t, 0, record.RecentFailures)
	require.NotNil(t, record.ExpiresAt)
	assert.Equal(t, 15*time.Minute, record.ExpiresAt.Sub(*record.BlockedAt))
}

func TestBlockExpires(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, _ := newGuard(&now)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := guard.RecordFailure(ctx, attacker)
		require.NoError(t, err)
	}
	require.ErrorIs(t, guard.CheckAllowed(ctx, attacker), apperr.ErrIPBlocked)

	now = now.Add(15*time.Minute + time.Second)
	assert.NoError(t, guard.CheckAllowed(ctx, attacker))
}

func TestBlocksEscalateToPermanent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, store := newGuard(&now)
	ctx := context.Background()

	var durations []time.Duration
	for block := 1; block <= 3; block++ {
		for i := 0; i < 10; i++ {
			_, err := guard.RecordFailure(ctx, attacker)
			require.NoError(t, err)
		}
		record := store.records[attacker]
		require.Equal(t, block, record.BlockCount)
		if record.ExpiresAt != nil {
			durations = append(durations, record.ExpiresAt.Sub(now))
			now = record.ExpiresAt.Add(time.Second)
		}
	}

	assert.Equal(t, []time.Duration{15 * time.Minute, 30 * time.Minute}, durations)

	record := store.records[attacker]
	assert.True(t, record.IsPermanent)
	assert.Equal(t, ipguard.BlockPermanent, record.BlockType)
	assert.Nil(t, record.ExpiresAt)

	now = now.Add(365 * 24 * time.Hour)
	assert.ErrorIs(t, guard.CheckAllowed(ctx, attacker), apperr.ErrIPBlocked)
}

func TestBlockDurationIsCapped(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore()
	policy := ipguard.Policy{TempThreshold: 1, BaseBlock: 10 * time.Hour, MaxBlock: 24 * time.Hour}
	guard := ipguard.NewGuard(store, policy, nil, slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithClock(func() time.Time { return now })
	ctx := context.Background()

	var durations []time.Duration
	for i := 0; i < 3; i++ {
		record, err := guard.RecordFailure(ctx, attacker)
		require.NoError(t, err)
		durations = append(durations, record.ExpiresAt.Sub(now))
		now = record.ExpiresAt.Add(time.Second)
	}
	assert.Equal(t, []time.Duration{10 * time.Hour, 20 * time.Hour, 24 * time.Hour}, durations)
}

func TestUnblockKeepsLifetimeCounter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, _ := newGuard(&now)
	ctx := context.Background()

	_, err := guard.Block(ctx, attacker, ipguard.BlockInput{Reason: "abuse report", Permanent: true, Actor: "admin"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := guard.RecordFailure(ctx, attacker)
		require.NoError(t, err)
	}
	require.ErrorIs(t, guard.CheckAllowed(ctx, attacker), apperr.ErrIPBlocked)

	record, err := guard.Unblock(ctx, attacker, "admin")
	require.NoError(t, err)
	assert.Equal(t, ipguard.BlockNone, record.BlockType)
	assert.False(t, record.IsPermanent)
	assert.Equal(t, 3, record.FailedAttempts)
	assert.Equal(t, 0, record.RecentFailures)
	require.NotNil(t, record.UnblockedBy)
	assert.Equal(t, "admin", *record.UnblockedBy)

	assert.NoError(t, guard.CheckAllowed(ctx, attacker))
}

func TestUnblockUnknownAddress(t *testing.T) {
	now := time.Now()
	guard, _ := newGuard(&now)

	_, err := guard.Unblock(context.Background(), "198.51.100.99", "admin")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAdminTemporaryBlock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, _ := newGuard(&now)
	ctx := context.Background()

	record, err := guard.Block(ctx, attacker, ipguard.BlockInput{Reason: "scan", Duration: time.Hour, Actor: "admin"})
	require.NoError(t, err)
	assert.Equal(t, ipguard.BlockTemporary, record.BlockType)

	blocked, err := guard.ListBlocked(ctx)
	require.NoError(t, err)
	assert.Len(t, blocked, 1)

	now = now.Add(2 * time.Hour)
	blocked, err = guard.ListBlocked(ctx)
	require.NoError(t, err)
	assert.Empty(t, blocked)
}

func TestReputation(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, _ := newGuard(&now)
	ctx := context.Background()

	clean, err := guard.Reputation(ctx, "192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, ipguard.Reputation{}, clean)

	for i := 0; i < 4; i++ {
		_, err := guard.RecordFailure(ctx, attacker)
		require.NoError(t, err)
	}
	reputation, err := guard.Reputation(ctx, attacker)
	require.NoError(t, err)
	assert.Equal(t, 4, reputation.FailedAttempts)
	assert.False(t, reputation.Blocked)
}

func TestCheckAllowed_StorageFailureLetsThrough(t *testing.T) {
	now := time.Now()
	guard, store := newGuard(&now)
	store.findErr = errors.New("connection reset")

	assert.NoError(t, guard.CheckAllowed(context.Background(), attacker))
}

func TestConcurrentFailuresAreCounted(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	guard, store := newGuard(&now)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = guard.RecordFailure(ctx, "192.0.2.50")
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, store.records["192.0.2.50"].FailedAttempts)
}
