// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package ipguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/metrics"
)

// Guard is the IP reputation service.
type Guard struct {
	store   Store
	policy  Policy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewGuard constructs an IP [Guard].
func NewGuard(store Store, policy Policy, recorder *metrics.Metrics, logger *slog.Logger) *Guard {
	return &Guard{store: store, policy: policy, metrics: recorder, logger: logger, now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (guard *Guard) WithClock(now func() time.Time) *Guard {
	guard.now = now
	return guard
}

/*
CheckAllowed refuses addresses that are permanently blocked or inside a
temporary block.

Description: A storage failure lets the request through and is logged. The
credential lockout still bounds guessing on every individual account.
*/
func (guard *Guard) CheckAllowed(ctx context.Context, ip string) error {
	if ip == "" {
		return nil
	}

	record, err := guard.store.Find(ctx, ip)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		guard.logger.Warn("ip_guard_check_degraded", slog.String("ip", ip), slog.Any("error", err))
		return nil
	}

	if record.Blocked(guard.now()) {
		return apperr.IPBlocked()
	}
	return nil
}

/*
RecordFailure counts one failed authentication from ip.

Description: When the failures since the last block reach the threshold a new
block starts. The n-th block lasts BaseBlock * 2^(n-1), capped at MaxBlock,
and the PermanentAfterBlocks-th one never expires.

Returns:
  - *Record: The record after the update
  - error: Storage failures
*/
func (guard *Guard) RecordFailure(ctx context.Context, ip string) (*Record, error) {
	if ip == "" {
		return nil, nil
	}
	now := guard.now()

	var applied BlockType
	record, err := guard.store.Update(ctx, ip, func(record *Record) {
		record.FailedAttempts++
		record.RecentFailures++
		record.LastAttemptAt = &now

		if record.Blocked(now) || record.RecentFailures < guard.policy.TempThreshold {
			return
		}

		record.RecentFailures = 0
		record.BlockCount++
		record.BlockedAt = &now
		record.BlockedBy = nil
		record.Reason = fmt.Sprintf("%d failed attempts", guard.policy.TempThreshold)

		if guard.policy.PermanentAfterBlocks > 0 && record.BlockCount >= guard.policy.PermanentAfterBlocks {
			record.BlockType = BlockPermanent
			record.IsPermanent = true
			record.ExpiresAt = nil
		} else {
			expiresAt := now.Add(guard.blockDuration(record.BlockCount))
			record.BlockType = BlockTemporary
			record.ExpiresAt = &expiresAt
		}
		applied = record.BlockType
	})
	if err != nil {
		return nil, fmt.Errorf("ip_guard_record_failure_failed: %w", err)
	}

	if applied != "" {
		guard.metrics.IPBlocked(string(applied))
		guard.logger.Warn("ip_blocked",
			slog.String("ip", ip),
			slog.String("type", string(applied)),
			slog.Int("block_count", record.BlockCount),
			slog.Any("expires_at", record.ExpiresAt),
		)
	}
	return record, nil
}

// blockDuration returns the length of the n-th automatic block.
func (guard *Guard) blockDuration(blockCount int) time.Duration {
	duration := guard.policy.BaseBlock
	for i := 1; i < blockCount; i++ {
		duration *= 2
		if duration >= guard.policy.MaxBlock {
			return guard.policy.MaxBlock
		}
	}
	return min(duration, guard.policy.MaxBlock)
}

// BlockInput describes an administrative block.
type BlockInput struct {
	Reason    string
	Permanent bool
	// Duration is used for temporary blocks; zero means the base block length.
	Duration time.Duration
	Actor    string
}

// Block blocks ip on behalf of an administrator.
func (guard *Guard) Block(ctx context.Context, ip string, input BlockInput) (*Record, error) {
	if ip == "" {
		return nil, apperr.ValidationError("IP address is required")
	}
	now := guard.now()

	record, err := guard.store.Update(ctx, ip, func(record *Record) {
		record.BlockCount++
		record.RecentFailures = 0
		record.Reason = input.Reason
		record.BlockedAt = &now
		record.BlockedBy = &input.Actor

		if input.Permanent {
			record.BlockType = BlockPermanent
			record.IsPermanent = true
			record.ExpiresAt = nil
			return
		}

		duration := input.Duration
		if duration <= 0 {
			duration = guard.policy.BaseBlock
		}
		expiresAt := now.Add(duration)
		record.BlockType = BlockTemporary
		record.IsPermanent = false
		record.ExpiresAt = &expiresAt
	})
	if err != nil {
		return nil, fmt.Errorf("ip_guard_block_failed: %w", err)
	}

	guard.metrics.IPBlocked(string(record.BlockType))
	guard.logger.Info("ip_blocked_by_admin",
		slog.String("ip", ip),
		slog.String("actor", input.Actor),
		slog.Bool("permanent", input.Permanent),
	)
	return record, nil
}

// Unblock lifts any block on ip. The lifetime failure counter is preserved.
func (guard *Guard) Unblock(ctx context.Context, ip, actor string) (*Record, error) {
	if _, err := guard.store.Find(ctx, ip); err != nil {
		return nil, fmt.Errorf("ip_guard_unblock_failed: %w", err)
	}
	now := guard.now()

	record, err := guard.store.Update(ctx, ip, func(record *Record) {
		record.BlockType = BlockNone
		record.IsPermanent = false
		record.ExpiresAt = nil
		record.RecentFailures = 0
		record.UnblockedAt = &now
		record.UnblockedBy = &actor
	})
	if err != nil {
		return nil, fmt.Errorf("ip_guard_unblock_failed: %w", err)
	}

	guard.logger.Info("ip_unblocked", slog.String("ip", ip), slog.String("actor", actor))
	return record, nil
}

// Reputation summarizes ip for the risk scorer. Unknown addresses are clean.
func (guard *Guard) Reputation(ctx context.Context, ip string) (Reputation, error) {
	record, err := guard.store.Find(ctx, ip)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Reputation{}, nil
		}
		return Reputation{}, fmt.Errorf("ip_guard_reputation_failed: %w", err)
	}

	return Reputation{
		FailedAttempts: record.FailedAttempts,
		RecentFailures: record.RecentFailures,
		BlockCount:     record.BlockCount,
		Blocked:        record.Blocked(guard.now()),
	}, nil
}

// Find returns the record of ip.
func (guard *Guard) Find(ctx context.Context, ip string) (*Record, error) {
	return guard.store.Find(ctx, ip)
}

// ListBlocked returns every address currently refused.
func (guard *Guard) ListBlocked(ctx context.Context) ([]Record, error) {
	records, err := guard.store.ListBlocked(ctx, guard.now())
	if err != nil {
		return nil, fmt.Errorf("ip_guard_list_blocked_failed: %w", err)
	}
	return records, nil
}
