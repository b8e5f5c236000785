// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package ipguard tracks failed authentication per source address and blocks
abusive addresses.

Blocks escalate: each automatic temporary block lasts twice as long as the
previous one, and after a configured number of blocks the address is blocked
permanently until an administrator lifts it.
*/
package ipguard

import (
	"context"
	"time"
)

// BlockType is the state of an address.
type BlockType string

const (
	BlockNone      BlockType = "none"
	BlockTemporary BlockType = "temporary"
	BlockPermanent BlockType = "permanent"
)

// Record is the reputation row of one address.
type Record struct {
	ID             string
	IP             string
	BlockType      BlockType
	Reason         string
	FailedAttempts int
	RecentFailures int
	BlockCount     int
	LastAttemptAt  *time.Time
	IsPermanent    bool
	ExpiresAt      *time.Time
	BlockedAt      *time.Time
	BlockedBy      *string
	UnblockedAt    *time.Time
	UnblockedBy    *string
}

// Blocked reports whether the address is refused at now.
func (record *Record) Blocked(now time.Time) bool {
	if record.IsPermanent {
		return true
	}
	return record.BlockType == BlockTemporary && record.ExpiresAt != nil && now.Before(*record.ExpiresAt)
}

// Reputation is the read-only view handed to the risk scorer.
type Reputation struct {
	FailedAttempts int
	RecentFailures int
	BlockCount     int
	Blocked        bool
}

// Policy configures automatic blocking.
type Policy struct {
	// TempThreshold is the number of recent failures that triggers a block.
	TempThreshold int
	// BaseBlock is the length of the first block; each later one doubles it.
	BaseBlock time.Duration
	// MaxBlock caps a temporary block.
	MaxBlock time.Duration
	// PermanentAfterBlocks turns the n-th block into a permanent one.
	PermanentAfterBlocks int
}

// DefaultPolicy blocks for 15 minutes after 10 failures and permanently on the third block.
var DefaultPolicy = Policy{
	TempThreshold:        10,
	BaseBlock:            15 * time.Minute,
	MaxBlock:             24 * time.Hour,
	PermanentAfterBlocks: 3,
}

// Store persists address records.
type Store interface {
	// Find returns apperr.NotFound for an address never seen.
	Find(ctx context.Context, ip string) (*Record, error)

	/*
		Update applies mutate to the record of ip under a row lock, creating an
		empty record first when none exists, and persists the result.

		Concurrent updates of one address are serialized, so counters never lose
		increments.
	*/
	Update(ctx context.Context, ip string, mutate func(record *Record)) (*Record, error)

	// ListBlocked returns addresses blocked at now.
	ListBlocked(ctx context.Context, now time.Time) ([]Record, error)
}
