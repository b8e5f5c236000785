// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/constants"
)

// RedisPendingStore implements [PendingStore] using Redis.
type RedisPendingStore struct {
	client *redis.Client
}

// NewRedisPendingStore creates a new Redis-backed pending TOTP store.
func NewRedisPendingStore(client *redis.Client) *RedisPendingStore {
	return &RedisPendingStore{client: client}
}

// PutEnrollment stores the unconfirmed secret with a TTL.
func (store *RedisPendingStore) PutEnrollment(ctx context.Context, userID, secret string, ttl time.Duration) error {
	if err := store.client.Set(ctx, constants.RedisPrefixTOTPPending+userID, secret, ttl).Err(); err != nil {
		return fmt.Errorf("redis_totp_pending_set_failed: %w", err)
	}
	return nil
}

// GetEnrollment returns apperr.NotFound once the enrollment has expired.
func (store *RedisPendingStore) GetEnrollment(ctx context.Context, userID string) (string, error) {
	secret, err := store.client.Get(ctx, constants.RedisPrefixTOTPPending+userID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.NotFound("Authenticator enrollment")
		}
		return "", fmt.Errorf("redis_totp_pending_get_failed: %w", err)
	}
	return secret, nil
}

// DeleteEnrollment removes the pending secret.
func (store *RedisPendingStore) DeleteEnrollment(ctx context.Context, userID string) error {
	if err := store.client.Del(ctx, constants.RedisPrefixTOTPPending+userID).Err(); err != nil {
		return fmt.Errorf("redis_totp_pending_delete_failed: %w", err)
	}
	return nil
}

// MarkTOTPUsed uses SET NX so exactly one caller wins per code.
func (store *RedisPendingStore) MarkTOTPUsed(ctx context.Context, userID, code string, ttl time.Duration) (bool, error) {
	first, err := store.client.SetNX(ctx, constants.RedisPrefixTOTPUsed+userID+":"+code, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis_totp_used_set_failed: %w", err)
	}
	return first, nil
}

// CountAnswer uses INCR with EXPIRE NX, so the window is fixed at the first answer.
func (store *RedisPendingStore) CountAnswer(ctx context.Context, userID string, window time.Duration) (int, error) {
	key := constants.RedisPrefixFactorAnswers + userID

	var incr *redis.IntCmd
	_, err := store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis_factor_answer_count_failed: %w", err)
	}
	return int(incr.Val()), nil
}

// ResetAnswers clears the answer counter after a successful answer.
func (store *RedisPendingStore) ResetAnswers(ctx context.Context, userID string) error {
	if err := store.client.Del(ctx, constants.RedisPrefixFactorAnswers+userID).Err(); err != nil {
		return fmt.Errorf("redis_factor_answer_reset_failed: %w", err)
	}
	return nil
}
