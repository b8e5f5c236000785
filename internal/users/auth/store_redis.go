// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/agora/internal/platform/apperr"
)

// # Token Repository

// RedisTokenStore implements [TokenStore] under one key prefix.
type RedisTokenStore struct {
	client   *redis.Client
	prefix   string
	resource string
}

// NewRedisTokenStore creates a token store. resource names the token in NotFound errors.
func NewRedisTokenStore(client *redis.Client, prefix, resource string) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: prefix, resource: resource}
}

/*
Put stores a token with its associated value and TTL.

Parameters:
  - ctx: context.Context
  - token: string
  - value: string
  - ttl: time.Duration

Returns:
  - error: Execution errors
*/
func (store *RedisTokenStore) Put(ctx context.Context, token, value string, ttl time.Duration) error {

	// Set the token with TTL
	if err := store.client.Set(ctx, store.prefix+token, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis_token_set_failed: %w", err)
	}

	return nil
}

/*
Take retrieves and deletes the value for a given token.

Description: GETDEL makes the read and the delete one step, so a token can be
redeemed once. Returns apperr.NotFound if the token is absent or expired.

Parameters:
  - ctx: context.Context
  - token: string

Returns:
  - string: Stored value
  - error: apperr.NotFound or connectivity errors
*/
func (store *RedisTokenStore) Take(ctx context.Context, token string) (string, error) {
	value, err := store.client.GetDel(ctx, store.prefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.NotFound(store.resource)
		}
		return "", fmt.Errorf("redis_token_take_failed: %w", err)
	}
	return value, nil
}

// # Challenge Repository

const (
	challengeFieldPayload  = "payload"
	challengeFieldAttempts = "attempts"
)

// countAttempt refuses to resurrect an expired hash, which HINCRBY alone would
// recreate without a TTL.
var countAttempt = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -1
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
`)

// RedisChallengeStore implements [ChallengeStore] with one hash per challenge.
type RedisChallengeStore struct {
	client *redis.Client
	prefix string
}

// NewRedisChallengeStore creates a challenge store under prefix.
func NewRedisChallengeStore(client *redis.Client, prefix string) *RedisChallengeStore {
	return &RedisChallengeStore{client: client, prefix: prefix}
}

// Put stores the challenge and its counter in one transaction.
func (store *RedisChallengeStore) Put(ctx context.Context, token string, pending *PendingChallenge, ttl time.Duration) error {
	payload, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("redis_challenge_encode_failed: %w", err)
	}

	key := store.prefix + token
	pipe := store.client.TxPipeline()
	pipe.HSet(ctx, key, challengeFieldPayload, payload, challengeFieldAttempts, 0)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis_challenge_put_failed: %w", err)
	}
	return nil
}

// Get decodes a pending challenge.
func (store *RedisChallengeStore) Get(ctx context.Context, token string) (*PendingChallenge, error) {
	payload, err := store.client.HGet(ctx, store.prefix+token, challengeFieldPayload).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperr.NotFound("Challenge")
		}
		return nil, fmt.Errorf("redis_challenge_get_failed: %w", err)
	}

	pending := &PendingChallenge{}
	if err := json.Unmarshal(payload, pending); err != nil {
		return nil, fmt.Errorf("redis_challenge_decode_failed: %w", err)
	}
	return pending, nil
}

// CountAttempt increments the attempt counter of a live challenge.
func (store *RedisChallengeStore) CountAttempt(ctx context.Context, token string) (int, error) {
	attempts, err := countAttempt.Run(ctx, store.client, []string{store.prefix + token}, challengeFieldAttempts).Int()
	if err != nil {
		return 0, fmt.Errorf("redis_challenge_attempt_failed: %w", err)
	}
	if attempts < 0 {
		return 0, apperr.NotFound("Challenge")
	}
	return attempts, nil
}

// Consume deletes the challenge.
func (store *RedisChallengeStore) Consume(ctx context.Context, token string) (bool, error) {
	removed, err := store.client.Del(ctx, store.prefix+token).Result()
	if err != nil {
		return false, fmt.Errorf("redis_challenge_consume_failed: %w", err)
	}
	return removed == 1, nil
}
