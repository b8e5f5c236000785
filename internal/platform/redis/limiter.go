// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package redis

import (
	stdctx "context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LimitResult describes a single fixed-window decision.
type LimitResult struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// WindowLimiter is a fixed-window counter (INCR + EXPIRE) shared by all
// replicas through Redis.
type WindowLimiter struct {
	client *redis.Client
	prefix string
	max    int64
	window time.Duration
}

// NewWindowLimiter creates a limiter allowing max hits per window per key.
func NewWindowLimiter(client *redis.Client, prefix string, max int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		client: client,
		prefix: prefix,
		max:    int64(max),
		window: window,
	}
}

// Allow registers one hit for key and reports whether it fits in the window.
func (limiter *WindowLimiter) Allow(context stdctx.Context, key string) (LimitResult, error) {
	windowStart := time.Now().UTC().Truncate(limiter.window)
	redisKey := fmt.Sprintf("%s%s:%d", limiter.prefix, strings.ReplaceAll(key, " ", "_"), windowStart.Unix())

	pipe := limiter.client.TxPipeline()
	incr := pipe.Incr(context, redisKey)
	pipe.ExpireNX(context, redisKey, limiter.window)
	ttl := pipe.TTL(context, redisKey)
	if _, err := pipe.Exec(context); err != nil {
		return LimitResult{}, fmt.Errorf("redis_limiter_allow_failed: %w", err)
	}

	hits := incr.Val()
	result := LimitResult{
		Allowed:   hits <= limiter.max,
		Remaining: max(limiter.max-hits, 0),
	}

	if !result.Allowed {
		result.RetryAfter = ttl.Val()
		if result.RetryAfter <= 0 {
			result.RetryAfter = limiter.window
		}
	}

	return result, nil
}
