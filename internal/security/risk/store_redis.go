// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package risk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taibuivan/agora/internal/platform/constants"
)

// signalRetention bounds how long an idle identity keeps its history.
const signalRetention = 90 * 24 * time.Hour

// RedisSignals implements [Signals] with one hash for the last sighting, one
// hash for the hour histogram and one counter for recent failures.
type RedisSignals struct {
	client *redis.Client
}

// NewRedisSignals creates a Redis-backed signal store.
func NewRedisSignals(client *redis.Client) *RedisSignals {
	return &RedisSignals{client: client}
}

// LastSuccess reads the last sighting hash.
func (store *RedisSignals) LastSuccess(ctx context.Context, userID string) (*Sighting, error) {
	fields, err := store.client.HGetAll(ctx, constants.RedisPrefixRiskLast+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis_risk_last_success_failed: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	at, err := strconv.ParseInt(fields["at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis_risk_last_success_corrupt: %w", err)
	}

	sighting := &Sighting{
		IP:      fields["ip"],
		Located: fields["located"] == "1",
		At:      time.Unix(at, 0).UTC(),
	}
	if sighting.Located {
		sighting.Location.Country = fields["country"]
		sighting.Location.City = fields["city"]
		sighting.Location.Latitude, _ = strconv.ParseFloat(fields["lat"], 64)
		sighting.Location.Longitude, _ = strconv.ParseFloat(fields["lon"], 64)
	}
	return sighting, nil
}

// HourHistogram reads the per-hour counters.
func (store *RedisSignals) HourHistogram(ctx context.Context, userID string) ([24]int, error) {
	var histogram [24]int

	fields, err := store.client.HGetAll(ctx, constants.RedisPrefixRiskHours+userID).Result()
	if err != nil {
		return histogram, fmt.Errorf("redis_risk_hours_failed: %w", err)
	}
	for field, value := range fields {
		hour, err := strconv.Atoi(field)
		if err != nil || hour < 0 || hour > 23 {
			continue
		}
		count, _ := strconv.Atoi(value)
		histogram[hour] = count
	}
	return histogram, nil
}

// RecentFailures reads the failure counter; a missing key means zero.
func (store *RedisSignals) RecentFailures(ctx context.Context, userID string) (int, error) {
	count, err := store.client.Get(ctx, constants.RedisPrefixRiskFails+userID).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis_risk_failures_failed: %w", err)
	}
	return count, nil
}

// RecordSuccess writes the three keys in one transaction.
func (store *RedisSignals) RecordSuccess(ctx context.Context, userID string, sighting Sighting) error {
	lastKey := constants.RedisPrefixRiskLast + userID
	hoursKey := constants.RedisPrefixRiskHours + userID

	located := "0"
	if sighting.Located {
		located = "1"
	}

	pipe := store.client.TxPipeline()
	pipe.Del(ctx, lastKey)
	pipe.HSet(ctx, lastKey,
		"ip", sighting.IP,
		"located", located,
		"country", sighting.Location.Country,
		"city", sighting.Location.City,
		"lat", strconv.FormatFloat(sighting.Location.Latitude, 'f', -1, 64),
		"lon", strconv.FormatFloat(sighting.Location.Longitude, 'f', -1, 64),
		"at", strconv.FormatInt(sighting.At.Unix(), 10),
	)
	pipe.Expire(ctx, lastKey, signalRetention)
	pipe.HIncrBy(ctx, hoursKey, strconv.Itoa(sighting.At.UTC().Hour()), 1)
	pipe.Expire(ctx, hoursKey, signalRetention)
	pipe.Del(ctx, constants.RedisPrefixRiskFails+userID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis_risk_record_success_failed: %w", err)
	}
	return nil
}

// RecordFailure increments the counter; the window starts at the first failure.
func (store *RedisSignals) RecordFailure(ctx context.Context, userID string, window time.Duration) error {
	key := constants.RedisPrefixRiskFails + userID

	pipe := store.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis_risk_record_failure_failed: %w", err)
	}
	return nil
}
