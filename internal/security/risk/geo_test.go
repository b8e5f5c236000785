// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package risk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/taibuivan/agora/internal/security/risk"
)

type countingResolver struct {
	calls    atomic.Int32
	delay    time.Duration
	location risk.Location
	err      error
}

func (r *countingResolver) Resolve(net.IP) (risk.Location, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	return r.location, r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCachedLocator_CachesResults(t *testing.T) {
	resolver := &countingResolver{location: paris}
	locator := risk.NewCachedLocator(resolver, time.Hour, time.Second, quietLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		location, ok := locator.Locate(ctx, parisIP)
		assert.True(t, ok)
		assert.Equal(t, paris, location)
	}
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestCachedLocator_PrivateAddressesAreUnknown(t *testing.T) {
	resolver := &countingResolver{location: paris}
	locator := risk.NewCachedLocator(resolver, time.Hour, time.Second, quietLogger())

	for _, ip := range []string{"10.0.0.1", "192.168.1.10", "127.0.0.1", "not-an-ip", ""} {
		_, ok := locator.Locate(context.Background(), ip)
		assert.False(t, ok, ip)
	}
	assert.Zero(t, resolver.calls.Load())
}

func TestCachedLocator_TimeoutIsNeutral(t *testing.T) {
	resolver := &countingResolver{location: paris, delay: 200 * time.Millisecond}
	locator := risk.NewCachedLocator(resolver, time.Hour, 10*time.Millisecond, quietLogger())

	started := time.Now()
	_, ok := locator.Locate(context.Background(), parisIP)
	assert.False(t, ok)
	assert.Less(t, time.Since(started), 150*time.Millisecond)

	assert.Eventually(t, func() bool {
		_, ok := locator.Locate(context.Background(), parisIP)
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCachedLocator_UnknownIsCached(t *testing.T) {
	resolver := &countingResolver{err: risk.ErrUnknownLocation}
	locator := risk.NewCachedLocator(resolver, time.Hour, time.Second, quietLogger())

	for i := 0; i < 2; i++ {
		_, ok := locator.Locate(context.Background(), newYorkIP)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(1), resolver.calls.Load())
}

func TestCachedLocator_ErrorsAreNotCached(t *testing.T) {
	resolver := &countingResolver{err: errors.New("corrupt database")}
	locator := risk.NewCachedLocator(resolver, time.Hour, time.Second, quietLogger())

	for i := 0; i < 2; i++ {
		_, ok := locator.Locate(context.Background(), newYorkIP)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), resolver.calls.Load())
}
