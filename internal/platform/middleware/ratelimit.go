// Copyright (c) 2026 Agora. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package middleware

import (
	"context"
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taibuivan/agora/internal/platform/apperr"
	"github.com/taibuivan/agora/internal/platform/respond"
)

// # Edge Throttling

type limitedClient struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

/*
IPLimiter is a token bucket per caller address.

Description: It is the coarse edge throttle in front of every route. The
per-identifier login limits live in the auth flow and are shared through
Redis; this one is process-local and only protects the instance itself.
*/
type IPLimiter struct {
	mu      sync.Mutex
	clients map[string]*limitedClient
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

// NewIPLimiter creates a limiter allowing rps requests per second per address.
func NewIPLimiter(rps float64, burst int, idleTTL time.Duration) *IPLimiter {
	return &IPLimiter{
		clients: make(map[string]*limitedClient),
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
	}
}

// WithClock replaces the time source (used by tests).
func (limiter *IPLimiter) WithClock(now func() time.Time) *IPLimiter {
	limiter.now = now
	return limiter
}

// Allow consumes one token for ip. When refused it returns how long the
// caller should wait before the next token is available.
func (limiter *IPLimiter) Allow(ip string) (bool, time.Duration) {
	now := limiter.now()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	client, found := limiter.clients[ip]
	if !found {
		client = &limitedClient{limiter: rate.NewLimiter(limiter.limit, limiter.burst)}
		limiter.clients[ip] = client
	}
	client.lastSeen = now

	reservation := client.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, time.Second
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Sweep drops addresses idle for longer than the configured TTL and
// returns how many were removed.
func (limiter *IPLimiter) Sweep() int {
	now := limiter.now()

	limiter.mu.Lock()
	defer limiter.mu.Unlock()

	removed := 0
	for ip, client := range limiter.clients {
		if now.Sub(client.lastSeen) > limiter.idleTTL {
			delete(limiter.clients, ip)
			removed++
		}
	}
	return removed
}

// Run sweeps idle entries every interval until ctx is cancelled.
func (limiter *IPLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			limiter.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Middleware rejects over-limit callers with 429 and a Retry-After header.
func (limiter *IPLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			allowed, wait := limiter.Allow(RealIP(request))
			if !allowed {
				seconds := int(math.Ceil(wait.Seconds()))
				if seconds < 1 {
					seconds = 1
				}
				respond.Error(writer, request, apperr.RateLimited(seconds))
				return
			}
			next.ServeHTTP(writer, request)
		})
	}
}
