// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
)

// Counter is the slice of the KV store admission counters use.
type Counter interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	SecondsToExpiry(ctx context.Context, key string) (int, error)
}

// ipWindow is the IP limiter's counting window.
const ipWindow = time.Minute

// localIPLimiters is the in-process fallback when the KV store is down:
// per-IP token buckets sized to the same per-minute rate. Degraded but not
// open; entries are dropped when the map grows past a bound.
type localIPLimiters struct {
	mu      sync.Mutex
	perMin  int
	buckets map[string]*rate.Limiter
}

const localIPLimitersMax = 10_000

func newLocalIPLimiters(perMin int) *localIPLimiters {
	return &localIPLimiters{perMin: perMin, buckets: make(map[string]*rate.Limiter)}
}

func (l *localIPLimiters) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.buckets[ip]
	if !ok {
		if len(l.buckets) >= localIPLimitersMax {
			l.buckets = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.buckets[ip] = lim
	}
	return lim.Allow()
}

// IPLimit enforces the per-IP per-minute cap. Runs first: it is the only
// stage that needs nothing but the remote address.
func IPLimit(kv Counter, perMinute int, metrics *observability.GatewayMetrics) gin.HandlerFunc {
	if perMinute <= 0 {
		perMinute = datatypes.DefaultTierTable().For(datatypes.TierAnonymous).IPPerMinute
	}
	local := newLocalIPLimiters(perMinute)

	return func(c *gin.Context) {
		ip := c.ClientIP()
		key := store.KeyIPMinute + ip

		n, err := kv.IncrWithTTL(c.Request.Context(), key, ipWindow)
		if err != nil {
			slog.Warn("IP limiter KV unavailable, using local fallback", "error", err)
			if !local.allow(ip) {
				metrics.Rejected("ip_limit")
				abortError(c, datatypes.NewRateLimited("too many requests, slow down", ipWindow))
				return
			}
			c.Next()
			return
		}

		if n > int64(perMinute) {
			retry := ipWindow
			if secs, terr := kv.SecondsToExpiry(c.Request.Context(), key); terr == nil && secs > 0 {
				retry = time.Duration(secs) * time.Second
			}
			metrics.Rejected("ip_limit")
			abortError(c, datatypes.NewRateLimited("too many requests, slow down", retry))
			return
		}
		c.Next()
	}
}
