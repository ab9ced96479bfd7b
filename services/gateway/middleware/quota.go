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
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
)

// quotaKey derives the day-counter key for the request: anonymous counts
// per IP, authenticated per user and tier so a tier change starts a fresh
// bucket.
func quotaKey(c *gin.Context) string {
	p := GetPrincipal(c)
	if p == nil {
		return store.KeyAnonQuota + c.ClientIP()
	}
	return fmt.Sprintf("%s%s:%s", store.KeyTierPrefix, p.Tier, p.UserID)
}

// TierRequestQuota enforces the per-tier requests-per-day cap. Counters
// live in the KV store with a TTL to the next UTC midnight; when the store
// is down the stage fails open and lets the token budget and global gate
// hold the line.
func TierRequestQuota(kv Counter, table datatypes.TierTable, metrics *observability.GatewayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		limits := table.For(TierOf(c))
		limit := int64(limits.RequestsPerDay)
		key := quotaKey(c)

		n, err := kv.IncrWithTTL(c.Request.Context(), key, time.Until(cost.NextReset()))
		if err != nil {
			slog.Warn("request quota KV unavailable, failing open", "error", err)
			c.Next()
			return
		}

		remaining := limit - n
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", cost.NextReset().Format(time.RFC3339))

		if n > limit {
			metrics.Rejected("request_quota")
			abortError(c, datatypes.NewRateLimited(
				fmt.Sprintf("Daily request limit of %d reached for the %s tier", limit, TierOf(c)),
				time.Until(cost.NextReset()),
			))
			return
		}
		c.Next()
	}
}
