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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
)

// UsageReader is the slice of the row store the token budget reads.
type UsageReader interface {
	UsageToday(ctx context.Context, userID uuid.UUID, day time.Time) (*datatypes.UserDayUsage, error)
}

// TokenCounter is the KV slice backing anonymous token accounting.
type TokenCounter interface {
	IncrByWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

// TierTokenBudget enforces the per-tier tokens-per-day cap against the
// worst case for this turn: estimated input plus the tier's full output
// allowance. Authenticated usage comes from the day ledger of reconciled
// turns; anonymous usage is estimate-at-admission in the KV store, since
// anonymous callers have no ledger row.
func TierTokenBudget(usage UsageReader, kv TokenCounter, table datatypes.TierTable, metrics *observability.GatewayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		limits := table.For(TierOf(c))
		estimate := int64(cost.EstimateInputTokens(len(peekMessage(c))) + limits.MaxOutputTokens)

		used, ok := tokensUsedToday(c, usage, kv, estimate)
		if !ok {
			c.Next()
			return
		}

		remaining := limits.TokensPerDay - used
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-Tokens-Limit", strconv.FormatInt(limits.TokensPerDay, 10))
		c.Header("X-Tokens-Used", strconv.FormatInt(used, 10))
		c.Header("X-Tokens-Remaining", strconv.FormatInt(remaining, 10))

		if used+estimate > limits.TokensPerDay {
			metrics.Rejected("token_budget")
			abortError(c, datatypes.NewRateLimited(
				"Daily token budget exhausted for your tier",
				time.Until(cost.NextReset()),
			))
			return
		}
		c.Next()
	}
}

// tokensUsedToday returns the caller's booked usage for today. The boolean
// is false when the backing store is unavailable; the stage fails open
// then, leaving the global gate as the backstop.
func tokensUsedToday(c *gin.Context, usage UsageReader, kv TokenCounter, estimate int64) (int64, bool) {
	ctx := c.Request.Context()
	if p := GetPrincipal(c); p != nil {
		u, err := usage.UsageToday(ctx, p.UserID, cost.Today())
		if err != nil {
			slog.Warn("token budget ledger read failed, failing open", "error", err)
			return 0, false
		}
		return u.TotalTokensUsed, true
	}

	key := store.KeyAnonTokens + c.ClientIP()
	total, err := kv.IncrByWithTTL(ctx, key, estimate, time.Until(cost.NextReset()))
	if err != nil {
		slog.Warn("anonymous token counter unavailable, failing open", "error", err)
		return 0, false
	}
	// The increment already includes this turn's estimate.
	return total - estimate, true
}
