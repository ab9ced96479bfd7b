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
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
)

// GlobalBudget is the last admission stage: the process-wide daily dollar
// ceiling. Unlike the per-tier stages this one fails closed; if we cannot
// prove the day's spend leaves room for this turn, no money moves.
func GlobalBudget(engine *cost.Engine, table datatypes.TierTable, model string, metrics *observability.GatewayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		limits := table.For(TierOf(c))

		estimate, err := engine.Estimate(len(peekMessage(c)), limits.MaxOutputTokens, model)
		if err != nil {
			slog.Error("budget gate estimate failed", "model", model, "error", err)
			abortError(c, datatypes.NewInternal(err))
			return
		}

		ok, err := engine.CanAfford(c.Request.Context(), estimate)
		if err != nil {
			slog.Error("budget gate spend read failed, failing closed", "error", err)
			metrics.Rejected("global_budget")
			abortError(c, datatypes.NewBudgetExceeded(cost.NextReset()))
			return
		}
		if !ok {
			metrics.Rejected("global_budget")
			abortError(c, datatypes.NewBudgetExceeded(cost.NextReset()))
			return
		}
		c.Next()
	}
}
