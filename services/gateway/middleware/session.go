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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/session"
)

// Resolver maps a raw session token to a Principal.
type Resolver interface {
	Resolve(ctx context.Context, token string) (*datatypes.Principal, error)
}

// OptionalSession resolves a session when one is presented and leaves the
// request anonymous otherwise. Resolution failures degrade to anonymous
// rather than failing the request: a flaky session store must not take the
// anonymous tier down with it.
func OptionalSession(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := session.TokenFromRequest(c)
		if token == "" {
			SetPrincipal(c, nil)
			c.Next()
			return
		}
		SetSessionToken(c, token)

		p, err := resolver.Resolve(c.Request.Context(), token)
		if err != nil {
			slog.Warn("session resolution failed, continuing anonymous", "error", err)
			SetPrincipal(c, nil)
			c.Next()
			return
		}
		SetPrincipal(c, p)
		c.Next()
	}
}

// RequireSession rejects anonymous requests. Must run after OptionalSession.
func RequireSession(metrics *observability.GatewayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if GetPrincipal(c) == nil {
			metrics.Rejected("session")
			abortError(c, datatypes.NewAuthRequired())
			return
		}
		c.Next()
	}
}

// RequireTier rejects principals below the route's minimum tier. Anonymous
// requests get the auth error, not the tier error.
func RequireTier(min datatypes.Tier, metrics *observability.GatewayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil {
			metrics.Rejected("session")
			abortError(c, datatypes.NewAuthRequired())
			return
		}
		if !p.Tier.AtLeast(min) {
			metrics.Rejected("session")
			abortError(c, datatypes.NewInsufficientTier(min, p.Tier))
			return
		}
		c.Next()
	}
}
