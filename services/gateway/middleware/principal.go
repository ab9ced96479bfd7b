// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware implements the gateway's admission pipeline as Gin
// middleware. Order matters and is fixed in the router:
//
//	Request
//	   │
//	   ▼
//	IPLimit            per-IP per-minute counter, cheapest check first
//	   │
//	   ▼
//	Session            cookie/bearer token -> Principal (or anonymous)
//	   │
//	   ▼
//	TierRequestQuota   per-tier requests/day counter
//	   │
//	   ▼
//	TierTokenBudget    per-tier tokens/day against the estimated turn
//	   │
//	   ▼
//	GlobalBudget       process-wide dollar ceiling for the UTC day
//	   │
//	   ▼
//	Handler            schema validation, injection screen, the turn itself
//
// Each stage rejects with the cheapest possible work; nothing past the
// session stage runs for a request the IP limiter already stopped.
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

// =============================================================================
// Context Keys
// =============================================================================

// principalKey is the context key for the resolved Principal.
// Using a typed key prevents collisions with other context values.
const principalKey = "gatewatch_principal"

// sessionTokenKey carries the raw session token for logout.
const sessionTokenKey = "gatewatch_session_token"

// =============================================================================
// Context Helpers
// =============================================================================

// SetPrincipal stores the resolved identity in the Gin context. A nil
// principal is valid and means anonymous.
func SetPrincipal(c *gin.Context, p *datatypes.Principal) {
	c.Set(principalKey, p)
}

// GetPrincipal retrieves the resolved identity. Returns nil for anonymous
// requests and for requests that never passed the session stage.
func GetPrincipal(c *gin.Context) *datatypes.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*datatypes.Principal)
	return p
}

// SetSessionToken stashes the raw token so logout can destroy the session.
func SetSessionToken(c *gin.Context, token string) {
	c.Set(sessionTokenKey, token)
}

// GetSessionToken retrieves the raw session token, empty when absent.
func GetSessionToken(c *gin.Context) string {
	v, ok := c.Get(sessionTokenKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// TierOf returns the request's effective tier, anonymous when no session
// resolved.
func TierOf(c *gin.Context) datatypes.Tier {
	if p := GetPrincipal(c); p != nil {
		return p.Tier
	}
	return datatypes.TierAnonymous
}
