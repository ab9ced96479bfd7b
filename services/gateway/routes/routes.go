// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/gatewatch/services/gateway/chat"
	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/handlers"
	"github.com/AleutianAI/gatewatch/services/gateway/middleware"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/session"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
)

// Deps is everything the router wires together.
type Deps struct {
	DB      *store.DB
	KV      *store.KV
	Manager *session.Manager
	Orch    *chat.Orchestrator
	Engine  *cost.Engine
	Metrics *observability.GatewayMetrics
	Table   datatypes.TierTable

	// Model is the upstream model the budget gate prices against.
	Model string

	// CORSOrigin, when set, is the single allowed browser origin.
	CORSOrigin string

	// IPPerMinute overrides the default per-IP rate when positive.
	IPPerMinute int

	// EnableMetrics exposes /metrics.
	EnableMetrics bool

	// Development loosens cookie security for local HTTP.
	Development bool
}

// SetupRoutes installs all endpoints. The chat route carries the full
// admission pipeline, strictly in this order:
//
//	IPLimit -> OptionalSession -> TierRequestQuota -> TierTokenBudget -> GlobalBudget
//
// Auth and conversation routes carry only the stages that make sense for
// them (IP limiting everywhere, session where identity is needed).
func SetupRoutes(router *gin.Engine, d Deps) {
	ipLimit := middleware.IPLimit(d.KV, d.IPPerMinute, d.Metrics)
	optSession := middleware.OptionalSession(d.Manager)
	reqSession := middleware.RequireSession(d.Metrics)

	router.Use(countRequests(d.Metrics))
	if d.CORSOrigin != "" {
		router.Use(corsSingleOrigin(d.CORSOrigin))
	}

	router.GET("/health", handlers.HandleHealth(d.DB, d.KV))
	if d.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	api := router.Group("/api", ipLimit, optSession)
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", handlers.HandleRegister(d.Manager, d.Development))
			auth.POST("/login", handlers.HandleLogin(d.Manager, d.Development))
			auth.POST("/logout", handlers.HandleLogout(d.Manager, d.Development))
			auth.GET("/me", reqSession, handlers.HandleMe(d.DB))
		}

		api.POST("/chat",
			middleware.TierRequestQuota(d.KV, d.Table, d.Metrics),
			middleware.TierTokenBudget(d.DB, d.KV, d.Table, d.Metrics),
			middleware.GlobalBudget(d.Engine, d.Table, d.Model, d.Metrics),
			handlers.HandleChat(d.Orch, d.Table),
		)
		api.GET("/chat/history", reqSession, handlers.HandleChatHistory(d.DB))
		api.GET("/chat/stats", reqSession, handlers.HandleChatStats(d.DB))

		conversations := api.Group("/conversations", reqSession)
		{
			conversations.GET("", handlers.HandleListConversations(d.DB))
			conversations.GET("/:id", handlers.HandleGetConversation(d.DB))
			conversations.PATCH("/:id", handlers.HandleUpdateConversation(d.DB))
			conversations.DELETE("/:id", handlers.HandleDeleteConversation(d.DB))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		handlers.RespondError(c, datatypes.NewNotFound("route"))
	})
}

// countRequests feeds the per-endpoint request counter once the response
// is written.
func countRequests(metrics *observability.GatewayMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		metrics.RecordRequest(endpointLabel(c.Request.URL.Path), c.Writer.Status())
	}
}

func endpointLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/chat"):
		return "chat"
	case strings.HasPrefix(path, "/api/auth"):
		return "auth"
	case strings.HasPrefix(path, "/api/conversations"):
		return "conversations"
	case path == "/health":
		return "health"
	default:
		return "other"
	}
}

// corsSingleOrigin allows exactly one browser origin with credentials.
func corsSingleOrigin(origin string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Origin") == origin {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
