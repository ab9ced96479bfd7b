// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/gatewatch/services/gateway/chat"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/middleware"
)

// TurnReader is the slice of the row store the history and stats endpoints
// read.
type TurnReader interface {
	ListRecentTurns(ctx context.Context, userID uuid.UUID, limit int) ([]datatypes.Turn, error)
	TurnStatsToday(ctx context.Context, userID uuid.UUID) (total int, succeeded int, err error)
}

// HandleChat is POST /api/chat, the endpoint every admission stage guards.
func HandleChat(orch *chat.Orchestrator, table datatypes.TierTable) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.BindJSON(&req); err != nil {
			RespondError(c, datatypes.NewValidationError(datatypes.FieldError{
				Field: "body", Message: "request body must be valid JSON",
			}))
			return
		}
		if verr := req.Validate(); verr != nil {
			RespondError(c, verr)
			return
		}

		p := middleware.GetPrincipal(c)
		result, err := orch.Turn(ctx, chat.TurnInput{
			Principal:       p,
			SessionID:       middleware.GetSessionToken(c),
			Message:         req.TrimmedMessage(),
			ConversationID:  req.ConversationUUID(),
			MaxOutputTokens: table.For(middleware.TierOf(c)).MaxOutputTokens,
		})
		if err != nil {
			e := datatypes.AsError(err)
			span.SetStatus(codes.Error, string(e.Kind))
			RespondError(c, err)
			return
		}

		resp := datatypes.ChatResponse{
			Response: result.Response,
			Metadata: datatypes.ChatMetadata{
				TokensUsed: result.TokensUsed,
				Model:      result.Model,
				CostCents:  datatypes.CentsFromMillicents(result.CostMillicents),
			},
		}
		if result.ConversationID != nil {
			resp.ConversationID = result.ConversationID.String()
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleChatHistory is GET /api/chat/history?limit=N, newest first.
func HandleChatHistory(turns TurnReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChatHistory")
		defer span.End()

		p := middleware.GetPrincipal(c)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

		rows, err := turns.ListRecentTurns(ctx, p.UserID, limit)
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}

		out := make([]datatypes.TurnSummary, 0, len(rows))
		for _, t := range rows {
			out = append(out, datatypes.SummarizeTurn(t))
		}
		c.JSON(http.StatusOK, gin.H{"turns": out})
	}
}

// HandleChatStats is GET /api/chat/stats: today's attempt count and success
// rate for the caller.
func HandleChatStats(turns TurnReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleChatStats")
		defer span.End()

		p := middleware.GetPrincipal(c)
		total, succeeded, err := turns.TurnStatsToday(ctx, p.UserID)
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}

		rate := 1.0
		if total > 0 {
			rate = float64(succeeded) / float64(total)
		}
		c.JSON(http.StatusOK, datatypes.ChatStats{
			TodayRequests: total,
			SuccessRate:   rate,
			Tier:          p.Tier,
		})
	}
}
