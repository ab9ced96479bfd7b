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
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/middleware"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
)

// ConversationReader is the slice of the row store the thread endpoints use.
type ConversationReader interface {
	ListActiveConversations(ctx context.Context, userID uuid.UUID) ([]datatypes.ConversationSummary, error)
	GetConversation(ctx context.Context, id, userID uuid.UUID) (*datatypes.Conversation, error)
	LoadTurns(ctx context.Context, conversationID uuid.UUID) ([]datatypes.Turn, error)
	SetConversationTitle(ctx context.Context, id, userID uuid.UUID, title string) error
	SoftDeleteConversation(ctx context.Context, id, userID uuid.UUID) error
}

// pathConversationID parses the :id route parameter.
func pathConversationID(c *gin.Context) (uuid.UUID, *datatypes.Error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, datatypes.NewValidationError(datatypes.FieldError{
			Field: "id", Message: "conversation id must be a valid UUID",
		})
	}
	return id, nil
}

// HandleListConversations is GET /api/conversations.
func HandleListConversations(convs ConversationReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleListConversations")
		defer span.End()

		p := middleware.GetPrincipal(c)
		list, err := convs.ListActiveConversations(ctx, p.UserID)
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}
		if list == nil {
			list = []datatypes.ConversationSummary{}
		}
		c.JSON(http.StatusOK, gin.H{"conversations": list})
	}
}

// HandleGetConversation is GET /api/conversations/:id with the successful
// turns inlined.
func HandleGetConversation(convs ConversationReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleGetConversation")
		defer span.End()

		id, verr := pathConversationID(c)
		if verr != nil {
			RespondError(c, verr)
			return
		}

		p := middleware.GetPrincipal(c)
		conv, err := convs.GetConversation(ctx, id, p.UserID)
		if errors.Is(err, store.ErrNotFound) {
			RespondError(c, datatypes.NewNotFound("conversation"))
			return
		}
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}

		turns, err := convs.LoadTurns(ctx, conv.ID)
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}

		detail := datatypes.ConversationDetail{
			ID:            conv.ID,
			TotalTokens:   conv.TotalTokens,
			Turns:         []datatypes.TurnContent{},
			CreatedAt:     conv.CreatedAt,
			LastMessageAt: conv.LastMessageAt,
		}
		if conv.Title != nil {
			detail.Title = *conv.Title
		}
		if conv.SummaryContext != nil {
			detail.SummaryContext = *conv.SummaryContext
		}
		for _, t := range turns {
			if !t.Success || t.AssistantResponse == nil {
				continue
			}
			tc := datatypes.TurnContent{
				ID:                t.ID,
				UserMessage:       t.UserMessage,
				AssistantResponse: *t.AssistantResponse,
				CreatedAt:         t.CreatedAt,
			}
			if t.TokensUsed != nil {
				tc.TokensUsed = *t.TokensUsed
			}
			detail.Turns = append(detail.Turns, tc)
		}
		c.JSON(http.StatusOK, detail)
	}
}

// HandleUpdateConversation is PATCH /api/conversations/:id (rename).
func HandleUpdateConversation(convs ConversationReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleUpdateConversation")
		defer span.End()

		id, verr := pathConversationID(c)
		if verr != nil {
			RespondError(c, verr)
			return
		}

		var req datatypes.UpdateConversationRequest
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
		err := convs.SetConversationTitle(ctx, id, p.UserID, req.Title)
		if errors.Is(err, store.ErrNotFound) {
			RespondError(c, datatypes.NewNotFound("conversation"))
			return
		}
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// HandleDeleteConversation is DELETE /api/conversations/:id (soft delete).
func HandleDeleteConversation(convs ConversationReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleDeleteConversation")
		defer span.End()

		id, verr := pathConversationID(c)
		if verr != nil {
			RespondError(c, verr)
			return
		}

		p := middleware.GetPrincipal(c)
		err := convs.SoftDeleteConversation(ctx, id, p.UserID)
		if errors.Is(err, store.ErrNotFound) {
			RespondError(c, datatypes.NewNotFound("conversation"))
			return
		}
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}
		c.Status(http.StatusNoContent)
	}
}
