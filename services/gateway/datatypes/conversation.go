// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var convValidate = validator.New()

// =============================================================================
// Conversation Row
// =============================================================================

// Conversation mirrors the conversations row. ArchivedAt and DeletedAt are
// distinct lifecycles: an archived thread is hidden from the active list but
// retained as the source of a carry-over summary; a deleted thread is
// logically gone for its owner.
type Conversation struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	Title          *string
	TotalTokens    int64
	SummaryContext *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastMessageAt  time.Time
	DeletedAt      *time.Time
	ArchivedAt     *time.Time
}

// Saturated reports whether the thread hit the per-thread token cap and must
// go through the summarize-and-continue protocol before the next turn.
func (c *Conversation) Saturated(maxTokens int64) bool {
	return c.TotalTokens >= maxTokens
}

// =============================================================================
// Turn Row
// =============================================================================

// Turn mirrors one chat_turns row: a single (user message, assistant
// response) pair, or a failure attempt. Rows are immutable after insert.
type Turn struct {
	ID                   uuid.UUID
	UserID               *uuid.UUID
	SessionID            *string
	ConversationID       *uuid.UUID
	UserMessage          string
	AssistantResponse    *string
	MessageLength        int
	ResponseLength       *int
	InputTokens          *int
	OutputTokens         *int
	TokensUsed           *int
	ActualCostMillicents *int64
	ToolsUsed            []string
	Success              bool
	ErrorMessage         *string
	DurationMs           int64
	CreatedAt            time.Time
}

// =============================================================================
// Day Buckets
// =============================================================================

// UserDayUsage is the per-user-per-day token bucket, keyed (user_id, date).
type UserDayUsage struct {
	UserID          uuid.UUID
	Date            time.Time
	TotalTokensUsed int64
	RequestCount    int
}

// GlobalDayCost is the process-wide day bucket feeding the budget gate.
type GlobalDayCost struct {
	Date                time.Time
	TotalCostMillicents int64
	TotalRequests       int64
	TotalTokens         int64
	UniqueUsers         int64
}

// =============================================================================
// API Shapes
// =============================================================================

// ConversationSummary is one entry of GET /api/conversations.
type ConversationSummary struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	TotalTokens   int64     `json:"totalTokens"`
	MessageCount  int       `json:"messageCount"`
	LastPreview   string    `json:"lastMessagePreview"`
	LastMessageAt time.Time `json:"lastMessageAt"`
}

// TurnContent is one user/assistant pair inside a thread detail response.
type TurnContent struct {
	ID                uuid.UUID `json:"id"`
	UserMessage       string    `json:"userMessage"`
	AssistantResponse string    `json:"assistantResponse"`
	TokensUsed        int       `json:"tokensUsed"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ConversationDetail is the body of GET /api/conversations/:id.
type ConversationDetail struct {
	ID             uuid.UUID     `json:"id"`
	Title          string        `json:"title"`
	TotalTokens    int64         `json:"totalTokens"`
	SummaryContext string        `json:"summaryContext,omitempty"`
	Turns          []TurnContent `json:"turns"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastMessageAt  time.Time     `json:"lastMessageAt"`
}

// UpdateConversationRequest is the body of PATCH /api/conversations/:id.
type UpdateConversationRequest struct {
	Title string `json:"title" validate:"required,min=1,max=200"`
}

func (r *UpdateConversationRequest) Validate() *Error {
	if err := convValidate.Struct(r); err != nil {
		return NewValidationError(FieldError{
			Field:   "title",
			Message: "title must be between 1 and 200 characters",
		})
	}
	return nil
}
