// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains request and response types for the chat endpoint.
// For auth types see auth.go; for thread types see conversation.go.
package datatypes

import (
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Message Bounds
// =============================================================================

const (
	// MinMessageRunes is the minimum chat message length after trimming.
	MinMessageRunes = 1

	// MaxMessageRunes is the maximum chat message length after trimming.
	// Anything longer is rejected before any store or upstream work.
	MaxMessageRunes = 4000
)

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("msgrunes", validateMessageRunes)
}

// validateMessageRunes enforces the trimmed 1..4000 rune bound. Rune count,
// not bytes: the bound is a UX contract, not a memory guard.
func validateMessageRunes(fl validator.FieldLevel) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(fl.Field().String()))
	return n >= MinMessageRunes && n <= MaxMessageRunes
}

// =============================================================================
// Chat Request / Response
// =============================================================================

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message        string `json:"message" validate:"required,msgrunes"`
	ConversationID string `json:"conversationId,omitempty" validate:"omitempty,uuid4"`
}

// Validate checks the request shape and returns taxonomy field errors.
func (r *ChatRequest) Validate() *Error {
	if err := chatValidate.Struct(r); err != nil {
		details := make([]FieldError, 0, 2)
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				switch fe.Field() {
				case "Message":
					details = append(details, FieldError{
						Field:   "message",
						Message: "message must be between 1 and 4000 characters",
					})
				case "ConversationID":
					details = append(details, FieldError{
						Field:   "conversationId",
						Message: "conversationId must be a valid UUID",
					})
				}
			}
		}
		if len(details) == 0 {
			details = append(details, FieldError{Field: "body", Message: "invalid request body"})
		}
		return NewValidationError(details...)
	}
	return nil
}

// TrimmedMessage returns the message with surrounding whitespace removed.
func (r *ChatRequest) TrimmedMessage() string {
	return strings.TrimSpace(r.Message)
}

// ConversationUUID parses the optional thread id. Validation has already
// guaranteed the format when non-empty.
func (r *ChatRequest) ConversationUUID() *uuid.UUID {
	if r.ConversationID == "" {
		return nil
	}
	id, err := uuid.Parse(r.ConversationID)
	if err != nil {
		return nil
	}
	return &id
}

// ChatMetadata is the per-turn accounting block returned to the client.
// CostCents is rounded up from millicents so a billable call never shows 0.
type ChatMetadata struct {
	TokensUsed int    `json:"tokensUsed"`
	Model      string `json:"model"`
	CostCents  int64  `json:"costCents"`
}

// ChatResponse is the success body for POST /api/chat.
type ChatResponse struct {
	Response       string       `json:"response"`
	ConversationID string       `json:"conversationId,omitempty"`
	Metadata       ChatMetadata `json:"metadata"`
}

// CentsFromMillicents converts internal millicents (1/100,000 dollar) to
// whole cents, rounding up.
func CentsFromMillicents(mc int64) int64 {
	if mc <= 0 {
		return 0
	}
	return (mc + 999) / 1000
}

// =============================================================================
// Chat History / Stats
// =============================================================================

// TurnSummary is one entry of GET /api/chat/history. Message content is
// omitted; this endpoint returns metadata only.
type TurnSummary struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID *uuid.UUID `json:"conversationId,omitempty"`
	Success        bool       `json:"success"`
	TokensUsed     int        `json:"tokensUsed"`
	DurationMs     int64      `json:"durationMs"`
	CreatedAt      int64      `json:"createdAt"`
}

// SummarizeTurn projects a turn row into its history entry.
func SummarizeTurn(t Turn) TurnSummary {
	s := TurnSummary{
		ID:             t.ID,
		ConversationID: t.ConversationID,
		Success:        t.Success,
		DurationMs:     t.DurationMs,
		CreatedAt:      t.CreatedAt.Unix(),
	}
	if t.TokensUsed != nil {
		s.TokensUsed = *t.TokensUsed
	}
	return s
}

// ChatStats is the body of GET /api/chat/stats.
type ChatStats struct {
	TodayRequests int     `json:"todayRequests"`
	SuccessRate   float64 `json:"successRate"`
	Tier          Tier    `json:"tier"`
}
