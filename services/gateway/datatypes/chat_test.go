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
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ChatRequest Validation Tests
// =============================================================================

func TestChatRequestValidate_MessageBounds(t *testing.T) {
	tests := []struct {
		name    string
		message string
		valid   bool
	}{
		{"empty", "", false},
		{"whitespace only", "   \n\t ", false},
		{"single rune", "a", true},
		{"exactly 4000 runes", strings.Repeat("x", 4000), true},
		{"4001 runes", strings.Repeat("x", 4001), false},
		{"4000 multibyte runes", strings.Repeat("é", 4000), true},
		{"padding does not count", " " + strings.Repeat("x", 4000) + " ", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ChatRequest{Message: tt.message}
			verr := req.Validate()
			if tt.valid {
				assert.Nil(t, verr)
			} else {
				require.NotNil(t, verr)
				assert.Equal(t, KindValidation, verr.Kind)
				require.NotEmpty(t, verr.Details)
				assert.Equal(t, "message", verr.Details[0].Field)
			}
		})
	}
}

func TestChatRequestValidate_ConversationID(t *testing.T) {
	good := ChatRequest{Message: "hello", ConversationID: uuid.New().String()}
	assert.Nil(t, good.Validate())

	bad := ChatRequest{Message: "hello", ConversationID: "not-a-uuid"}
	verr := bad.Validate()
	require.NotNil(t, verr)
	assert.Equal(t, "conversationId", verr.Details[0].Field)

	// Absent id is fine.
	assert.Nil(t, (&ChatRequest{Message: "hello"}).Validate())
}

func TestChatRequestConversationUUID(t *testing.T) {
	id := uuid.New()
	req := ChatRequest{Message: "m", ConversationID: id.String()}
	got := req.ConversationUUID()
	require.NotNil(t, got)
	assert.Equal(t, id, *got)

	assert.Nil(t, (&ChatRequest{Message: "m"}).ConversationUUID())
}

// =============================================================================
// Money Conversion Tests
// =============================================================================

func TestCentsFromMillicents(t *testing.T) {
	tests := []struct {
		millicents int64
		cents      int64
	}{
		{0, 0},
		{-5, 0},
		{1, 1},      // fractions of a cent round up
		{999, 1},
		{1000, 1},
		{1001, 2},
		{61, 1},
		{250_000, 250},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.cents, CentsFromMillicents(tt.millicents),
			"millicents=%d", tt.millicents)
	}
}

// =============================================================================
// Error Taxonomy Tests
// =============================================================================

func TestErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{NewValidationError(), 400},
		{NewInvalidRequest(), 400},
		{NewInvalidCredentials(), 400},
		{NewAuthRequired(), 401},
		{NewInsufficientTier(TierPremium, TierFree), 403},
		{NewNotFound("thing"), 404},
		{NewRateLimited("slow down", 0), 429},
		{NewBudgetExceeded(time.Now().Add(time.Hour)), 503},
		{NewUpstreamUnavailable(nil), 500},
		{NewInternal(nil), 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), "kind=%s", tt.err.Kind)
	}
}

func TestErrorBody_NeverLeaksCause(t *testing.T) {
	e := NewInternal(assert.AnError)
	body := e.Body()
	assert.Equal(t, KindInternal, body.Error)
	assert.NotContains(t, body.Message, assert.AnError.Error())
}

func TestInvalidCredentials_Identical(t *testing.T) {
	// Unknown email and wrong password must be byte-identical on the wire.
	a, b := NewInvalidCredentials(), NewInvalidCredentials()
	assert.Equal(t, a.Body(), b.Body())
	assert.Equal(t, a.HTTPStatus(), b.HTTPStatus())
}
