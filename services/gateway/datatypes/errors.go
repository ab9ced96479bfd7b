// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides shared data structures for the gateway service:
// the error taxonomy, tier limits, and request/response types for every
// endpoint. Components raise these typed failures; only the HTTP layer maps
// them to status codes and bodies.
package datatypes

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Error Taxonomy
// =============================================================================

// ErrorKind tags a failure with its taxonomy class. The HTTP layer owns the
// mapping from kind to status code; nothing else may format HTTP errors.
type ErrorKind string

const (
	// KindValidation is a schema/shape failure, always with per-field details.
	KindValidation ErrorKind = "validation_error"

	// KindInvalidRequest is an injection/jailbreak classification. The
	// user-facing message stays generic; the matched family is server-side.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindAuthRequired means no live session was presented.
	KindAuthRequired ErrorKind = "authentication_required"

	// KindInvalidCredentials covers both unknown email and bad password.
	KindInvalidCredentials ErrorKind = "invalid_credentials"

	// KindInsufficientTier means the principal's tier is below the route's
	// minimum.
	KindInsufficientTier ErrorKind = "insufficient_tier"

	// KindRateLimited covers IP, per-day request, and token-budget limits.
	KindRateLimited ErrorKind = "rate_limited"

	// KindBudgetExceeded is the process-wide daily budget circuit break.
	KindBudgetExceeded ErrorKind = "budget_exceeded"

	// KindUpstreamUnavailable is an exhausted-retries upstream failure.
	KindUpstreamUnavailable ErrorKind = "upstream_unavailable"

	// KindNotFound covers unknown routes and unowned resources alike.
	KindNotFound ErrorKind = "not_found"

	// KindInternal is anything that escaped the taxonomy.
	KindInternal ErrorKind = "internal_error"
)

// FieldError is one entry of a validation failure's detail list.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the typed failure passed between components. It carries the
// taxonomy kind plus whatever structured context the HTTP layer needs to
// build the response (retry hints, tier info, field details).
type Error struct {
	Kind    ErrorKind
	Message string
	Details []FieldError

	// RetryAfter is set for rate-limit failures.
	RetryAfter time.Duration

	// RequiredTier/CurrentTier are set for tier failures.
	RequiredTier Tier
	CurrentTier  Tier

	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is match on kind via sentinel instances.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// =============================================================================
// Constructors
// =============================================================================

// NewValidationError builds a 400-class failure with per-field details.
func NewValidationError(details ...FieldError) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: "request validation failed",
		Details: details,
	}
}

// NewInvalidRequest is the generic injection-reject failure. The reason is
// recorded server-side only; never put the matched pattern here.
func NewInvalidRequest() *Error {
	return &Error{
		Kind:    KindInvalidRequest,
		Message: "Your request could not be processed.",
	}
}

// NewAuthRequired signals a missing or dead session.
func NewAuthRequired() *Error {
	return &Error{Kind: KindAuthRequired, Message: "authentication required"}
}

// NewInvalidCredentials is deliberately identical for unknown-email and
// wrong-password so login cannot be used as an enumeration oracle.
func NewInvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
}

// NewInsufficientTier reports the tier gap for a 403.
func NewInsufficientTier(required, current Tier) *Error {
	return &Error{
		Kind:         KindInsufficientTier,
		Message:      fmt.Sprintf("this feature requires the %s tier", required),
		RequiredTier: required,
		CurrentTier:  current,
	}
}

// NewRateLimited builds a 429 failure with a retry hint.
func NewRateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// NewBudgetExceeded is the global budget circuit break. resetAt is the next
// UTC midnight; it feeds both the message and the Retry-After header.
func NewBudgetExceeded(resetAt time.Time) *Error {
	return &Error{
		Kind:       KindBudgetExceeded,
		Message:    fmt.Sprintf("daily budget exhausted, service resumes at %s", resetAt.UTC().Format(time.RFC3339)),
		RetryAfter: time.Until(resetAt),
	}
}

// NewUpstreamUnavailable wraps an exhausted-retries upstream failure with a
// generic user-facing message.
func NewUpstreamUnavailable(err error) *Error {
	return &Error{
		Kind:    KindUpstreamUnavailable,
		Message: "the assistant is temporarily unavailable, please try again",
		err:     err,
	}
}

// NewNotFound covers unknown routes and resources the caller does not own.
func NewNotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", what)}
}

// NewInternal wraps an untyped failure.
func NewInternal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", err: err}
}

// HTTPStatus maps the taxonomy kind to its status code. This is the only
// kind-to-status mapping in the service.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindInvalidRequest, KindInvalidCredentials:
		return 400
	case KindAuthRequired:
		return 401
	case KindInsufficientTier:
		return 403
	case KindNotFound:
		return 404
	case KindRateLimited:
		return 429
	case KindBudgetExceeded:
		return 503
	case KindUpstreamUnavailable, KindInternal:
		return 500
	default:
		return 500
	}
}

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Error   ErrorKind    `json:"error"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

// Body builds the wire shape. Internal causes never leak into it.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Error: e.Kind, Message: e.Message, Details: e.Details}
}

// KindOf extracts the taxonomy kind from any error chain, defaulting to
// KindInternal for untyped failures.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError returns the typed failure in the chain, or wraps err as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewInternal(err)
}
