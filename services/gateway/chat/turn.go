// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chat orchestrates one chat turn end to end: input hygiene,
// injection screening, thread resolution (including the saturation
// rollover), the upstream completion with bounded retries, cost
// reconciliation, and persistence. Admission control (rate limits, quotas,
// the global budget gate) happens upstream in middleware; by the time a
// request reaches this package it is already paid for in principle.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/guard"
	"github.com/AleutianAI/gatewatch/services/gateway/observability"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
	"github.com/AleutianAI/gatewatch/services/llm"
)

var chatTracer = otel.Tracer("gatewatch.gateway.chat")

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultTurnTimeout bounds the whole upstream exchange, retries included.
	DefaultTurnTimeout = 30 * time.Second

	// DefaultMaxRetries is the retry cap for transient upstream failures.
	DefaultMaxRetries = 2

	// DefaultConvMaxTokens is the per-thread token cap before the
	// summarize-and-continue rollover.
	DefaultConvMaxTokens = 150_000

	// defaultTemperature is the sampling temperature for normal turns.
	defaultTemperature = 0.7

	// retryBaseDelay seeds the exponential backoff between attempts.
	retryBaseDelay = 250 * time.Millisecond
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// ConversationStore is the slice of the row store the orchestrator needs.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID uuid.UUID, title, summaryContext *string) (*datatypes.Conversation, error)
	GetConversation(ctx context.Context, id, userID uuid.UUID) (*datatypes.Conversation, error)
	ArchiveConversation(ctx context.Context, id uuid.UUID) error
	LoadTurns(ctx context.Context, conversationID uuid.UUID) ([]datatypes.Turn, error)
	InsertTurn(ctx context.Context, t *datatypes.Turn) error
}

// UsageLedger books successful turns into the per-user day bucket.
type UsageLedger interface {
	AddUsage(ctx context.Context, userID uuid.UUID, day time.Time, tokens int64) error
}

// =============================================================================
// Orchestrator
// =============================================================================

// Config tunes the orchestrator.
type Config struct {
	// Model is the upstream model every turn uses.
	Model string

	// TurnTimeout bounds the upstream exchange. Zero means DefaultTurnTimeout.
	TurnTimeout time.Duration

	// MaxRetries caps transient-failure retries. Negative means zero.
	MaxRetries int

	// ConvMaxTokens is the saturation threshold. Zero means DefaultConvMaxTokens.
	ConvMaxTokens int64
}

// Orchestrator runs chat turns. Safe for concurrent use.
type Orchestrator struct {
	client  llm.CompletionClient
	convs   ConversationStore
	ledger  UsageLedger
	engine  *cost.Engine
	metrics *observability.GatewayMetrics
	cfg     Config
}

// NewOrchestrator builds an Orchestrator. metrics may be nil.
func NewOrchestrator(cfg Config, client llm.CompletionClient, convs ConversationStore, ledger UsageLedger, engine *cost.Engine, metrics *observability.GatewayMetrics) *Orchestrator {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.ConvMaxTokens <= 0 {
		cfg.ConvMaxTokens = DefaultConvMaxTokens
	}
	return &Orchestrator{
		client:  client,
		convs:   convs,
		ledger:  ledger,
		engine:  engine,
		metrics: metrics,
		cfg:     cfg,
	}
}

// TurnInput is one admitted chat request.
type TurnInput struct {
	// Principal is nil for anonymous callers.
	Principal *datatypes.Principal

	// SessionID tags the turn row for abuse correlation. May be empty.
	SessionID string

	// Message is the raw user message, validation already passed.
	Message string

	// ConversationID continues an existing thread when non-nil. Ignored for
	// anonymous callers, who get no thread.
	ConversationID *uuid.UUID

	// MaxOutputTokens is the tier's completion cap.
	MaxOutputTokens int
}

// TurnResult is a completed turn.
type TurnResult struct {
	Response       string
	ConversationID *uuid.UUID
	Model          string
	InputTokens    int
	OutputTokens   int
	TokensUsed     int
	CostMillicents int64
}

// =============================================================================
// Turn
// =============================================================================

// Turn runs one chat exchange. Every attempt that gets past the injection
// screen leaves a turn row, failures included; only successful turns cost
// money or tokens.
func (o *Orchestrator) Turn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	ctx, span := chatTracer.Start(ctx, "Orchestrator.Turn")
	defer span.End()

	started := time.Now()
	message := guard.SanitizeInput(in.Message)

	// The screen rejects before any model contact. The failed attempt is
	// still recorded so repeated probing is visible in the turn log.
	if verdict := guard.Screen(message); !verdict.OK {
		o.metrics.Rejected("injection_screen")
		o.recordFailure(ctx, in, message, nil, "blocked: "+verdict.Family, started)
		o.observeTurn("error", started)
		slog.Warn("injection screen rejection",
			"family", verdict.Family,
			"user_id", userIDString(in.Principal),
		)
		return nil, datatypes.NewInvalidRequest()
	}

	conv, history, err := o.resolveThread(ctx, in, message)
	if err != nil {
		o.observeTurn("error", started)
		return nil, err
	}
	var convID *uuid.UUID
	if conv != nil {
		convID = &conv.ID
	}

	var summaryContext *string
	if conv != nil {
		summaryContext = conv.SummaryContext
	}
	result, err := o.complete(ctx, llm.CompletionRequest{
		Model:       o.cfg.Model,
		Messages:    BuildMessages(summaryContext, history, message),
		MaxTokens:   in.MaxOutputTokens,
		Temperature: defaultTemperature,
	})
	if err != nil {
		o.recordFailure(ctx, in, message, convID, err.Error(), started)
		o.observeTurn("error", started)
		return nil, datatypes.NewUpstreamUnavailable(err)
	}

	response := guard.SanitizeOutput(result.Text)
	tokensUsed := result.TotalTokens()

	millicents, cerr := o.engine.Reconcile(result.InputTokens, result.OutputTokens, result.Model)
	if cerr != nil {
		// Upstream answered with a model we cannot price. Bill at the
		// requested model's rate rather than give the turn away.
		slog.Error("reconciliation fell back to requested model", "upstream_model", result.Model, "error", cerr)
		millicents, cerr = o.engine.Reconcile(result.InputTokens, result.OutputTokens, o.cfg.Model)
		if cerr != nil {
			o.recordFailure(ctx, in, message, convID, "unpriceable model: "+result.Model, started)
			o.observeTurn("error", started)
			return nil, datatypes.NewInternal(cerr)
		}
	}

	o.book(ctx, in.Principal, millicents, int64(tokensUsed))
	o.persistSuccess(ctx, in, message, convID, response, result, tokensUsed, millicents, started)

	o.metrics.RecordTurnTokens(result.Model, result.InputTokens, result.OutputTokens)
	o.metrics.RecordSpend(result.Model, millicents)
	o.observeTurn("success", started)

	return &TurnResult{
		Response:       response,
		ConversationID: convID,
		Model:          result.Model,
		InputTokens:    result.InputTokens,
		OutputTokens:   result.OutputTokens,
		TokensUsed:     tokensUsed,
		CostMillicents: millicents,
	}, nil
}

// resolveThread finds or creates the turn's conversation and loads its
// replayable history. Anonymous callers get no thread and no history.
func (o *Orchestrator) resolveThread(ctx context.Context, in TurnInput, message string) (*datatypes.Conversation, []datatypes.Turn, error) {
	if in.Principal == nil {
		return nil, nil, nil
	}

	if in.ConversationID == nil {
		title := store.AutoTitle(message)
		conv, err := o.convs.CreateConversation(ctx, in.Principal.UserID, &title, nil)
		if err != nil {
			return nil, nil, datatypes.NewInternal(err)
		}
		return conv, nil, nil
	}

	conv, err := o.convs.GetConversation(ctx, *in.ConversationID, in.Principal.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, datatypes.NewNotFound("conversation")
	}
	if err != nil {
		return nil, nil, datatypes.NewInternal(err)
	}

	if conv.Saturated(o.cfg.ConvMaxTokens) {
		conv, err = o.rollover(ctx, in.Principal, conv)
		if err != nil {
			return nil, nil, err
		}
		// The fresh thread has no replayable turns; continuity lives in
		// its summary context.
		return conv, nil, nil
	}

	history, err := o.convs.LoadTurns(ctx, conv.ID)
	if err != nil {
		return nil, nil, datatypes.NewInternal(err)
	}
	return conv, history, nil
}

// complete calls upstream with bounded retries on transient failures. The
// deadline covers all attempts together.
func (o *Orchestrator) complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.TurnTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= o.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			o.metrics.UpstreamRetried(req.Model)
			delay := retryBaseDelay<<(attempt-1) + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
			select {
			case <-ctx.Done():
				return nil, lastErr
			case <-time.After(delay):
			}
		}

		callStart := time.Now()
		result, err := o.client.Complete(ctx, req)
		if err == nil {
			if o.metrics != nil {
				o.metrics.UpstreamDurationSeconds.WithLabelValues(result.Model).Observe(time.Since(callStart).Seconds())
			}
			return result, nil
		}
		lastErr = err
		if !llm.IsTransient(err) {
			return nil, err
		}
		slog.Warn("transient upstream failure", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// book records the turn's cost globally and against the user's day ledger.
// The money is already spent upstream, so failures here are logged and
// retried once, never surfaced to the caller.
func (o *Orchestrator) book(ctx context.Context, p *datatypes.Principal, millicents, tokens int64) {
	var userID *uuid.UUID
	if p != nil {
		userID = &p.UserID
	}

	if err := withOneRetry(func() error {
		return o.engine.Record(ctx, millicents, tokens, userID)
	}); err != nil {
		slog.Error("global cost record failed", "millicents", millicents, "error", err)
	}

	if p != nil {
		if err := withOneRetry(func() error {
			return o.ledger.AddUsage(ctx, p.UserID, cost.Today(), tokens)
		}); err != nil {
			slog.Error("user ledger write failed", "user_id", p.UserID, "error", err)
		}
	}
}

func (o *Orchestrator) persistSuccess(ctx context.Context, in TurnInput, message string, convID *uuid.UUID, response string, result *llm.CompletionResult, tokensUsed int, millicents int64, started time.Time) {
	respLen := len(response)
	t := &datatypes.Turn{
		UserID:               principalID(in.Principal),
		SessionID:            optional(in.SessionID),
		ConversationID:       convID,
		UserMessage:          message,
		AssistantResponse:    &response,
		MessageLength:        len(message),
		ResponseLength:       &respLen,
		InputTokens:          &result.InputTokens,
		OutputTokens:         &result.OutputTokens,
		TokensUsed:           &tokensUsed,
		ActualCostMillicents: &millicents,
		Success:              true,
		DurationMs:           time.Since(started).Milliseconds(),
	}
	if err := withOneRetry(func() error { return o.convs.InsertTurn(ctx, t) }); err != nil {
		slog.Error("turn persistence failed after success", "error", err)
	}
}

// recordFailure persists a failed attempt. Failure rows never carry token
// or cost figures.
func (o *Orchestrator) recordFailure(ctx context.Context, in TurnInput, message string, convID *uuid.UUID, reason string, started time.Time) {
	t := &datatypes.Turn{
		UserID:         principalID(in.Principal),
		SessionID:      optional(in.SessionID),
		ConversationID: convID,
		UserMessage:    message,
		MessageLength:  len(message),
		Success:        false,
		ErrorMessage:   &reason,
		DurationMs:     time.Since(started).Milliseconds(),
	}
	if err := o.convs.InsertTurn(ctx, t); err != nil {
		slog.Error("failure turn persistence failed", "error", err)
	}
}

func (o *Orchestrator) observeTurn(status string, started time.Time) {
	if o.metrics == nil {
		return
	}
	o.metrics.TurnDurationSeconds.WithLabelValues(status).Observe(time.Since(started).Seconds())
}

// =============================================================================
// Small Helpers
// =============================================================================

func withOneRetry(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func principalID(p *datatypes.Principal) *uuid.UUID {
	if p == nil {
		return nil
	}
	id := p.UserID
	return &id
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func userIDString(p *datatypes.Principal) string {
	if p == nil {
		return "anonymous"
	}
	return p.UserID.String()
}
