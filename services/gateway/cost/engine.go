// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cost implements the monetary side of the gateway: per-model
// pricing, pre-flight estimates, post-flight reconciliation, the global
// day-bucket, and multi-threshold budget alerting.
//
// All amounts are millicents (1/100,000 of a dollar) held in int64 so no
// float ever touches money. Conversions round up: a billable fraction of a
// millicent is still a millicent.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

var costTracer = otel.Tracer("gatewatch.gateway.cost")

// =============================================================================
// Pricing
// =============================================================================

// MillicentsPerDollar is the internal monetary scale.
const MillicentsPerDollar = 100_000

// tokensPerMillion keeps per-token prices integral by storing them per
// million tokens.
const tokensPerMillion = 1_000_000

// Pricing holds one model's prices in millicents per million tokens.
// Example: $0.15 per 1M input tokens = 15,000 millicents per MTok.
type Pricing struct {
	InputPerMTok  int64
	OutputPerMTok int64
}

// DefaultPricing covers the OpenAI-compatible models the gateway ships with.
// Unknown models fail closed everywhere.
func DefaultPricing() map[string]Pricing {
	return map[string]Pricing{
		"gpt-4o-mini": {InputPerMTok: 15_000, OutputPerMTok: 60_000},
		"gpt-4o":      {InputPerMTok: 250_000, OutputPerMTok: 1_000_000},
		"gpt-4.1":     {InputPerMTok: 200_000, OutputPerMTok: 800_000},
	}
}

// tokenCost computes ceil(tokens * perMTok / 1M).
func tokenCost(tokens int64, perMTok int64) int64 {
	if tokens <= 0 || perMTok <= 0 {
		return 0
	}
	return (tokens*perMTok + tokensPerMillion - 1) / tokensPerMillion
}

// EstimateInputTokens approximates input tokens from message length at four
// characters per token, rounding up.
func EstimateInputTokens(msgLen int) int {
	if msgLen <= 0 {
		return 0
	}
	return (msgLen + 3) / 4
}

// =============================================================================
// Day Boundaries
// =============================================================================

// Today returns the current UTC day bucket key.
func Today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

// NextReset returns the next UTC midnight, the moment every day bucket rolls.
func NextReset() time.Time {
	return Today().Add(24 * time.Hour)
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// Buckets is the slice of the row store the engine writes through.
type Buckets interface {
	// RecordGlobalCost atomically adds one successful turn's cost and
	// tokens to the global day bucket, incrementing unique_users when this
	// is the user's first successful turn today. Must be one transaction.
	RecordGlobalCost(ctx context.Context, day time.Time, millicents, tokens int64, userID *uuid.UUID) error

	// GlobalCostToday reads the day bucket's running cost total.
	GlobalCostToday(ctx context.Context, day time.Time) (int64, error)
}

// FlagStore provides the at-most-once alert flags (KV SET NX EX).
type FlagStore interface {
	SetAlertFlag(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// AlertNotifier receives threshold crossings. The default implementation
// only logs; deployments plug in pager/webhook notifiers here.
type AlertNotifier interface {
	BudgetAlert(ctx context.Context, thresholdPct int, spentMillicents, budgetMillicents int64)
}

// LogNotifier is the default AlertNotifier.
type LogNotifier struct{}

func (LogNotifier) BudgetAlert(ctx context.Context, pct int, spent, budget int64) {
	slog.Warn("daily budget threshold crossed",
		"threshold_pct", pct,
		"spent_millicents", spent,
		"budget_millicents", budget,
	)
}

// AlertCounter lets the engine bump a metric when an alert fires without
// importing the observability package.
type AlertCounter interface {
	BudgetAlertFired(thresholdPct int)
}

// =============================================================================
// Engine
// =============================================================================

// Config tunes the engine.
type Config struct {
	// DailyBudgetMillicents is the process-wide spend ceiling per UTC day.
	DailyBudgetMillicents int64

	// AlertThresholds are budget percentages, ascending. Default 50/75/90.
	AlertThresholds []int

	// Pricing overrides the shipped model price table when non-nil.
	Pricing map[string]Pricing
}

// Engine estimates, reconciles, records, and alerts. Safe for concurrent
// use; all mutable state lives in the stores.
type Engine struct {
	pricing    map[string]Pricing
	budget     int64
	thresholds []int
	buckets    Buckets
	flags      FlagStore
	notifier   AlertNotifier
	counter    AlertCounter
}

// New builds an Engine. notifier and counter may be nil.
func New(cfg Config, buckets Buckets, flags FlagStore, notifier AlertNotifier, counter AlertCounter) *Engine {
	pricing := cfg.Pricing
	if pricing == nil {
		pricing = DefaultPricing()
	}
	thresholds := cfg.AlertThresholds
	if len(thresholds) == 0 {
		thresholds = []int{50, 75, 90}
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Engine{
		pricing:    pricing,
		budget:     cfg.DailyBudgetMillicents,
		thresholds: thresholds,
		buckets:    buckets,
		flags:      flags,
		notifier:   notifier,
		counter:    counter,
	}
}

// Estimate computes the worst-case pre-flight cost in millicents for a
// message of msgLen characters with up to maxOut output tokens. Unknown
// models fail closed.
func (e *Engine) Estimate(msgLen, maxOut int, model string) (int64, error) {
	p, ok := e.pricing[model]
	if !ok {
		return 0, fmt.Errorf("no pricing for model %q", model)
	}
	in := int64(EstimateInputTokens(msgLen))
	return tokenCost(in, p.InputPerMTok) + tokenCost(int64(maxOut), p.OutputPerMTok), nil
}

// Reconcile computes the exact cost from upstream-reported token counts.
func (e *Engine) Reconcile(inputTokens, outputTokens int, model string) (int64, error) {
	p, ok := e.pricing[model]
	if !ok {
		return 0, fmt.Errorf("no pricing for model %q", model)
	}
	return tokenCost(int64(inputTokens), p.InputPerMTok) + tokenCost(int64(outputTokens), p.OutputPerMTok), nil
}

// KnownModel reports whether the engine can price the model.
func (e *Engine) KnownModel(model string) bool {
	_, ok := e.pricing[model]
	return ok
}

// CanAfford checks the global gate: current day spend plus the estimate must
// stay within the configured budget.
func (e *Engine) CanAfford(ctx context.Context, estimate int64) (bool, error) {
	spent, err := e.buckets.GlobalCostToday(ctx, Today())
	if err != nil {
		return false, fmt.Errorf("reading global day bucket: %w", err)
	}
	return spent+estimate <= e.budget, nil
}

// Record books one successful turn into the global day bucket, then checks
// the alert thresholds. userID may be nil for anonymous turns.
func (e *Engine) Record(ctx context.Context, millicents, tokens int64, userID *uuid.UUID) error {
	ctx, span := costTracer.Start(ctx, "Engine.Record")
	defer span.End()

	if err := e.buckets.RecordGlobalCost(ctx, Today(), millicents, tokens, userID); err != nil {
		return fmt.Errorf("recording global cost: %w", err)
	}
	e.CheckAlerts(ctx)
	return nil
}

// CheckAlerts fires each configured threshold at most once per day. Errors
// are logged, never propagated: alerting must not fail a paid-for turn.
func (e *Engine) CheckAlerts(ctx context.Context) {
	if e.budget <= 0 {
		return
	}
	spent, err := e.buckets.GlobalCostToday(ctx, Today())
	if err != nil {
		slog.Error("budget alert check failed reading day bucket", "error", err)
		return
	}
	pct := spent * 100 / e.budget

	for _, threshold := range e.thresholds {
		if pct < int64(threshold) {
			continue
		}
		key := fmt.Sprintf("budget_alert_%d", threshold)
		first, err := e.flags.SetAlertFlag(ctx, key, 24*time.Hour)
		if err != nil {
			slog.Error("budget alert flag write failed", "key", key, "error", err)
			continue
		}
		if !first {
			continue
		}
		e.notifier.BudgetAlert(ctx, threshold, spent, e.budget)
		if e.counter != nil {
			e.counter.BudgetAlertFired(threshold)
		}
	}
}
