// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cost

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeBuckets struct {
	mu      sync.Mutex
	spent   int64
	tokens  int64
	records int
	readErr error
	userIDs []*uuid.UUID
}

func (f *fakeBuckets) RecordGlobalCost(_ context.Context, _ time.Time, millicents, tokens int64, userID *uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spent += millicents
	f.tokens += tokens
	f.records++
	f.userIDs = append(f.userIDs, userID)
	return nil
}

func (f *fakeBuckets) GlobalCostToday(_ context.Context, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.spent, nil
}

type fakeFlags struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (f *fakeFlags) SetAlertFlag(_ context.Context, key string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	fired []int
}

func (f *fakeNotifier) BudgetAlert(_ context.Context, pct int, _, _ int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fired = append(f.fired, pct)
}

// =============================================================================
// Pricing Math Tests
// =============================================================================

func TestEstimateInputTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateInputTokens(0))
	assert.Equal(t, 1, EstimateInputTokens(1))
	assert.Equal(t, 1, EstimateInputTokens(4))
	assert.Equal(t, 2, EstimateInputTokens(5))
	assert.Equal(t, 1000, EstimateInputTokens(4000))
}

func TestEstimate_RoundsUp(t *testing.T) {
	e := New(Config{DailyBudgetMillicents: 1_000_000}, &fakeBuckets{}, &fakeFlags{}, nil, nil)

	// gpt-4o-mini: 15,000 mc/MTok input, 60,000 mc/MTok output.
	// 1 input token = 0.015 mc -> rounds up to 1 mc; 1000 output tokens
	// = 60 mc exactly.
	got, err := e.Estimate(4, 1000, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, int64(61), got)
}

func TestEstimate_UnknownModelFailsClosed(t *testing.T) {
	e := New(Config{}, &fakeBuckets{}, &fakeFlags{}, nil, nil)
	_, err := e.Estimate(100, 100, "gpt-imaginary")
	assert.Error(t, err)
	_, err = e.Reconcile(10, 10, "gpt-imaginary")
	assert.Error(t, err)
	assert.False(t, e.KnownModel("gpt-imaginary"))
	assert.True(t, e.KnownModel("gpt-4o-mini"))
}

func TestReconcile_ZeroOutputTokens(t *testing.T) {
	e := New(Config{}, &fakeBuckets{}, &fakeFlags{}, nil, nil)
	got, err := e.Reconcile(200, 0, "gpt-4o-mini")
	require.NoError(t, err)
	// 200 * 15,000 / 1M = 3 exactly; output contributes nothing.
	assert.Equal(t, int64(3), got)
}

func TestReconcile_ExactMillionBoundary(t *testing.T) {
	e := New(Config{}, &fakeBuckets{}, &fakeFlags{}, nil, nil)
	got, err := e.Reconcile(1_000_000, 1_000_000, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, int64(250_000+1_000_000), got)
}

// =============================================================================
// Affordability Tests
// =============================================================================

func TestCanAfford(t *testing.T) {
	buckets := &fakeBuckets{spent: 900}
	e := New(Config{DailyBudgetMillicents: 1000}, buckets, &fakeFlags{}, nil, nil)
	ctx := context.Background()

	ok, err := e.CanAfford(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok, "exactly at budget is affordable")

	ok, err = e.CanAfford(ctx, 101)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanAfford_ReadErrorPropagates(t *testing.T) {
	buckets := &fakeBuckets{readErr: errors.New("store down")}
	e := New(Config{DailyBudgetMillicents: 1000}, buckets, &fakeFlags{}, nil, nil)

	_, err := e.CanAfford(context.Background(), 1)
	assert.Error(t, err)
}

// =============================================================================
// Recording and Alert Tests
// =============================================================================

func TestRecord_BooksAndChecksAlerts(t *testing.T) {
	buckets := &fakeBuckets{}
	notifier := &fakeNotifier{}
	e := New(Config{DailyBudgetMillicents: 1000}, buckets, &fakeFlags{}, notifier, nil)
	ctx := context.Background()

	userID := uuid.New()
	require.NoError(t, e.Record(ctx, 600, 2000, &userID))

	assert.Equal(t, int64(600), buckets.spent)
	assert.Equal(t, int64(2000), buckets.tokens)
	require.Len(t, buckets.userIDs, 1)
	assert.Equal(t, userID, *buckets.userIDs[0])

	// 60% of budget: only the 50% threshold fires.
	assert.Equal(t, []int{50}, notifier.fired)
}

func TestCheckAlerts_AtMostOncePerThreshold(t *testing.T) {
	buckets := &fakeBuckets{spent: 950}
	notifier := &fakeNotifier{}
	e := New(Config{DailyBudgetMillicents: 1000}, buckets, &fakeFlags{}, notifier, nil)
	ctx := context.Background()

	e.CheckAlerts(ctx)
	e.CheckAlerts(ctx)
	e.CheckAlerts(ctx)

	// 95%: all three default thresholds, each exactly once.
	assert.Equal(t, []int{50, 75, 90}, notifier.fired)
}

func TestCheckAlerts_FlagErrorDoesNotNotify(t *testing.T) {
	buckets := &fakeBuckets{spent: 990}
	notifier := &fakeNotifier{}
	e := New(Config{DailyBudgetMillicents: 1000}, buckets, &fakeFlags{err: errors.New("kv down")}, notifier, nil)

	e.CheckAlerts(context.Background())
	assert.Empty(t, notifier.fired)
}

func TestCheckAlerts_ZeroBudgetIsNoop(t *testing.T) {
	notifier := &fakeNotifier{}
	e := New(Config{}, &fakeBuckets{spent: 100}, &fakeFlags{}, notifier, nil)
	e.CheckAlerts(context.Background())
	assert.Empty(t, notifier.fired)
}

// =============================================================================
// Day Boundary Tests
// =============================================================================

func TestDayBoundaries(t *testing.T) {
	today := Today()
	assert.Equal(t, time.UTC, today.Location())
	assert.Equal(t, 0, today.Hour())
	assert.Equal(t, today.Add(24*time.Hour), NextReset())
	assert.True(t, NextReset().After(time.Now().UTC()))
}
