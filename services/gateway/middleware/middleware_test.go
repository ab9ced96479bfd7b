// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/gatewatch/services/gateway/cost"
	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Fakes
// =============================================================================

// memCounter is an in-memory Counter/TokenCounter with optional failure.
type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	ttls   map[string]time.Duration
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: make(map[string]int64), ttls: make(map[string]time.Duration)}
}

func (m *memCounter) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	return m.IncrByWithTTL(context.Background(), key, 1, ttl)
}

func (m *memCounter) IncrByWithTTL(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key] += delta
	if _, armed := m.ttls[key]; !armed {
		m.ttls[key] = ttl
	}
	return m.counts[key], nil
}

func (m *memCounter) SecondsToExpiry(_ context.Context, key string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return int(m.ttls[key].Seconds()), nil
}

// staticResolver resolves every token to the same principal.
type staticResolver struct {
	principal *datatypes.Principal
	err       error
}

func (s *staticResolver) Resolve(context.Context, string) (*datatypes.Principal, error) {
	return s.principal, s.err
}

// fakeUsage serves a fixed per-user token total.
type fakeUsage struct {
	used int64
	err  error
}

func (f *fakeUsage) UsageToday(_ context.Context, userID uuid.UUID, day time.Time) (*datatypes.UserDayUsage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &datatypes.UserDayUsage{UserID: userID, Date: day, TotalTokensUsed: f.used}, nil
}

func performChat(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

// performAuthedChat is performChat with a session cookie so OptionalSession
// consults the resolver.
func performAuthedChat(router *gin.Engine, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "gw_session", Value: "sometoken"})
	router.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// =============================================================================
// IPLimit Tests
// =============================================================================

func TestIPLimit_RejectsAboveRate(t *testing.T) {
	kv := newMemCounter()
	router := gin.New()
	router.POST("/api/chat", IPLimit(kv, 3, nil), okHandler)

	for i := 0; i < 3; i++ {
		w := performChat(router, `{}`)
		assert.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
	}

	w := performChat(router, `{}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), string(datatypes.KindRateLimited))
}

func TestIPLimit_LocalFallbackWhenKVDown(t *testing.T) {
	kv := newMemCounter()
	kv.err = errors.New("kv down")
	router := gin.New()
	router.POST("/api/chat", IPLimit(kv, 2, nil), okHandler)

	// The token bucket starts full with the per-minute burst.
	assert.Equal(t, http.StatusOK, performChat(router, `{}`).Code)
	assert.Equal(t, http.StatusOK, performChat(router, `{}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, performChat(router, `{}`).Code)
}

// =============================================================================
// Session Middleware Tests
// =============================================================================

func TestRequireSession(t *testing.T) {
	router := gin.New()
	router.GET("/anon", OptionalSession(&staticResolver{}), RequireSession(nil), okHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/anon", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(datatypes.KindAuthRequired))
}

func TestRequireSession_PassesAuthenticated(t *testing.T) {
	p := &datatypes.Principal{UserID: uuid.New(), Tier: datatypes.TierFree}
	router := gin.New()
	router.GET("/me", OptionalSession(&staticResolver{principal: p}), RequireSession(nil), okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(&http.Cookie{Name: "gw_session", Value: "sometoken"})
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOptionalSession_ResolverErrorDegradesToAnonymous(t *testing.T) {
	router := gin.New()
	router.GET("/", OptionalSession(&staticResolver{err: errors.New("kv down")}), func(c *gin.Context) {
		assert.Nil(t, GetPrincipal(c))
		okHandler(c)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "gw_session", Value: "sometoken"})
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireTier(t *testing.T) {
	p := &datatypes.Principal{UserID: uuid.New(), Tier: datatypes.TierFree}
	router := gin.New()
	router.GET("/premium", OptionalSession(&staticResolver{principal: p}), RequireTier(datatypes.TierPremium, nil), okHandler)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/premium", nil)
	req.AddCookie(&http.Cookie{Name: "gw_session", Value: "sometoken"})
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), string(datatypes.KindInsufficientTier))
}

// =============================================================================
// TierRequestQuota Tests
// =============================================================================

func TestTierRequestQuota_AnonymousDailyCap(t *testing.T) {
	kv := newMemCounter()
	table := datatypes.DefaultTierTable() // anonymous: 3 requests/day
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{}),
		TierRequestQuota(kv, table, nil),
		okHandler,
	)

	for i := 0; i < 3; i++ {
		w := performChat(router, `{"message":"hi"}`)
		require.Equal(t, http.StatusOK, w.Code, "request %d should pass", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, strconv.Itoa(2-i), w.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	}

	w := performChat(router, `{"message":"hi"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "Daily")
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
}

func TestTierRequestQuota_KeyedPerTierAndUser(t *testing.T) {
	kv := newMemCounter()
	p := &datatypes.Principal{UserID: uuid.New(), Tier: datatypes.TierPremium}
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{principal: p}),
		TierRequestQuota(kv, datatypes.DefaultTierTable(), nil),
		okHandler,
	)

	w := performAuthedChat(router, `{"message":"hi"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "500", w.Header().Get("X-RateLimit-Limit"))

	kv.mu.Lock()
	defer kv.mu.Unlock()
	assert.Contains(t, kv.counts, "rl_user_premium:"+p.UserID.String())
}

func TestTierRequestQuota_FailsOpenWhenKVDown(t *testing.T) {
	kv := newMemCounter()
	kv.err = errors.New("kv down")
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{}),
		TierRequestQuota(kv, datatypes.DefaultTierTable(), nil),
		okHandler,
	)
	assert.Equal(t, http.StatusOK, performChat(router, `{"message":"hi"}`).Code)
}

// =============================================================================
// TierTokenBudget Tests
// =============================================================================

func TestTierTokenBudget_RejectsWhenExhausted(t *testing.T) {
	p := &datatypes.Principal{UserID: uuid.New(), Tier: datatypes.TierFree}
	usage := &fakeUsage{used: 99_500} // free tier: 100,000/day
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{principal: p}),
		TierTokenBudget(usage, newMemCounter(), datatypes.DefaultTierTable(), nil),
		okHandler,
	)

	// Worst case estimate: input + 2000 output tokens blows the remainder.
	w := performAuthedChat(router, `{"message":"what does lifelink do?"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "token budget")
	assert.Equal(t, "100000", w.Header().Get("X-Tokens-Limit"))
}

func TestTierTokenBudget_PassesWithHeadroom(t *testing.T) {
	p := &datatypes.Principal{UserID: uuid.New(), Tier: datatypes.TierFree}
	usage := &fakeUsage{used: 10_000}
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{principal: p}),
		TierTokenBudget(usage, newMemCounter(), datatypes.DefaultTierTable(), nil),
		okHandler,
	)

	w := performAuthedChat(router, `{"message":"what does lifelink do?"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10000", w.Header().Get("X-Tokens-Used"))
	assert.Equal(t, "90000", w.Header().Get("X-Tokens-Remaining"))
}

func TestTierTokenBudget_AnonymousEstimateAccounting(t *testing.T) {
	kv := newMemCounter()
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{}),
		TierTokenBudget(&fakeUsage{}, kv, datatypes.DefaultTierTable(), nil),
		okHandler,
	)

	// Anonymous tier: 10,000 tokens/day, 1,000 max output. Each turn books
	// its estimate; ~1,007 tokens per call lets nine through, not ten.
	body := `{"message":"` + string(bytes.Repeat([]byte("a"), 28)) + `"}`
	passed := 0
	for i := 0; i < 12; i++ {
		if performChat(router, body).Code == http.StatusOK {
			passed++
		}
	}
	assert.Equal(t, 9, passed)
}

// =============================================================================
// GlobalBudget Tests
// =============================================================================

// budgetBuckets is a fixed-spend cost.Buckets for gate tests.
type budgetBuckets struct {
	spent   int64
	readErr error
}

func (b *budgetBuckets) RecordGlobalCost(context.Context, time.Time, int64, int64, *uuid.UUID) error {
	return nil
}

func (b *budgetBuckets) GlobalCostToday(context.Context, time.Time) (int64, error) {
	return b.spent, b.readErr
}

type noFlags struct{}

func (noFlags) SetAlertFlag(context.Context, string, time.Duration) (bool, error) {
	return false, nil
}

func budgetRouter(buckets *budgetBuckets, budget int64) *gin.Engine {
	engine := cost.New(cost.Config{DailyBudgetMillicents: budget}, buckets, noFlags{}, nil, nil)
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{}),
		GlobalBudget(engine, datatypes.DefaultTierTable(), "gpt-4o-mini", nil),
		okHandler,
	)
	return router
}

func TestGlobalBudget_PassesWithHeadroom(t *testing.T) {
	router := budgetRouter(&budgetBuckets{spent: 0}, 1_000_000)
	assert.Equal(t, http.StatusOK, performChat(router, `{"message":"hi"}`).Code)
}

func TestGlobalBudget_RejectsWhenExhausted(t *testing.T) {
	router := budgetRouter(&budgetBuckets{spent: 1_000_000}, 1_000_000)

	w := performChat(router, `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), string(datatypes.KindBudgetExceeded))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}

func TestGlobalBudget_FailsClosedOnReadError(t *testing.T) {
	router := budgetRouter(&budgetBuckets{readErr: errors.New("store down")}, 1_000_000)

	w := performChat(router, `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), string(datatypes.KindBudgetExceeded))
}

func TestGlobalBudget_UnknownModelIsInternal(t *testing.T) {
	engine := cost.New(cost.Config{DailyBudgetMillicents: 1}, &budgetBuckets{}, noFlags{}, nil, nil)
	router := gin.New()
	router.POST("/api/chat",
		OptionalSession(&staticResolver{}),
		GlobalBudget(engine, datatypes.DefaultTierTable(), "gpt-imaginary", nil),
		okHandler,
	)
	w := performChat(router, `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

// =============================================================================
// Body Peek Tests
// =============================================================================

func TestPeekMessage_RestoresBody(t *testing.T) {
	router := gin.New()
	router.POST("/api/chat", func(c *gin.Context) {
		assert.Equal(t, "hello", peekMessage(c))

		var req datatypes.ChatRequest
		require.NoError(t, c.BindJSON(&req))
		assert.Equal(t, "hello", req.Message)
		okHandler(c)
	})

	w := performChat(router, `{"message":"hello"}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPeekMessage_UnparsableBodyPeeksEmpty(t *testing.T) {
	router := gin.New()
	router.POST("/api/chat", func(c *gin.Context) {
		assert.Empty(t, peekMessage(c))
		okHandler(c)
	})
	assert.Equal(t, http.StatusOK, performChat(router, `not json`).Code)
}
