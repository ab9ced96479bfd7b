// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newTestMetrics creates a GatewayMetrics instance with a custom registry.
// This avoids conflicts with the global Prometheus registry and allows
// parallel testing.
func newTestMetrics(t *testing.T) *GatewayMetrics {
	t.Helper()

	reg := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "requests_total",
			Help:      "Total HTTP requests by endpoint and status class",
		},
		[]string{"endpoint", "status"},
	)

	rejectionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "admission_rejections_total",
			Help:      "Requests rejected before reaching the model, by pipeline stage",
		},
		[]string{"stage"},
	)

	tokensTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "tokens_total",
			Help:      "Tokens billed by direction and model",
		},
		[]string{"direction", "model"},
	)

	spendTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "spend_millicents_total",
			Help:      "Reconciled spend in millicents by model",
		},
		[]string{"model"},
	)

	alertsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "budget_alerts_total",
			Help:      "Daily budget threshold crossings by threshold percent",
		},
		[]string{"threshold_pct"},
	)

	retriesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "upstream_retries_total",
			Help:      "Retry attempts after transient upstream failures",
		},
		[]string{"model"},
	)

	turnDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "turn_duration_seconds",
			Help:      "Full chat turn duration in seconds, persistence included",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"status"},
	)

	upstreamDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: gatewaySubsystem,
			Name:      "upstream_duration_seconds",
			Help:      "Upstream completion call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"model"},
	)

	reg.MustRegister(
		requestsTotal,
		rejectionsTotal,
		tokensTotal,
		spendTotal,
		alertsTotal,
		retriesTotal,
		turnDuration,
		upstreamDuration,
	)

	return &GatewayMetrics{
		RequestsTotal:            requestsTotal,
		AdmissionRejectionsTotal: rejectionsTotal,
		TokensTotal:              tokensTotal,
		SpendMillicentsTotal:     spendTotal,
		BudgetAlertsTotal:        alertsTotal,
		UpstreamRetriesTotal:     retriesTotal,
		TurnDurationSeconds:      turnDuration,
		UpstreamDurationSeconds:  upstreamDuration,
	}
}

// ============================================================================
// Recording Helper Tests
// ============================================================================

func TestRecordRequest_StatusClasses(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRequest("chat", 200)
	m.RecordRequest("chat", 200)
	m.RecordRequest("auth", 401)
	m.RecordRequest("chat", 503)

	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "2xx")); got != 2 {
		t.Errorf("RequestsTotal[chat,2xx] = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("auth", "4xx")); got != 1 {
		t.Errorf("RequestsTotal[auth,4xx] = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("chat", "5xx")); got != 1 {
		t.Errorf("RequestsTotal[chat,5xx] = %f, want 1", got)
	}
}

func TestRejected(t *testing.T) {
	m := newTestMetrics(t)

	m.Rejected("ip_limit")
	m.Rejected("ip_limit")
	m.Rejected("global_budget")

	if got := testutil.ToFloat64(m.AdmissionRejectionsTotal.WithLabelValues("ip_limit")); got != 2 {
		t.Errorf("AdmissionRejectionsTotal[ip_limit] = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.AdmissionRejectionsTotal.WithLabelValues("global_budget")); got != 1 {
		t.Errorf("AdmissionRejectionsTotal[global_budget] = %f, want 1", got)
	}
}

func TestRecordTurnTokens(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTurnTokens("gpt-4o-mini", 100, 50)
	m.RecordTurnTokens("gpt-4o-mini", 20, 10)

	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("input", "gpt-4o-mini")); got != 120 {
		t.Errorf("TokensTotal[input] = %f, want 120", got)
	}
	if got := testutil.ToFloat64(m.TokensTotal.WithLabelValues("output", "gpt-4o-mini")); got != 60 {
		t.Errorf("TokensTotal[output] = %f, want 60", got)
	}
}

func TestRecordSpendAndAlerts(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordSpend("gpt-4o-mini", 75)
	m.RecordSpend("gpt-4o-mini", 25)
	m.BudgetAlertFired(50)
	m.UpstreamRetried("gpt-4o-mini")

	if got := testutil.ToFloat64(m.SpendMillicentsTotal.WithLabelValues("gpt-4o-mini")); got != 100 {
		t.Errorf("SpendMillicentsTotal = %f, want 100", got)
	}
	if got := testutil.ToFloat64(m.BudgetAlertsTotal.WithLabelValues("50")); got != 1 {
		t.Errorf("BudgetAlertsTotal[50] = %f, want 1", got)
	}
	if got := testutil.ToFloat64(m.UpstreamRetriesTotal.WithLabelValues("gpt-4o-mini")); got != 1 {
		t.Errorf("UpstreamRetriesTotal = %f, want 1", got)
	}
}

// TestNilMetricsSafe verifies every recording helper tolerates a nil
// receiver: components constructed with metrics disabled call them freely.
func TestNilMetricsSafe(t *testing.T) {
	var m *GatewayMetrics

	m.RecordRequest("chat", 200)
	m.Rejected("ip_limit")
	m.RecordTurnTokens("gpt-4o-mini", 1, 1)
	m.RecordSpend("gpt-4o-mini", 1)
	m.BudgetAlertFired(50)
	m.UpstreamRetried("gpt-4o-mini")
}
