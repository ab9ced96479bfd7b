// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the gateway.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the admission
// pipeline and chat turns. Metrics include:
//   - Request counters (by endpoint, status)
//   - Admission rejection counters (by pipeline stage)
//   - Token usage (input/output tokens by model)
//   - Spend counters (millicents) and budget alert counters
//   - Latency histograms (full turn, upstream completion)
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "gatewatch"

// Subsystem for gateway metrics
const gatewaySubsystem = "gateway"

// GatewayMetrics holds all Prometheus metrics for the gateway.
//
// # Description
//
// Provides counters and histograms for the admission pipeline, chat turns,
// and spend accounting. Initialize once at startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type GatewayMetrics struct {
	// RequestsTotal counts HTTP requests by endpoint and status class.
	// Labels: endpoint (chat, auth, conversations, health), status (2xx..5xx)
	RequestsTotal *prometheus.CounterVec

	// AdmissionRejectionsTotal counts requests stopped before the model.
	// Labels: stage (ip_limit, session, request_quota, token_budget,
	// global_budget, validation, injection_screen)
	AdmissionRejectionsTotal *prometheus.CounterVec

	// TokensTotal counts tokens billed by direction and model.
	// Labels: direction (input, output), model
	TokensTotal *prometheus.CounterVec

	// SpendMillicentsTotal counts reconciled spend by model.
	// Labels: model
	SpendMillicentsTotal *prometheus.CounterVec

	// BudgetAlertsTotal counts budget threshold crossings.
	// Labels: threshold_pct (50, 75, 90)
	BudgetAlertsTotal *prometheus.CounterVec

	// UpstreamRetriesTotal counts transient-failure retry attempts.
	// Labels: model
	UpstreamRetriesTotal *prometheus.CounterVec

	// TurnDurationSeconds measures full turn latency including persistence.
	// Labels: status (success, error)
	TurnDurationSeconds *prometheus.HistogramVec

	// UpstreamDurationSeconds measures the model call alone.
	// Labels: model
	UpstreamDurationSeconds *prometheus.HistogramVec
}

// DefaultMetrics is the singleton instance of GatewayMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *GatewayMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once at
// application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *GatewayMetrics {
	DefaultMetrics = &GatewayMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by endpoint and status class",
			},
			[]string{"endpoint", "status"},
		),

		AdmissionRejectionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "admission_rejections_total",
				Help:      "Requests rejected before reaching the model, by pipeline stage",
			},
			[]string{"stage"},
		),

		TokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "tokens_total",
				Help:      "Tokens billed by direction and model",
			},
			[]string{"direction", "model"},
		),

		SpendMillicentsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "spend_millicents_total",
				Help:      "Reconciled spend in millicents by model",
			},
			[]string{"model"},
		),

		BudgetAlertsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "budget_alerts_total",
				Help:      "Daily budget threshold crossings by threshold percent",
			},
			[]string{"threshold_pct"},
		),

		UpstreamRetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "upstream_retries_total",
				Help:      "Retry attempts after transient upstream failures",
			},
			[]string{"model"},
		),

		TurnDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Full chat turn duration in seconds, persistence included",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"status"},
		),

		UpstreamDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: gatewaySubsystem,
				Name:      "upstream_duration_seconds",
				Help:      "Upstream completion call duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"model"},
		),
	}
	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// BudgetAlertFired implements the cost engine's AlertCounter.
func (m *GatewayMetrics) BudgetAlertFired(thresholdPct int) {
	if m == nil {
		return
	}
	m.BudgetAlertsTotal.WithLabelValues(strconv.Itoa(thresholdPct)).Inc()
}

// RecordRequest counts a finished HTTP request by endpoint and status class.
func (m *GatewayMetrics) RecordRequest(endpoint string, status int) {
	if m == nil {
		return
	}
	class := strconv.Itoa(status/100) + "xx"
	m.RequestsTotal.WithLabelValues(endpoint, class).Inc()
}

// Rejected bumps the admission rejection counter for a stage.
func (m *GatewayMetrics) Rejected(stage string) {
	if m == nil {
		return
	}
	m.AdmissionRejectionsTotal.WithLabelValues(stage).Inc()
}

// RecordTurnTokens books reconciled token counts against a model.
func (m *GatewayMetrics) RecordTurnTokens(model string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}
	m.TokensTotal.WithLabelValues("input", model).Add(float64(inputTokens))
	m.TokensTotal.WithLabelValues("output", model).Add(float64(outputTokens))
}

// RecordSpend books reconciled millicents against a model.
func (m *GatewayMetrics) RecordSpend(model string, millicents int64) {
	if m == nil {
		return
	}
	m.SpendMillicentsTotal.WithLabelValues(model).Add(float64(millicents))
}

// UpstreamRetried counts one retry attempt against a model.
func (m *GatewayMetrics) UpstreamRetried(model string) {
	if m == nil {
		return
	}
	m.UpstreamRetriesTotal.WithLabelValues(model).Inc()
}
