// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the copilot graph
// and batch driver.
//
// # Description
//
// Metrics include:
//   - Run counters by route and outcome
//   - Step latency histograms
//   - Query execution, repair and override counters
//   - Answer parse fallbacks and batch rate-limit retries
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "copilot"

const (
	graphSubsystem = "graph"
	batchSubsystem = "batch"
)

// Outcome labels for RunsTotal.
const (
	// OutcomeAnswered is a run that reached synthesis with usable evidence.
	OutcomeAnswered = "answered"

	// OutcomeDegraded is a run whose query repair loop was exhausted.
	OutcomeDegraded = "degraded"

	// OutcomeFailed is a run aborted by an error.
	OutcomeFailed = "failed"
)

// Metrics holds the copilot's Prometheus collectors.
//
// # Fields
//
//   - RunsTotal: Runs by route and outcome
//   - StepDurationSeconds: Time spent in each graph node
//   - QueryExecutionsTotal: Query executions by status (success, error)
//   - RepairAttemptsTotal: Executions that led to another generation
//   - ClassificationOverridesTotal: sql routes upgraded to hybrid
//   - AnswerParseFallbacksTotal: Unparseable answers replaced by the fallback
//   - RateLimitRetriesTotal: Backend calls retried after a rate-limit error
//   - ActiveRuns: Runs in progress
type Metrics struct {
	RunsTotal                    *prometheus.CounterVec
	StepDurationSeconds          *prometheus.HistogramVec
	QueryExecutionsTotal         *prometheus.CounterVec
	RepairAttemptsTotal          prometheus.Counter
	ClassificationOverridesTotal prometheus.Counter
	AnswerParseFallbacksTotal    prometheus.Counter
	RateLimitRetriesTotal        prometheus.Counter
	ActiveRuns                   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
//
// # Inputs
//
//   - reg: Registry to register with. prometheus.DefaultRegisterer in
//     production, a fresh prometheus.NewRegistry() in tests.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: graphSubsystem,
				Name:      "runs_total",
				Help:      "Total graph runs by route and outcome",
			},
			[]string{"route", "outcome"},
		),

		StepDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: graphSubsystem,
				Name:      "step_duration_seconds",
				Help:      "Time spent in each graph step in seconds",
				Buckets:   []float64{0.005, 0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"step"},
		),

		QueryExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: graphSubsystem,
				Name:      "query_executions_total",
				Help:      "Total query executions by status",
			},
			[]string{"status"},
		),

		RepairAttemptsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: graphSubsystem,
			Name:      "repair_attempts_total",
			Help:      "Total failed executions that triggered a new query generation",
		}),

		ClassificationOverridesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: graphSubsystem,
			Name:      "classification_overrides_total",
			Help:      "Total sql classifications upgraded to hybrid by keyword",
		}),

		AnswerParseFallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: graphSubsystem,
			Name:      "answer_parse_fallbacks_total",
			Help:      "Total answers that could not be parsed from model output",
		}),

		RateLimitRetriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: batchSubsystem,
			Name:      "rate_limit_retries_total",
			Help:      "Total backend calls retried after a rate-limit error",
		}),

		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: graphSubsystem,
			Name:      "active_runs",
			Help:      "Number of graph runs in progress",
		}),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRun records a finished run.
func (m *Metrics) RecordRun(route, outcome string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unclassified"
	}
	m.RunsTotal.WithLabelValues(route, outcome).Inc()
}

// ObserveStep records the duration of one graph step.
func (m *Metrics) ObserveStep(step string, seconds float64) {
	if m == nil {
		return
	}
	m.StepDurationSeconds.WithLabelValues(step).Observe(seconds)
}

// RecordExecution records one query execution.
func (m *Metrics) RecordExecution(success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.QueryExecutionsTotal.WithLabelValues(status).Inc()
}

// RecordRepairAttempt increments the repair counter.
func (m *Metrics) RecordRepairAttempt() {
	if m == nil {
		return
	}
	m.RepairAttemptsTotal.Inc()
}

// RecordOverride increments the classification override counter.
func (m *Metrics) RecordOverride() {
	if m == nil {
		return
	}
	m.ClassificationOverridesTotal.Inc()
}

// RecordParseFallback increments the answer parse fallback counter.
func (m *Metrics) RecordParseFallback() {
	if m == nil {
		return
	}
	m.AnswerParseFallbacksTotal.Inc()
}

// RecordRateLimitRetry increments the rate-limit retry counter.
func (m *Metrics) RecordRateLimitRetry() {
	if m == nil {
		return
	}
	m.RateLimitRetriesTotal.Inc()
}

// RunStarted increments the active runs gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.ActiveRuns.Inc()
}

// RunEnded decrements the active runs gauge.
func (m *Metrics) RunEnded() {
	if m == nil {
		return
	}
	m.ActiveRuns.Dec()
}
