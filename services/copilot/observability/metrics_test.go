// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRun("hybrid", OutcomeAnswered)
	m.RecordRun("hybrid", OutcomeAnswered)
	m.RecordRun("", OutcomeFailed)
	m.RecordExecution(true)
	m.RecordExecution(false)
	m.RecordExecution(false)
	m.RecordRepairAttempt()
	m.RecordOverride()
	m.RecordParseFallback()
	m.RecordRateLimitRetry()
	m.RecordRateLimitRetry()
	m.ObserveStep("classify", 0.01)
	m.RunStarted()
	m.RunStarted()
	m.RunEnded()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("hybrid", OutcomeAnswered)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("unclassified", OutcomeFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueryExecutionsTotal.WithLabelValues("success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueryExecutionsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepairAttemptsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ClassificationOverridesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnswerParseFallbacksTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitRetriesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveRuns))
	assert.Equal(t, 1, testutil.CollectAndCount(m.StepDurationSeconds))
}

func TestMetrics_ExposedNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordRepairAttempt()

	expected := `
# HELP copilot_graph_repair_attempts_total Total failed executions that triggered a new query generation
# TYPE copilot_graph_repair_attempts_total counter
copilot_graph_repair_attempts_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "copilot_graph_repair_attempts_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRun("sql", OutcomeAnswered)
		m.ObserveStep("classify", 1)
		m.RecordExecution(true)
		m.RecordRepairAttempt()
		m.RecordOverride()
		m.RecordParseFallback()
		m.RecordRateLimitRetry()
		m.RunStarted()
		m.RunEnded()
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}
