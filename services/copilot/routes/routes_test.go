// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopRunner struct{}

func (nopRunner) Run(ctx context.Context, question, formatHint string) (*datatypes.RunState, error) {
	return &datatypes.RunState{RunID: "r", Classification: datatypes.RouteRAG}, nil
}

type nopSchema struct{}

func (nopSchema) Schema(ctx context.Context) string { return "Table: Orders" }

func (nopSchema) KnownTables() []datatypes.TableRef { return nil }

func (nopSchema) Search(string, int) []datatypes.Passage { return nil }

func services(metrics http.Handler) Services {
	return Services{Runner: nopRunner{}, Schema: nopSchema{}, Search: nopSchema{}, Metrics: metrics}
}

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, services(nil))

	want := map[string]bool{
		"GET /health":      false,
		"GET /metrics":     false,
		"POST /v1/ask":     false,
		"GET /v1/schema":   false,
		"GET /v1/passages": false,
	}
	for _, r := range router.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		assert.True(t, found, "route %s not registered", route)
	}
}

func TestNewRouter_ServesMetricsFromRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.RecordRun("sql", observability.OutcomeAnswered)

	router := NewRouter("copilot-test", services(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `copilot_graph_runs_total{outcome="answered",route="sql"} 1`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestNewRouter_UnknownRoute(t *testing.T) {
	router := NewRouter("copilot-test", services(nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
