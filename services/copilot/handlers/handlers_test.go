// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/graph"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct {
	state *datatypes.RunState
	err   error
	got   []string
}

func (s *stubRunner) Run(ctx context.Context, question, formatHint string) (*datatypes.RunState, error) {
	s.got = append(s.got, question, formatHint)
	return s.state, s.err
}

type stubSchema struct{}

func (stubSchema) Schema(ctx context.Context) string {
	return "Table: Orders\n  OrderID INTEGER\n  OrderDate DATETIME"
}

func (stubSchema) KnownTables() []datatypes.TableRef {
	return []datatypes.TableRef{{Name: "Orders"}, {Name: "Order Details", Aliases: []string{"order_details"}}}
}

type stubSearcher struct{ k int }

func (s *stubSearcher) Search(query string, k int) []datatypes.Passage {
	s.k = k
	return []datatypes.Passage{{ID: "product_policy.md::chunk0", Text: "product policy: returns", Source: "product_policy.md"}}
}

func postAsk(t *testing.T, runner Runner, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.POST("/v1/ask", HandleAsk(runner))
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleAsk_Success(t *testing.T) {
	runner := &stubRunner{state: &datatypes.RunState{
		RunID:          "run-1",
		FormatHint:     "int",
		Classification: datatypes.RouteHybrid,
		Query:          "SELECT COUNT(*) AS n FROM Orders",
		Rows:           []datatypes.Row{{"n": 42}},
		FinalAnswer:    "42",
		Explanation:    "Counted orders in the campaign window.",
		Citations:      []string{"marketing_calendar.md::chunk0", "Orders"},
		AttemptCount:   1,
		Steps:          []string{"classify", "retrieve", "plan", "generate_sql", "execute_sql", "synthesize"},
	}}

	w := postAsk(t, runner, `{"question":"How many orders during Summer Beverages 1997?","format_hint":"int"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.AskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, datatypes.RouteHybrid, resp.Classification)
	assert.Equal(t, 42.0, resp.FinalAnswer)
	assert.Equal(t, []string{"marketing_calendar.md::chunk0", "Orders"}, resp.Citations)
	assert.Equal(t, 1, resp.Attempts)
	assert.Len(t, resp.Steps, 6)
	assert.Equal(t, []string{"How many orders during Summer Beverages 1997?", "int"}, runner.got)
}

func TestHandleAsk_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"question":`},
		{"missing question", `{"format_hint":"int"}`},
		{"empty question", `{"question":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &stubRunner{}
			w := postAsk(t, runner, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "invalid request body")
			assert.Empty(t, runner.got)
		})
	}
}

func TestHandleAsk_BlankQuestion(t *testing.T) {
	w := postAsk(t, &stubRunner{err: graph.ErrEmptyQuestion}, `{"question":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), graph.ErrEmptyQuestion.Error())
}

func TestHandleAsk_RunFailure(t *testing.T) {
	runner := &stubRunner{
		state: &datatypes.RunState{RunID: "run-9"},
		err:   fmt.Errorf("step classify: %w", errors.New("ollama: connection refused")),
	}
	w := postAsk(t, runner, `{"question":"Top products?"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-9", body["run_id"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestHandleSchema(t *testing.T) {
	router := gin.New()
	router.GET("/v1/schema", HandleSchema(stubSchema{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/schema", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Schema string   `json:"schema"`
		Tables []string `json:"tables"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body.Schema, "Table: Orders")
	assert.Equal(t, []string{"Orders", "Order Details"}, body.Tables)
}

func TestHandleSearch(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantCode int
		wantK    int
	}{
		{"default k", "/v1/passages?q=returns", http.StatusOK, 3},
		{"explicit k", "/v1/passages?q=returns&k=5", http.StatusOK, 5},
		{"missing q", "/v1/passages", http.StatusBadRequest, 0},
		{"k too large", "/v1/passages?q=returns&k=99", http.StatusBadRequest, 0},
		{"k not a number", "/v1/passages?q=returns&k=x", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &stubSearcher{}
			router := gin.New()
			router.GET("/v1/passages", HandleSearch(searcher))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantK, searcher.k)
			if tt.wantCode == http.StatusOK {
				assert.Contains(t, w.Body.String(), "product_policy.md::chunk0")
			}
		})
	}
}
