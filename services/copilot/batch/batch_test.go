// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/observability"
	"github.com/AleutianAI/RetailCopilot/services/llm"
	"github.com/AleutianAI/RetailCopilot/services/llm/llmtest"
)

// =============================================================================
// Processor
// =============================================================================

// fakeRunner answers from a table keyed by question.
type fakeRunner struct {
	states map[string]*datatypes.RunState
	errs   map[string]error
	asked  []string
}

func (f *fakeRunner) Run(ctx context.Context, question, formatHint string) (*datatypes.RunState, error) {
	f.asked = append(f.asked, question)
	if err := f.errs[question]; err != nil {
		return nil, err
	}
	s := *f.states[question]
	s.Question = question
	s.FormatHint = formatHint
	return &s, nil
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(out), "\n") {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m), "line %q", l)
		lines = append(lines, m)
	}
	return lines
}

func TestProcess(t *testing.T) {
	runner := &fakeRunner{
		states: map[string]*datatypes.RunState{
			"What is the return window for beverages?": {
				Classification: datatypes.RouteRAG,
				Passages:       []datatypes.Passage{{ID: "product_policy.md::chunk1"}},
				FinalAnswer:    "14",
				Explanation:    "Beverages may be returned within 14 days.",
				Citations:      []string{"product_policy.md::chunk1"},
			},
			"Revenue in 1997?": {
				Classification: datatypes.RouteSQL,
				Query:          "SELECT SUM(UnitPrice*Quantity) AS revenue FROM order_details",
				Rows:           []datatypes.Row{{"revenue": 42.0}},
				RepairState:    datatypes.RepairSucceeded,
				FinalAnswer:    "Answer: 42.0",
				Explanation:    "Summed order lines.",
				Citations:      []string{"Order Details"},
			},
		},
		errs: map[string]error{"Broken?": errors.New("step classify: backend down")},
	}
	p, err := NewProcessor(runner)
	require.NoError(t, err)

	in := strings.Join([]string{
		`{"id":"rag_policy","question":"What is the return window for beverages?","format_hint":"int"}`,
		``,
		`{"id":"sql_revenue","question":"Revenue in 1997?","format_hint":"float"}`,
		`{"id":"broken","question":"Broken?","format_hint":"str"}`,
		`{"id":"no_question"}`,
		`not json`,
		`{"id":"typed","question":7}`,
	}, "\n")

	var out bytes.Buffer
	sum, err := p.Process(context.Background(), strings.NewReader(in), &out)
	require.NoError(t, err)
	assert.Equal(t, 6, sum.Total)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 4, sum.Failed)

	lines := decodeLines(t, out.String())
	require.Len(t, lines, 6)

	assert.Equal(t, "rag_policy", lines[0]["id"])
	assert.Equal(t, 14.0, lines[0]["final_answer"])
	assert.Equal(t, 0.8, lines[0]["confidence"])
	assert.Equal(t, "", lines[0]["sql"])
	assert.Equal(t, []any{"product_policy.md::chunk1"}, lines[0]["citations"])

	assert.Equal(t, "sql_revenue", lines[1]["id"])
	assert.Equal(t, 42.0, lines[1]["final_answer"])
	assert.Equal(t, 0.9, lines[1]["confidence"])
	assert.Contains(t, lines[1]["sql"], "order_details")

	assert.Equal(t, map[string]any{"id": "broken", "error": "step classify: backend down"}, lines[2])

	assert.Equal(t, "no_question", lines[3]["id"])
	assert.Contains(t, lines[3]["error"], "Question")

	assert.Equal(t, "", lines[4]["id"])
	assert.Contains(t, lines[4]["error"], "invalid record")

	assert.Equal(t, "typed", lines[5]["id"])
	assert.Contains(t, lines[5]["error"], "invalid record")

	assert.Equal(t, []string{
		"What is the return window for beverages?", "Revenue in 1997?", "Broken?",
	}, runner.asked)
}

func TestProcess_CancelledContext(t *testing.T) {
	runner := &fakeRunner{states: map[string]*datatypes.RunState{"q": {}}}
	p, err := NewProcessor(runner)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	_, err = p.Process(ctx, strings.NewReader(`{"id":"a","question":"q"}`), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, runner.asked)
	assert.Zero(t, out.Len())
}

func TestNewProcessor_NilRunner(t *testing.T) {
	_, err := NewProcessor(nil)
	assert.ErrorIs(t, err, ErrNilRunner)
}

func TestNewResult_NilCitations(t *testing.T) {
	res := NewResult("x", &datatypes.RunState{Classification: datatypes.RouteRAG})
	assert.NotNil(t, res.Citations)
	assert.Empty(t, res.Citations)
}

func TestNewResult_NullAnswerIsWritten(t *testing.T) {
	res := NewResult("null_answer", &datatypes.RunState{
		Classification: datatypes.RouteSQL,
		FormatHint:     "int",
		Explanation:    "No value was returned.",
	})

	line, err := json.Marshal(res)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(line, &m))
	v, present := m["final_answer"]
	assert.True(t, present, "final_answer missing from %s", line)
	assert.Nil(t, v)
	assert.Contains(t, string(line), `"final_answer":null`)
}

// =============================================================================
// Confidence
// =============================================================================

func TestConfidence(t *testing.T) {
	tests := []struct {
		name  string
		state datatypes.RunState
		want  float64
	}{
		{"rag with passages", datatypes.RunState{Classification: datatypes.RouteRAG, Passages: []datatypes.Passage{{ID: "a"}}}, 0.8},
		{"rag without passages", datatypes.RunState{Classification: datatypes.RouteRAG}, 0.3},
		{"sql with rows", datatypes.RunState{Classification: datatypes.RouteSQL, Rows: []datatypes.Row{{"n": 1}}}, 0.9},
		{"hybrid empty result", datatypes.RunState{Classification: datatypes.RouteHybrid, Rows: []datatypes.Row{}}, 0.6},
		{"one repair", datatypes.RunState{Classification: datatypes.RouteSQL, Rows: []datatypes.Row{{"n": 1}}, AttemptCount: 1}, 0.8},
		{"exhausted", datatypes.RunState{
			Classification: datatypes.RouteSQL, QueryError: "no such table: x",
			AttemptCount: 2, RepairState: datatypes.RepairExhausted,
		}, 0.1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(&tt.state), 1e-9)
		})
	}
}

// =============================================================================
// RateLimitGuard
// =============================================================================

// flakyClient fails its first failures calls with err.
type flakyClient struct {
	err      error
	failures int
	calls    int
}

func (f *flakyClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	f.calls++
	if f.calls <= f.failures {
		return "", f.err
	}
	return "ok:" + prompt, nil
}

func (f *flakyClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return f.Generate(ctx, messages[len(messages)-1].Content, params)
}

func recordSleeps(g *RateLimitGuard) *[]time.Duration {
	var slept []time.Duration
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return &slept
}

func TestIsRateLimited(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("openai: 429 Too Many Requests"), true},
		{errors.New("Rate limit reached for requests"), true},
		{errors.New("anthropic: rate_limit_error"), true},
		{errors.New("You exceeded your current quota"), true},
		{errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRateLimited(tt.err), "%v", tt.err)
	}
}

func TestRateLimitGuard_RetriesThenSucceeds(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	inner := &flakyClient{err: errors.New("429 too many requests"), failures: 2}

	g := NewRateLimitGuard(inner, GuardConfig{Sleep: 5 * time.Second, Retries: 3}, metrics)
	slept := recordSleeps(g)

	out, err := g.Generate(context.Background(), "hello", llm.Deterministic())
	require.NoError(t, err)
	assert.Equal(t, "ok:hello", out)
	assert.Equal(t, 3, inner.calls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, *slept)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.RateLimitRetriesTotal))
}

func TestRateLimitGuard_GivesUp(t *testing.T) {
	inner := &flakyClient{err: errors.New("rate limit exceeded"), failures: 100}
	g := NewRateLimitGuard(inner, GuardConfig{Retries: 3}, nil)
	slept := recordSleeps(g)

	_, err := g.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "q"}}, llm.Deterministic())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
	assert.Equal(t, 4, inner.calls)
	assert.Len(t, *slept, 3)
	assert.Equal(t, DefaultRateLimitSleep, (*slept)[0])
}

func TestRateLimitGuard_OtherErrorsPassThrough(t *testing.T) {
	boom := errors.New("connection refused")
	mock := (&llmtest.MockLLMClient{}).OnError("", boom)
	g := NewRateLimitGuard(mock, GuardConfig{}, nil)
	slept := recordSleeps(g)

	_, err := g.Generate(context.Background(), "q", llm.Deterministic())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, mock.CallCount())
	assert.Empty(t, *slept)
}

func TestRateLimitGuard_CancelDuringSleep(t *testing.T) {
	inner := &flakyClient{err: errors.New("429"), failures: 100}
	g := NewRateLimitGuard(inner, GuardConfig{Sleep: time.Hour, Retries: 3}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, "q", llm.Deterministic())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, inner.calls)
}

func TestRateLimitGuard_Pacing(t *testing.T) {
	mock := &llmtest.MockLLMClient{Default: "ok"}
	g := NewRateLimitGuard(mock, GuardConfig{RequestsPerSecond: 1000}, nil)
	require.NotNil(t, g.limiter)

	for i := 0; i < 3; i++ {
		out, err := g.Generate(context.Background(), "q", llm.Deterministic())
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	}
	assert.Equal(t, 3, mock.CallCount())

	assert.Nil(t, NewRateLimitGuard(mock, GuardConfig{}, nil).limiter)
}
