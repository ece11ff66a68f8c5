// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/llm"
	"github.com/AleutianAI/RetailCopilot/services/llm/llmtest"
)

func newClassifier(t *testing.T, mock *llmtest.MockLLMClient) *Classifier {
	t.Helper()
	c, err := New(mock, NewOverrideTable(DefaultOverrideTerms()))
	require.NoError(t, err)
	return c
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, nil)
	assert.ErrorIs(t, err, ErrNilClient)
}

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		raw    string
		want   datatypes.Route
		wantOK bool
	}{
		{"sql", datatypes.RouteSQL, true},
		{"  RAG \n", datatypes.RouteRAG, true},
		{`"hybrid"`, datatypes.RouteHybrid, true},
		{"Classification: SQL", datatypes.RouteSQL, true},
		{"rag.", datatypes.RouteRAG, true},
		{"`sql`", datatypes.RouteSQL, true},
		{"hybrid - the question needs both", datatypes.RouteHybrid, true},
		{"database", "", false},
		{"", "", false},
		{"I think this is sql", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := NormalizeLabel(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverrideTable(t *testing.T) {
	table := NewOverrideTable(DefaultOverrideTerms())

	tests := []struct {
		name     string
		route    datatypes.Route
		question string
		want     datatypes.Route
		fired    bool
	}{
		{"policy upgrades sql", datatypes.RouteSQL, "Top products under the return policy?", datatypes.RouteHybrid, true},
		{"case insensitive", datatypes.RouteSQL, "What was AOV in 1997?", datatypes.RouteHybrid, true},
		{"multi word term", datatypes.RouteSQL, "Average Order Value for ALFKI", datatypes.RouteHybrid, true},
		{"word bounded", datatypes.RouteSQL, "List kpis by policyholder", datatypes.RouteSQL, false},
		{"no term", datatypes.RouteSQL, "Total revenue in 1997", datatypes.RouteSQL, false},
		{"rag untouched", datatypes.RouteRAG, "What is the return policy?", datatypes.RouteRAG, false},
		{"hybrid untouched", datatypes.RouteHybrid, "Summer sales", datatypes.RouteHybrid, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fired := table.Apply(tt.route, tt.question)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fired, fired)
		})
	}

	empty := NewOverrideTable([]string{"", "  "})
	_, fired := empty.Apply(datatypes.RouteSQL, "return policy")
	assert.False(t, fired)
	assert.Empty(t, empty.Terms())
}

func TestOverrideTable_MatchPrefersLongestTerm(t *testing.T) {
	table := NewOverrideTable([]string{"order", "average order value"})
	term, ok := table.Match("what is the average order value")
	require.True(t, ok)
	assert.Equal(t, "average order value", term)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		question   string
		reply      string
		want       datatypes.Route
		defaulted  bool
		overridden bool
	}{
		{"plain sql", "Total revenue from order 10250?", "sql", datatypes.RouteSQL, false, false},
		{"rag", "What is the return policy for beverages?", "rag", datatypes.RouteRAG, false, false},
		{"override", "Revenue during Summer Beverages 1997?", "SQL", datatypes.RouteHybrid, false, true},
		{"unknown label", "Top customer?", "database", datatypes.RouteHybrid, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &llmtest.MockLLMClient{}
			mock.On("Question:", tt.reply)
			c := newClassifier(t, mock)

			res, err := c.ClassifyDetailed(context.Background(), tt.question)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Route)
			assert.Equal(t, tt.defaulted, res.Defaulted)
			assert.Equal(t, tt.overridden, res.Overridden)
			assert.Equal(t, tt.reply, res.Raw)

			require.Equal(t, 1, mock.CallCount())
			assert.Contains(t, mock.Calls[0].Prompt, tt.question)
		})
	}
}

func TestClassify_EmptyQuestion(t *testing.T) {
	mock := &llmtest.MockLLMClient{Default: "sql"}
	c := newClassifier(t, mock)

	_, err := c.Classify(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	assert.Zero(t, mock.CallCount())
}

func TestClassify_BackendErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	mock := &llmtest.MockLLMClient{}
	mock.OnError("Question:", boom)
	c := newClassifier(t, mock)

	_, err := c.Classify(context.Background(), "Total revenue?")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestClassify_NilOverridesDisablesUpgrade(t *testing.T) {
	mock := &llmtest.MockLLMClient{Default: "sql"}
	c, err := New(mock, nil)
	require.NoError(t, err)

	route, err := c.Classify(context.Background(), "What is the return policy?")
	require.NoError(t, err)
	assert.Equal(t, datatypes.RouteSQL, route)
}

// gatedClient blocks every Generate call until release is closed or the
// call's context ends.
type gatedClient struct {
	calls   atomic.Int32
	entered chan struct{}
	once    sync.Once
	release chan struct{}
}

func (g *gatedClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
		return "sql", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (g *gatedClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return "", errors.New("not used")
}

func TestClassify_CancelledCallerDoesNotFailSharedCall(t *testing.T) {
	client := &gatedClient{entered: make(chan struct{}), release: make(chan struct{})}
	c, err := New(client, nil)
	require.NoError(t, err)

	question := "Total revenue from order 10250?"
	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Classify(firstCtx, question)
		firstErr <- err
	}()
	<-client.entered

	type outcome struct {
		route datatypes.Route
		err   error
	}
	second := make(chan outcome, 1)
	go func() {
		route, err := c.Classify(context.Background(), question)
		second <- outcome{route, err}
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(client.release)
	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, datatypes.RouteSQL, got.route)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), client.calls.Load())
}
