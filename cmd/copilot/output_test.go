// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

func sampleResponse() datatypes.AskResponse {
	return datatypes.AskResponse{
		RunID:          "run-7",
		Classification: datatypes.RouteHybrid,
		FinalAnswer:    map[string]any{"category": "Beverages", "quantity": 120.0},
		Explanation:    "Top category by quantity during Summer Beverages 1997.",
		Citations:      []string{"marketing_calendar.md::chunk0", "Orders", "Order Details"},
		SQL:            "SELECT c.CategoryName AS category, SUM(od.Quantity) AS quantity FROM ...",
		Attempts:       1,
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"Beverages", "Beverages"},
		{14, "14"},
		{42.5, "42.5"},
		{[]any{"a", "b"}, `["a","b"]`},
		{map[string]any{"customer": "ALFKI", "margin": 1.5}, `{"customer":"ALFKI","margin":1.5}`},
		{nil, "null"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatValue(tt.in))
	}
}

func TestRenderAnswer_Plain(t *testing.T) {
	out := renderAnswer(sampleResponse(), false)

	assert.Contains(t, out, `Answer: {"category":"Beverages","quantity":120}`)
	assert.Contains(t, out, "Explanation: Top category by quantity")
	assert.Contains(t, out, "SQL: SELECT c.CategoryName")
	assert.Contains(t, out, "Citations: marketing_calendar.md::chunk0, Orders, Order Details")
	assert.Contains(t, out, "route=hybrid attempts=1 run=run-7")
	assert.NotContains(t, out, "SQL error")
}

func TestRenderAnswer_PlainWithError(t *testing.T) {
	resp := sampleResponse()
	resp.SQLError = "no such column: o.ProductID"
	resp.FinalAnswer = "Unable to determine answer"

	out := renderAnswer(resp, false)
	assert.Contains(t, out, "Answer: Unable to determine answer")
	assert.Contains(t, out, "SQL error: no such column: o.ProductID")
}

func TestRenderAnswer_Styled(t *testing.T) {
	resp := sampleResponse()
	resp.SQLError = "no such table: OrderDetail"
	out := renderAnswer(resp, true)

	assert.Contains(t, out, "Beverages")
	assert.Contains(t, out, "• Order Details")
	assert.Contains(t, out, "no such table: OrderDetail")
	assert.Contains(t, out, "run=run-7")
}

func TestResolveQuestion(t *testing.T) {
	noPrompt := func(string) (string, string, error) {
		t.Fatal("prompt should not be called")
		return "", "", nil
	}

	q, f, err := resolveQuestion([]string{"Top", "3", "products?"}, "list[str]", true, noPrompt)
	require.NoError(t, err)
	assert.Equal(t, "Top 3 products?", q)
	assert.Equal(t, "list[str]", f)

	_, _, err = resolveQuestion(nil, "str", false, noPrompt)
	assert.ErrorIs(t, err, errNoQuestion)

	prompted := func(format string) (string, string, error) {
		assert.Equal(t, "int", format)
		return "Revenue in 1997?", "float", nil
	}
	q, f, err = resolveQuestion([]string{"  "}, "int", true, prompted)
	require.NoError(t, err)
	assert.Equal(t, "Revenue in 1997?", q)
	assert.Equal(t, "float", f)

	boom := errors.New("user aborted")
	_, _, err = resolveQuestion(nil, "str", true, func(string) (string, string, error) { return "", "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestRootCommand_Registers(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"batch", "ask", "serve", "schema"} {
		assert.True(t, names[want], "missing command %s", want)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, batchCmd.Flags().Lookup("batch"))
	assert.NotNil(t, batchCmd.Flags().Lookup("out"))
	assert.Equal(t, "str", askCmd.Flags().Lookup("format").DefValue)
}
