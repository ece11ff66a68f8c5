// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/llm/llmtest"
)

func TestExtractRequirements(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"marker", "The campaign ran in June.\nRequirements: OrderDate BETWEEN '1997-06-01' AND '1997-06-30'", "OrderDate BETWEEN '1997-06-01' AND '1997-06-30'"},
		{"no marker", "  dates 1997-06-01 to 1997-06-30 \n", "dates 1997-06-01 to 1997-06-30"},
		{"last marker wins", "Requirements: draft\nRequirements: final", "final"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractRequirements(tt.in))
		})
	}
}

func TestPlan(t *testing.T) {
	mock := &llmtest.MockLLMClient{}
	mock.On("Summer Beverages", "Analysis: summer campaign.\nRequirements: dates 1997-06-01 to 1997-06-30; category Beverages")
	p, err := New(mock)
	require.NoError(t, err)

	got, err := p.Plan(context.Background(), []datatypes.Passage{
		{ID: "marketing_calendar.md::chunk0", Text: "Source: marketing calendar\nContent: # Summer Beverages 1997"},
		{ID: "product_policy.md::chunk1", Text: "Source: product policy\nContent: returns"},
	}, "Revenue from Beverages during Summer Beverages 1997?")
	require.NoError(t, err)
	assert.Equal(t, "dates 1997-06-01 to 1997-06-30; category Beverages", got)

	require.Equal(t, 1, mock.CallCount())
	prompt := mock.Calls[0].Prompt
	assert.Contains(t, prompt, "Source: marketing calendar\nContent: # Summer Beverages 1997\nSource: product policy")
	assert.Contains(t, prompt, "Question: Revenue from Beverages during Summer Beverages 1997?")
}

func TestPlan_BackendError(t *testing.T) {
	boom := errors.New("timeout")
	mock := &llmtest.MockLLMClient{}
	mock.OnError("Question:", boom)
	p, err := New(mock)
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), nil, "anything")
	assert.ErrorIs(t, err, boom)
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilClient)
}
