// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmtest provides a scripted llm.LLMClient for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/AleutianAI/RetailCopilot/services/llm"
)

// Call records one request made against MockLLMClient.
type Call struct {
	Method   string
	Prompt   string
	Messages []llm.Message
}

// Text returns every message body of the call joined together, which is
// what scripted rules match against.
func (c Call) Text() string {
	if c.Method == "generate" {
		return c.Prompt
	}
	parts := make([]string, 0, len(c.Messages))
	for _, m := range c.Messages {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}

// Rule answers calls whose text contains Match. Responses are consumed in
// order; the last one repeats once the list is exhausted.
type Rule struct {
	Match     string
	Responses []string
	Err       error
	served    int
}

// MockLLMClient is a scripted LLM backend.
//
// Calls are matched against Rules in declaration order; the first rule whose
// Match substring occurs in the call text answers. Unmatched calls return
// Default. Safe for concurrent use.
type MockLLMClient struct {
	mu      sync.Mutex
	Rules   []*Rule
	Default string
	Calls   []Call
}

// On appends a rule and returns the mock for chaining.
func (m *MockLLMClient) On(match string, responses ...string) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rules = append(m.Rules, &Rule{Match: match, Responses: responses})
	return m
}

// OnError appends a rule that fails every matching call with err.
func (m *MockLLMClient) OnError(match string, err error) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rules = append(m.Rules, &Rule{Match: match, Err: err})
	return m
}

func (m *MockLLMClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return m.answer(Call{Method: "generate", Prompt: prompt})
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	copied := append([]llm.Message(nil), messages...)
	return m.answer(Call{Method: "chat", Messages: copied})
}

func (m *MockLLMClient) answer(call Call) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
	text := call.Text()
	for _, r := range m.Rules {
		if !strings.Contains(text, r.Match) {
			continue
		}
		if r.Err != nil {
			return "", r.Err
		}
		if len(r.Responses) == 0 {
			return "", nil
		}
		i := r.served
		if i >= len(r.Responses) {
			i = len(r.Responses) - 1
		}
		r.served++
		return r.Responses[i], nil
	}
	return m.Default, nil
}

// CallsMatching returns the recorded calls whose text contains substr.
func (m *MockLLMClient) CallsMatching(substr string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.Calls {
		if strings.Contains(c.Text(), substr) {
			out = append(out, c)
		}
	}
	return out
}

// CallCount returns the number of calls made so far.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
