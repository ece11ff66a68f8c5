// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner turns retrieved passages into concrete query constraints
// (date ranges, category lists, KPI formulas) for hybrid questions.
package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/llm"
)

// ErrNilClient is returned by New when no backend is supplied.
var ErrNilClient = errors.New("llm client must not be nil")

// requirementsMarker separates the model's reasoning from the constraints.
const requirementsMarker = "Requirements:"

const planPromptTemplate = `You are preparing constraints for a SQL query over the Northwind database.
Use the context to resolve every textual reference in the question into concrete values:
- campaign or season names into date ranges (YYYY-MM-DD to YYYY-MM-DD)
- category references into exact category names
- KPI names into formulas over the Orders and Order Details tables

Context:
{{.Context}}

Question: {{.Question}}

Write a short analysis, then a line starting with "Requirements:" followed by the constraints.`

// Planner extracts constraints with one backend call.
type Planner struct {
	client llm.LLMClient
	tmpl   *template.Template
}

// New builds a planner.
func New(client llm.LLMClient) (*Planner, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	tmpl, err := template.New("plan").Parse(planPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile plan prompt: %w", err)
	}
	return &Planner{client: client, tmpl: tmpl}, nil
}

// Plan returns the constraint text for question given the passages.
//
// The output is not validated. When the model writes a "Requirements:"
// section only the text after it is kept, otherwise the whole trimmed reply.
func (p *Planner) Plan(ctx context.Context, passages []datatypes.Passage, question string) (string, error) {
	ctx, span := otel.Tracer("copilot.planner").Start(ctx, "Planner.Plan")
	defer span.End()
	span.SetAttributes(attribute.Int("passages", len(passages)))

	texts := make([]string, len(passages))
	for i, ps := range passages {
		texts[i] = ps.Text
	}

	var prompt bytes.Buffer
	err := p.tmpl.Execute(&prompt, struct{ Context, Question string }{
		Context:  strings.Join(texts, "\n"),
		Question: question,
	})
	if err != nil {
		return "", fmt.Errorf("render plan prompt: %w", err)
	}

	out, err := p.client.Generate(ctx, prompt.String(), llm.Deterministic())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("plan: %w", err)
	}
	return ExtractRequirements(out), nil
}

// ExtractRequirements returns the text after the last "Requirements:"
// marker, or the whole trimmed text when there is none.
func ExtractRequirements(out string) string {
	if i := strings.LastIndex(out, requirementsMarker); i >= 0 {
		return strings.TrimSpace(out[i+len(requirementsMarker):])
	}
	return strings.TrimSpace(out)
}
