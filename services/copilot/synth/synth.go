// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth writes the final answer and explanation from the collected
// evidence, and computes citations without the model.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/llm"
)

// ErrNilClient is returned by New when no backend is supplied.
var ErrNilClient = errors.New("llm client must not be nil")

// MaxPromptRows caps how many result rows are shown to the model.
const MaxPromptRows = 50

const answerPromptTemplate = `Answer the question from the evidence below.
- If the answer is stated explicitly in the context, take it from the context.
- If it has to be computed, use the SQL result.
- The final_answer must match this format: {{.FormatHint}}

Respond with strict JSON only, no markdown:
{"explanation": "<at most two sentences>", "final_answer": <value in the requested format>}

Question: {{.Question}}
{{if .PassageText}}
Context:
{{.PassageText}}
{{end}}{{if .Query}}
SQL: {{.Query}}
{{if .QueryError}}SQL Error: {{.QueryError}}
{{else}}SQL Result ({{.RowCount}} rows{{if .Truncated}}, first {{.Shown}} shown{{end}}): {{.RowsJSON}}
{{end}}{{end}}`

// Input is the evidence for one answer.
type Input struct {
	Question    string
	PassageText string
	Query       string
	QueryError  string
	Rows        []datatypes.Row
	FormatHint  string
}

// Answer is the parsed model reply.
type Answer struct {
	FinalAnswer any
	Explanation string

	// ParseFallback is true when the reply could not be parsed and the
	// fallback answer was used.
	ParseFallback bool
}

// Synthesizer produces answers with one backend call.
//
// Thread Safety: Safe for concurrent use.
type Synthesizer struct {
	client llm.LLMClient
	tmpl   *template.Template
}

// New builds a synthesizer.
func New(client llm.LLMClient) (*Synthesizer, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	tmpl, err := template.New("answer").Parse(answerPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile answer prompt: %w", err)
	}
	return &Synthesizer{client: client, tmpl: tmpl}, nil
}

// Synthesize asks the model for an answer. Unparseable replies yield the
// fallback answer, not an error; backend failures are returned.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (Answer, error) {
	ctx, span := otel.Tracer("copilot.synth").Start(ctx, "Synthesizer.Synthesize")
	defer span.End()

	prompt, err := s.render(in)
	if err != nil {
		return Answer{}, err
	}

	raw, err := s.client.Generate(ctx, prompt, llm.Deterministic())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Answer{}, fmt.Errorf("synthesize answer: %w", err)
	}

	answer, ok := Parse(raw)
	if !ok {
		slog.Warn("Could not parse answer, using fallback", "raw_length", len(raw))
	}
	span.SetAttributes(attribute.Bool("parse_fallback", answer.ParseFallback))
	return answer, nil
}

func (s *Synthesizer) render(in Input) (string, error) {
	hint := in.FormatHint
	if hint == "" {
		hint = "str"
	}
	shown := in.Rows
	if len(shown) > MaxPromptRows {
		shown = shown[:MaxPromptRows]
	}
	if shown == nil {
		shown = []datatypes.Row{}
	}
	rowsJSON, err := json.Marshal(shown)
	if err != nil {
		return "", fmt.Errorf("encode rows: %w", err)
	}

	data := struct {
		Input
		FormatHint string
		RowCount   int
		Shown      int
		Truncated  bool
		RowsJSON   string
	}{
		Input:      in,
		FormatHint: hint,
		RowCount:   len(in.Rows),
		Shown:      len(shown),
		Truncated:  len(shown) < len(in.Rows),
		RowsJSON:   string(rowsJSON),
	}

	var buf bytes.Buffer
	if err := s.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render answer prompt: %w", err)
	}
	return buf.String(), nil
}
