// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classifier routes a question to the sql, rag or hybrid strategy.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/llm"
)

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrNilClient is returned by New when no backend is supplied.
	ErrNilClient = errors.New("llm client must not be nil")
)

const routePromptTemplate = `Classify the user question into exactly one of three categories:
- sql: answered from the Northwind database alone (sales numbers, orders, products, customers) and names every id, product or date it needs explicitly.
- rag: answered from the text documents alone (return policies, marketing calendars, KPI definitions, product catalog notes).
- hybrid: needs both, typically because a textual reference such as a named campaign, season or KPI must be turned into dates, categories or formulas before querying the data (e.g. "sales during Summer Beverages 1997").

Question: {{.Question}}

Respond with one word: sql, rag or hybrid.`

// Result is a classification with the details behind it.
type Result struct {
	Route datatypes.Route

	// Raw is the backend output before normalization.
	Raw string

	// Defaulted is true when Raw was not a known label and the route fell
	// back to hybrid.
	Defaulted bool

	// Overridden is true when the keyword table upgraded sql to hybrid.
	Overridden bool
}

// Classifier asks the backend for a route and applies the keyword override.
//
// Thread Safety: Safe for concurrent use. Identical in-flight questions
// share one backend call.
type Classifier struct {
	client    llm.LLMClient
	tmpl      *template.Template
	overrides *OverrideTable
	inflight  singleflight.Group
}

// New builds a classifier. A nil overrides table disables the override.
func New(client llm.LLMClient, overrides *OverrideTable) (*Classifier, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	tmpl, err := template.New("route").Parse(routePromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile route prompt: %w", err)
	}
	if overrides == nil {
		overrides = NewOverrideTable(nil)
	}
	return &Classifier{client: client, tmpl: tmpl, overrides: overrides}, nil
}

// Classify returns the route for question.
func (c *Classifier) Classify(ctx context.Context, question string) (datatypes.Route, error) {
	res, err := c.ClassifyDetailed(ctx, question)
	if err != nil {
		return "", err
	}
	return res.Route, nil
}

// ClassifyDetailed classifies question and reports how the route was reached.
//
// # Description
//
// The backend's answer is normalized and checked against the three labels;
// anything else becomes hybrid, the route that runs every step. The override
// table is applied afterwards and can only turn sql into hybrid.
//
// # Outputs
//
//   - Result: Route is always one of the three labels when error is nil.
//   - error: ErrEmptyQuestion for blank input, or the wrapped backend error.
//     Backend failures are not masked because the batch driver decides
//     whether to retry them.
func (c *Classifier) ClassifyDetailed(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, ErrEmptyQuestion
	}

	ctx, span := otel.Tracer("copilot.classifier").Start(ctx, "Classifier.Classify",
		trace.WithAttributes(attribute.Int("question_length", len(question))),
	)
	defer span.End()

	// The shared call must outlive any single caller; each caller still
	// stops waiting when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.inflight.DoChan(question, func() (interface{}, error) {
		return c.classify(flightCtx, question)
	})
	var out singleflight.Result
	select {
	case out = <-ch:
	case <-ctx.Done():
		out = singleflight.Result{Err: ctx.Err()}
	}
	if out.Err != nil {
		span.RecordError(out.Err)
		span.SetStatus(codes.Error, out.Err.Error())
		return Result{}, out.Err
	}
	res := out.Val.(Result)
	shared := out.Shared
	span.SetAttributes(
		attribute.String("route", res.Route.String()),
		attribute.Bool("defaulted", res.Defaulted),
		attribute.Bool("overridden", res.Overridden),
		attribute.Bool("coalesced", shared),
	)
	return res, nil
}

func (c *Classifier) classify(ctx context.Context, question string) (Result, error) {
	var prompt bytes.Buffer
	if err := c.tmpl.Execute(&prompt, struct{ Question string }{question}); err != nil {
		return Result{}, fmt.Errorf("render route prompt: %w", err)
	}

	raw, err := c.client.Generate(ctx, prompt.String(), llm.Deterministic())
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}

	res := Result{Raw: raw}
	route, ok := NormalizeLabel(raw)
	if !ok {
		slog.Debug("Unrecognized classification, using hybrid", "raw", raw)
		route = datatypes.RouteHybrid
		res.Defaulted = true
	}
	if upgraded, fired := c.overrides.Apply(route, question); fired {
		term, _ := c.overrides.Match(question)
		slog.Info("Classification override", "from", route, "to", upgraded, "term", term)
		route = upgraded
		res.Overridden = true
	}
	res.Route = route
	return res, nil
}

// labelPrefixes are dropped from the start of a backend answer.
var labelPrefixes = []string{"classification:", "category:", "route:", "answer:"}

// NormalizeLabel folds a backend answer into a route label. It accepts the
// bare label with any case, whitespace, quoting or trailing punctuation, an
// optional "classification:"-style prefix, and answers whose first word is
// the label. The second result is false for anything else.
func NormalizeLabel(raw string) (datatypes.Route, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range labelPrefixes {
		s = strings.TrimSpace(strings.TrimPrefix(s, p))
	}
	s = strings.Trim(s, " \t\r\n\"'`.,;:!*")
	if r, ok := datatypes.ParseRoute(s); ok {
		return r, true
	}
	if fields := strings.Fields(s); len(fields) > 0 {
		return datatypes.ParseRoute(strings.Trim(fields[0], "\"'`.,;:!*"))
	}
	return "", false
}
