// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlgen generates SQLite queries with the model and cleans them up
// with a fixed, ordered set of text rewrites.
package sqlgen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/RetailCopilot/services/llm"
)

// ErrNilClient is returned by New when no backend is supplied.
var ErrNilClient = errors.New("llm client must not be nil")

// SystemPrompt carries the SQLite conventions every generated query follows.
const SystemPrompt = `You write SQLite queries for the Northwind database.
Rules:
- Return only the SQL query, no prose and no markdown.
- Use the view names from the schema: orders, order_details, products, categories, customers, suppliers.
- If you must use the base table "Order Details" quote it with double quotes.
- Order dates are TEXT in YYYY-MM-DD format. Filter them with string comparisons such as OrderDate BETWEEN '1997-06-01' AND '1997-06-30' or OrderDate LIKE '1997%'. Do not use YEAR(), MONTH() or other date functions.
- Revenue is SUM(order_details.UnitPrice * order_details.Quantity * (1 - order_details.Discount)).
- Gross margin uses a cost of 70% of the unit price: SUM((order_details.UnitPrice - order_details.UnitPrice * 0.7) * order_details.Quantity * (1 - order_details.Discount)).
- OrderDate and CustomerID live on orders, ProductID on order_details, CategoryName on categories.
- Join tables explicitly on their id columns.`

const userPromptTemplate = `{{.Schema}}
{{if .Constraints}}
Constraints:
{{.Constraints}}
{{end}}
Question: {{.Question}}
{{if .PriorError}}
{{if .PriorQuery}}The previous query was:
{{.PriorQuery}}
{{end}}It failed with this error:
{{.PriorError}}
Write a corrected query.
{{end}}
SQL:`

// Request is one generation. PriorError is set on repair attempts and is
// passed to the model verbatim.
type Request struct {
	Schema      string
	Constraints string
	Question    string
	PriorQuery  string
	PriorError  string
}

// Synthesizer turns a question into SQL.
//
// Thread Safety: Safe for concurrent use.
type Synthesizer struct {
	client llm.LLMClient
	rules  RuleSet
	tmpl   *template.Template
}

// New builds a synthesizer. A nil rule set means DefaultRules.
func New(client llm.LLMClient, rules RuleSet) (*Synthesizer, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if rules == nil {
		rules = DefaultRules()
	}
	tmpl, err := template.New("sql").Parse(userPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("compile sql prompt: %w", err)
	}
	return &Synthesizer{client: client, rules: rules, tmpl: tmpl}, nil
}

// Synthesize asks the model for a query and returns it after the rule set
// has been applied.
//
// # Outputs
//
//   - string: The cleaned query. It may still be invalid SQL; execution
//     decides.
//   - error: Non-nil only for prompt or backend failures.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (string, error) {
	ctx, span := otel.Tracer("copilot.sqlgen").Start(ctx, "Synthesizer.Synthesize",
		trace.WithAttributes(attribute.Bool("repair", req.PriorError != "")),
	)
	defer span.End()

	var user bytes.Buffer
	if err := s.tmpl.Execute(&user, req); err != nil {
		return "", fmt.Errorf("render sql prompt: %w", err)
	}

	raw, err := s.client.Chat(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt},
		{Role: llm.RoleUser, Content: user.String()},
	}, llm.Deterministic())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("generate sql: %w", err)
	}

	query, fired := s.rules.Run(raw)
	if len(fired) > 0 {
		slog.Debug("Rewrote generated SQL", "rules", fired)
	}
	span.SetAttributes(attribute.StringSlice("rules_fired", fired))
	return query, nil
}
