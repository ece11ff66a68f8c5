// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package graph wires the copilot steps into a directed graph with a single
// cycle, the query repair loop.
//
// # Description
//
// A run starts at classify and ends after synthesize:
//
//	sql:    classify → generate_sql → execute_sql → synthesize
//	rag:    classify → retrieve → synthesize
//	hybrid: classify → retrieve → plan → generate_sql → execute_sql → synthesize
//
// execute_sql loops back to generate_sql while the repair machine is in
// RETRYING, at most datatypes.MaxRepairAttempts times.
//
// # Thread Safety
//
// A Graph holds only shared, read-only collaborators. Run may be called
// concurrently; every run owns its own RunState.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/RetailCopilot/services/copilot/classifier"
	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/evidence"
	"github.com/AleutianAI/RetailCopilot/services/copilot/observability"
	"github.com/AleutianAI/RetailCopilot/services/copilot/sqlgen"
	"github.com/AleutianAI/RetailCopilot/services/copilot/synth"
)

var tracer = otel.Tracer("copilot.graph")

// DefaultTopK is the number of passages retrieved per question.
const DefaultTopK = 3

// Node is a step of the graph.
type Node string

const (
	NodeClassify    Node = "classify"
	NodeRetrieve    Node = "retrieve"
	NodePlan        Node = "plan"
	NodeGenerateSQL Node = "generate_sql"
	NodeExecuteSQL  Node = "execute_sql"
	NodeSynthesize  Node = "synthesize"
	NodeEnd         Node = "end"
)

// Classifier picks a route.
type Classifier interface {
	ClassifyDetailed(ctx context.Context, question string) (classifier.Result, error)
}

// Retriever returns the best passages for a query. Satisfied by
// *passages.Index and *passages.Live.
type Retriever interface {
	Search(query string, k int) []datatypes.Passage
}

// Planner turns passages into query constraints.
type Planner interface {
	Plan(ctx context.Context, passages []datatypes.Passage, question string) (string, error)
}

// QuerySynthesizer generates SQL.
type QuerySynthesizer interface {
	Synthesize(ctx context.Context, req sqlgen.Request) (string, error)
}

// AnswerSynthesizer writes the final answer.
type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, in synth.Input) (synth.Answer, error)
}

// Evidence describes and queries the database. Satisfied by *evidence.Store.
type Evidence interface {
	Schema(ctx context.Context) string
	Execute(ctx context.Context, query string) evidence.QueryResult
	KnownTables() []datatypes.TableRef
}

// Deps are the graph's collaborators. All are required except Metrics.
type Deps struct {
	Classifier Classifier
	Retriever  Retriever
	Planner    Planner
	Queries    QuerySynthesizer
	Answers    AnswerSynthesizer
	Store      Evidence
	Metrics    *observability.Metrics
}

// Options tunes a Graph.
type Options struct {
	// TopK is the number of passages retrieved. Zero means DefaultTopK.
	TopK int

	// NewRunID generates run ids. Nil means random UUIDs.
	NewRunID func() string
}

// Graph runs questions through the copilot steps.
type Graph struct {
	deps    Deps
	topK    int
	newID   func() string
	machine *RepairMachine
}

// New validates deps and builds a Graph.
func New(deps Deps, opts Options) (*Graph, error) {
	checks := []struct {
		name    string
		missing bool
	}{
		{"classifier", deps.Classifier == nil},
		{"retriever", deps.Retriever == nil},
		{"planner", deps.Planner == nil},
		{"query synthesizer", deps.Queries == nil},
		{"answer synthesizer", deps.Answers == nil},
		{"evidence store", deps.Store == nil},
	}
	for _, c := range checks {
		if c.missing {
			return nil, fmt.Errorf("%w: %s", ErrMissingDependency, c.name)
		}
	}

	g := &Graph{deps: deps, topK: opts.TopK, newID: opts.NewRunID, machine: NewRepairMachine()}
	if g.topK <= 0 {
		g.topK = DefaultTopK
	}
	if g.newID == nil {
		g.newID = uuid.NewString
	}
	return g, nil
}

// Run answers one question.
//
// # Description
//
// Walks the graph from classify to synthesize with a fresh RunState.
// Query failures are data and go through the repair loop; only backend
// errors and cancellation end a run early.
//
// # Inputs
//
//   - ctx: Cancellation stops the run before the next step.
//   - question: The natural-language question. Must not be blank.
//   - formatHint: Expected answer format ("int", "float", "str", ...).
//
// # Outputs
//
//   - *datatypes.RunState: The run's state. On error it holds whatever the
//     steps before the failure produced.
//   - error: Wrapped with the name of the failing step.
func (g *Graph) Run(ctx context.Context, question, formatHint string) (*datatypes.RunState, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	state := datatypes.NewRunState(g.newID(), question, formatHint)

	ctx, span := tracer.Start(ctx, "Graph.Run", trace.WithAttributes(
		attribute.String("run_id", state.RunID),
		attribute.String("format_hint", formatHint),
	))
	defer span.End()

	g.deps.Metrics.RunStarted()
	defer g.deps.Metrics.RunEnded()

	logger := slog.With("run_id", state.RunID)
	node := NodeClassify
	for node != NodeEnd {
		if err := ctx.Err(); err != nil {
			return g.fail(span, state, node, err)
		}
		state.Steps = append(state.Steps, string(node))
		if err := g.step(ctx, node, state); err != nil {
			logger.Error("Graph step failed", "step", node, "error", err)
			return g.fail(span, state, node, err)
		}
		node = next(node, state)
	}

	outcome := observability.OutcomeAnswered
	if state.RepairState == datatypes.RepairExhausted {
		outcome = observability.OutcomeDegraded
	}
	g.deps.Metrics.RecordRun(state.Classification.String(), outcome)
	span.SetAttributes(
		attribute.String("route", state.Classification.String()),
		attribute.Int("attempts", state.AttemptCount),
		attribute.String("outcome", outcome),
	)
	span.SetStatus(codes.Ok, "")
	logger.Info("Run finished", "route", state.Classification, "outcome", outcome, "attempt", state.AttemptCount)
	return state, nil
}

func (g *Graph) fail(span trace.Span, state *datatypes.RunState, node Node, err error) (*datatypes.RunState, error) {
	err = fmt.Errorf("step %s: %w", node, err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	g.deps.Metrics.RecordRun(state.Classification.String(), observability.OutcomeFailed)
	return state, err
}

// next is the graph's edge function.
func next(node Node, state *datatypes.RunState) Node {
	switch node {
	case NodeClassify:
		if state.Classification == datatypes.RouteSQL {
			return NodeGenerateSQL
		}
		return NodeRetrieve
	case NodeRetrieve:
		if state.Classification == datatypes.RouteRAG {
			return NodeSynthesize
		}
		return NodePlan
	case NodePlan:
		return NodeGenerateSQL
	case NodeGenerateSQL:
		return NodeExecuteSQL
	case NodeExecuteSQL:
		if state.RepairState == datatypes.RepairRetrying {
			return NodeGenerateSQL
		}
		return NodeSynthesize
	default:
		return NodeEnd
	}
}

// step runs one node inside its own span and records its duration.
func (g *Graph) step(ctx context.Context, node Node, state *datatypes.RunState) error {
	ctx, span := tracer.Start(ctx, "graph."+string(node))
	defer span.End()
	start := time.Now()
	defer func() { g.deps.Metrics.ObserveStep(string(node), time.Since(start).Seconds()) }()

	var err error
	switch node {
	case NodeClassify:
		err = g.classify(ctx, state)
	case NodeRetrieve:
		g.retrieve(state)
	case NodePlan:
		err = g.plan(ctx, state)
	case NodeGenerateSQL:
		err = g.generateSQL(ctx, state)
	case NodeExecuteSQL:
		err = g.executeSQL(ctx, state)
	case NodeSynthesize:
		err = g.synthesize(ctx, state)
	default:
		err = fmt.Errorf("unknown node %q", node)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (g *Graph) classify(ctx context.Context, state *datatypes.RunState) error {
	res, err := g.deps.Classifier.ClassifyDetailed(ctx, state.Question)
	if err != nil {
		return err
	}
	state.Classification = res.Route
	if res.Overridden {
		g.deps.Metrics.RecordOverride()
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("route", res.Route.String()))
	return nil
}

func (g *Graph) retrieve(state *datatypes.RunState) {
	state.Passages = g.deps.Retriever.Search(state.Question, g.topK)
	if state.Passages == nil {
		state.Passages = []datatypes.Passage{}
	}
}

func (g *Graph) plan(ctx context.Context, state *datatypes.RunState) error {
	constraints, err := g.deps.Planner.Plan(ctx, state.Passages, state.Question)
	if err != nil {
		return err
	}
	state.Constraints = constraints
	return nil
}

func (g *Graph) generateSQL(ctx context.Context, state *datatypes.RunState) error {
	if err := g.machine.Transition(state, datatypes.RepairGenerating); err != nil {
		return err
	}
	req := sqlgen.Request{
		Schema:      g.deps.Store.Schema(ctx),
		Constraints: state.Constraints,
		Question:    state.Question,
	}
	if state.QueryError != "" {
		req.PriorQuery = state.Query
		req.PriorError = state.QueryError
	}
	query, err := g.deps.Queries.Synthesize(ctx, req)
	if err != nil {
		return err
	}
	state.Query = query
	return nil
}

func (g *Graph) executeSQL(ctx context.Context, state *datatypes.RunState) error {
	if err := g.machine.Transition(state, datatypes.RepairExecuting); err != nil {
		return err
	}
	res := g.deps.Store.Execute(ctx, state.Query)
	failed := res.Failed()
	g.deps.Metrics.RecordExecution(!failed)
	if failed {
		state.QueryError = res.Error
		state.Rows = nil
	} else {
		state.QueryError = ""
		state.Rows = res.Rows
	}

	to, attempts := NextRepairState(failed, state.AttemptCount)
	if to == datatypes.RepairRetrying {
		g.deps.Metrics.RecordRepairAttempt()
		slog.Info("Query failed, regenerating", "attempt", attempts, "error", res.Error)
	}
	state.AttemptCount = attempts
	return g.machine.Transition(state, to)
}

func (g *Graph) synthesize(ctx context.Context, state *datatypes.RunState) error {
	answer, err := g.deps.Answers.Synthesize(ctx, synth.Input{
		Question:    state.Question,
		PassageText: state.PassageText(),
		Query:       state.Query,
		QueryError:  state.QueryError,
		Rows:        state.Rows,
		FormatHint:  state.FormatHint,
	})
	if err != nil {
		return err
	}
	if answer.ParseFallback {
		g.deps.Metrics.RecordParseFallback()
	}
	state.FinalAnswer = answer.FinalAnswer
	state.Explanation = answer.Explanation
	state.Citations = synth.Citations(state.Passages, state.Query, g.deps.Store.KnownTables())
	return nil
}
