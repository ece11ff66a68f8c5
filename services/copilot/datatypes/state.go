// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the value types shared by the copilot pipeline:
// the per-question run state, retrieved passages, query rows and the batch
// wire records.
package datatypes

import "strings"

// MaxRepairAttempts is the ceiling on failed executions that lead to another
// query generation. With the first attempt included, a question sees at most
// MaxRepairAttempts+1 generations and executions.
const MaxRepairAttempts = 2

// Route is the strategy chosen for a question.
type Route string

const (
	RouteSQL    Route = "sql"
	RouteRAG    Route = "rag"
	RouteHybrid Route = "hybrid"
)

// String returns the route label.
func (r Route) String() string { return string(r) }

// UsesRetrieval reports whether the route consults the passage index.
func (r Route) UsesRetrieval() bool { return r == RouteRAG || r == RouteHybrid }

// UsesQuery reports whether the route generates and executes a query.
func (r Route) UsesQuery() bool { return r == RouteSQL || r == RouteHybrid }

// ParseRoute maps a label onto a Route. The second result is false for
// anything outside the closed set.
func ParseRoute(s string) (Route, bool) {
	switch Route(strings.ToLower(strings.TrimSpace(s))) {
	case RouteSQL:
		return RouteSQL, true
	case RouteRAG:
		return RouteRAG, true
	case RouteHybrid:
		return RouteHybrid, true
	}
	return "", false
}

// RepairState is the state of the query generate/execute loop.
type RepairState string

const (
	RepairGenerating RepairState = "GENERATING"
	RepairExecuting  RepairState = "EXECUTING"
	RepairSucceeded  RepairState = "SUCCEEDED"
	RepairRetrying   RepairState = "RETRYING"
	RepairExhausted  RepairState = "EXHAUSTED"
)

// String returns the state name.
func (s RepairState) String() string { return string(s) }

// IsTerminal reports whether the loop is finished in this state.
func (s RepairState) IsTerminal() bool {
	return s == RepairSucceeded || s == RepairExhausted
}

// Row is one result row keyed by column name.
type Row map[string]any

// RunState carries everything one question accumulates while it walks the
// graph.
//
// # Description
//
// A RunState is created by the graph at the start of a run and is owned by
// that run alone. Steps read what earlier steps wrote and fill in their own
// fields; nothing outside the run keeps a reference once it returns.
//
// # Invariants
//
//   - Classification is one of the three routes once the classify step ran.
//   - QueryError is empty after a successful execution.
//   - Rows is non-nil after a successful execution, even with zero rows.
//   - AttemptCount never exceeds MaxRepairAttempts.
//   - FinalAnswer, Explanation and Citations are written only by synthesis.
//
// # Thread Safety
//
// Not safe for concurrent use. A run is a single sequential walk.
type RunState struct {
	RunID      string `json:"run_id"`
	Question   string `json:"question"`
	FormatHint string `json:"format_hint"`

	Classification Route     `json:"classification"`
	Passages       []Passage `json:"passages"`
	Constraints    string    `json:"constraints"`

	Query        string      `json:"query"`
	QueryError   string      `json:"query_error,omitempty"`
	Rows         []Row       `json:"rows"`
	AttemptCount int         `json:"attempt_count"`
	RepairState  RepairState `json:"repair_state,omitempty"`

	FinalAnswer any      `json:"final_answer"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations"`

	// Steps lists the graph nodes visited, in order.
	Steps []string `json:"steps"`
}

// NewRunState returns a fresh state for question.
func NewRunState(runID, question, formatHint string) *RunState {
	return &RunState{
		RunID:      runID,
		Question:   question,
		FormatHint: formatHint,
		Passages:   []Passage{},
		Citations:  []string{},
	}
}

// PassageText joins the text of every retrieved passage, one per line.
func (s *RunState) PassageText() string {
	parts := make([]string, 0, len(s.Passages))
	for _, p := range s.Passages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n")
}

// Passage is one indexed chunk of a corpus document.
type Passage struct {
	// ID is "<file>::chunk<N>", N being a corpus-wide counter.
	ID string `json:"id"`

	// Text is the chunk prefixed with its source name.
	Text string `json:"text"`

	// Source is the originating file name.
	Source string `json:"source"`

	// Score is set on search results only.
	Score float64 `json:"score,omitempty"`
}

// TableRef names a table the evidence store can answer from, plus the other
// spellings (views, unquoted forms) a query may use for it. Citations use
// Name.
type TableRef struct {
	Name    string   `json:"name" yaml:"name"`
	Aliases []string `json:"aliases,omitempty" yaml:"aliases"`
}
