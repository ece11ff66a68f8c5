// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package batch answers a JSONL file of questions one line at a time.
package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

// ErrNilRunner is returned by NewProcessor without a runner.
var ErrNilRunner = errors.New("batch: runner is nil")

// maxLineBytes bounds a single input record.
const maxLineBytes = 1 << 20

// Runner answers one question.
type Runner interface {
	Run(ctx context.Context, question, formatHint string) (*datatypes.RunState, error)
}

// Summary counts what a batch produced.
type Summary struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// Processor streams a batch through a Runner.
//
// # Description
//
// Records are handled sequentially in input order. Blank lines are skipped.
// A line that does not decode, fails validation or whose run errors yields
// an {id, error} line; everything else yields a result line. Nothing short
// of a write failure or a cancelled context stops the batch.
//
// # Thread Safety
//
// A Processor holds no per-batch state; Process may be called concurrently
// if the Runner allows it.
type Processor struct {
	runner   Runner
	validate *validator.Validate
}

// NewProcessor returns a Processor over runner.
func NewProcessor(runner Runner) (*Processor, error) {
	if runner == nil {
		return nil, ErrNilRunner
	}
	return &Processor{runner: runner, validate: validator.New()}, nil
}

// Process reads JSONL records from r and writes one JSONL line per record
// to w.
func (p *Processor) Process(ctx context.Context, r io.Reader, w io.Writer) (Summary, error) {
	start := time.Now()
	var sum Summary

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}

		sum.Total++
		out, ok := p.processLine(ctx, lineNo, line)
		if ok {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		if err := enc.Encode(out); err != nil {
			sum.Duration = time.Since(start)
			return sum, fmt.Errorf("write result for line %d: %w", lineNo, err)
		}
	}
	sum.Duration = time.Since(start)
	if err := scanner.Err(); err != nil {
		return sum, fmt.Errorf("read batch: %w", err)
	}

	slog.Info("Batch complete",
		"total", sum.Total, "succeeded", sum.Succeeded, "failed", sum.Failed, "duration", sum.Duration)
	return sum, nil
}

// processLine returns the value to write and whether it is a result.
func (p *Processor) processLine(ctx context.Context, lineNo int, line string) (any, bool) {
	var rec datatypes.BatchRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		slog.Warn("Skipping malformed batch line", "line", lineNo, "error", err)
		return datatypes.BatchError{ID: peekID(line), Error: fmt.Sprintf("invalid record: %v", err)}, false
	}
	if err := p.validate.Struct(rec); err != nil {
		return datatypes.BatchError{ID: rec.ID, Error: fmt.Sprintf("invalid record: %v", err)}, false
	}

	slog.Info("Processing question", "id", rec.ID, "line", lineNo)
	state, err := p.runner.Run(ctx, rec.Question, rec.FormatHint)
	if err != nil {
		slog.Error("Question failed", "id", rec.ID, "error", err)
		return datatypes.BatchError{ID: rec.ID, Error: err.Error()}, false
	}
	return NewResult(rec.ID, state), true
}

// NewResult projects a finished run onto a batch output line.
func NewResult(id string, state *datatypes.RunState) datatypes.BatchResult {
	citations := state.Citations
	if citations == nil {
		citations = []string{}
	}
	return datatypes.BatchResult{
		ID:          id,
		FinalAnswer: datatypes.CoerceAnswer(state.FinalAnswer, state.FormatHint),
		SQL:         state.Query,
		Explanation: state.Explanation,
		Citations:   citations,
		Confidence:  Confidence(state),
	}
}

// peekID recovers the id of a line that failed to decode as a record, for
// example because a field had the wrong type.
func peekID(line string) string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return ""
	}
	var id string
	if err := json.Unmarshal(fields["id"], &id); err != nil {
		return ""
	}
	return id
}
