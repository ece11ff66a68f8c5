// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// BatchRecord is one input line of a batch file.
type BatchRecord struct {
	ID         string `json:"id" validate:"required"`
	Question   string `json:"question" validate:"required"`
	FormatHint string `json:"format_hint"`
}

// BatchResult is one output line. final_answer is always written, as null
// when the model answered null; failed records are BatchError instead.
type BatchResult struct {
	ID          string   `json:"id"`
	FinalAnswer any      `json:"final_answer"`
	SQL         string   `json:"sql"`
	Explanation string   `json:"explanation"`
	Citations   []string `json:"citations"`
	Confidence  float64  `json:"confidence"`
}

// BatchError is the output line written for a question that could not be
// answered.
type BatchError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// AskRequest is the body of a single interactive question.
type AskRequest struct {
	Question   string `json:"question" binding:"required" validate:"required"`
	FormatHint string `json:"format_hint"`
}

// AskResponse reports a finished run with its diagnostic details.
type AskResponse struct {
	RunID          string   `json:"run_id"`
	Classification Route    `json:"classification"`
	FinalAnswer    any      `json:"final_answer"`
	Explanation    string   `json:"explanation"`
	Citations      []string `json:"citations"`
	SQL            string   `json:"sql"`
	SQLError       string   `json:"sql_error,omitempty"`
	Attempts       int      `json:"attempts"`
	Steps          []string `json:"steps"`
}

// NewAskResponse projects a finished run onto the response shape.
func NewAskResponse(s *RunState) AskResponse {
	return AskResponse{
		RunID:          s.RunID,
		Classification: s.Classification,
		FinalAnswer:    CoerceAnswer(s.FinalAnswer, s.FormatHint),
		Explanation:    s.Explanation,
		Citations:      s.Citations,
		SQL:            s.Query,
		SQLError:       s.QueryError,
		Attempts:       s.AttemptCount,
		Steps:          s.Steps,
	}
}

// CoerceAnswer turns a generated answer into the value its format hint asks
// for.
//
// # Description
//
// A "str" hint leaves the answer untouched. Otherwise, string answers are cut
// after the last "Answer:" marker and parsed as a literal: integers, floats,
// JSON arrays/objects (single-quoted variants included) or quoted strings.
// Already-typed numbers are narrowed to int when the hint is "int" and the
// value is integral, and widened to float64 when the hint is "float".
//
// # Outputs
//
// The parsed value, or raw unchanged when parsing fails.
//
// # Examples
//
//	CoerceAnswer("Answer: 14", "int")      // 14
//	CoerceAnswer("[1, 2]", "list[int]")    // []any{1.0, 2.0}
//	CoerceAnswer("Beverages", "str")       // "Beverages"
func CoerceAnswer(raw any, formatHint string) any {
	hint := strings.ToLower(strings.TrimSpace(formatHint))
	if hint == "str" {
		return raw
	}

	switch v := raw.(type) {
	case string:
		clean := v
		if i := strings.LastIndex(clean, "Answer:"); i >= 0 {
			clean = clean[i+len("Answer:"):]
		}
		clean = strings.TrimSpace(clean)
		parsed, ok := parseLiteral(clean)
		if !ok {
			return raw
		}
		return fitNumber(parsed, hint)
	case float64, int, int64:
		return fitNumber(v, hint)
	default:
		return raw
	}
}

func parseLiteral(s string) (any, bool) {
	if s == "" {
		return nil, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, true
	}
	switch s[0] {
	case '[', '{':
		var out any
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out, true
		}
		if err := json.Unmarshal([]byte(strings.ReplaceAll(s, "'", `"`)), &out); err == nil {
			return out, true
		}
	case '"':
		var out string
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out, true
		}
	case '\'':
		if len(s) >= 2 && s[len(s)-1] == '\'' {
			return s[1 : len(s)-1], true
		}
	}
	return nil, false
}

func fitNumber(v any, hint string) any {
	switch hint {
	case "int":
		if f, ok := v.(float64); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return int(f)
		}
	case "float":
		switch n := v.(type) {
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return v
}
