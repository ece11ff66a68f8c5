// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

const (
	// FallbackAnswer is the final answer used when the model output cannot
	// be parsed.
	FallbackAnswer = "Unable to determine answer"

	// FallbackExplanation accompanies FallbackAnswer.
	FallbackExplanation = "Failed to parse model output"
)

var (
	fence       = regexp.MustCompile("(?s)^\\s*```[A-Za-z0-9_-]*\\s*(.*?)\\s*```\\s*$")
	outerObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// fieldTypos maps misspelled keys seen in model output to the real ones.
var fieldTypos = strings.NewReplacer(
	`"explanicn"`, `"explanation"`,
	`"explantion"`, `"explanation"`,
	`"final_answr"`, `"final_answer"`,
	`"finalanswer"`, `"final_answer"`,
)

// Parse extracts an Answer from raw model output.
//
// # Description
//
// Markdown fences are removed, known key typos corrected and the rest
// decoded as JSON. When that fails or final_answer is missing, the
// outermost {...} block is cut out of the raw text and decoded the same way.
//
// # Outputs
//
//   - Answer: The parsed answer, or the fallback answer with ParseFallback
//     set when both passes fail.
//   - bool: True when the output was parsed.
func Parse(raw string) (Answer, bool) {
	body := raw
	if m := fence.FindStringSubmatch(raw); m != nil {
		body = m[1]
	}
	if a, ok := decode(fieldTypos.Replace(body)); ok {
		return a, true
	}

	block := outerObject.FindString(raw)
	if block == "" {
		return fallback(), false
	}
	if a, ok := decode(fieldTypos.Replace(block)); ok {
		return a, true
	}
	return fallback(), false
}

func decode(s string) (Answer, bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &payload); err != nil {
		return Answer{}, false
	}
	final, ok := payload["final_answer"]
	if !ok {
		return Answer{}, false
	}
	a := Answer{FinalAnswer: final}
	switch e := payload["explanation"].(type) {
	case nil:
	case string:
		a.Explanation = e
	default:
		a.Explanation = fmt.Sprint(e)
	}
	return a, true
}

func fallback() Answer {
	return Answer{
		FinalAnswer:   FallbackAnswer,
		Explanation:   FallbackExplanation,
		ParseFallback: true,
	}
}
