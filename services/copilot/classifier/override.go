// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

// DefaultOverrideTerms are the domain words that mean a question needs the
// documents even when the model thinks the database alone will do.
func DefaultOverrideTerms() []string {
	return []string{
		"policy", "policies", "calendar", "summer", "winter", "campaign",
		"kpi", "aov", "average order value", "gross margin", "definition",
	}
}

// OverrideTable upgrades sql classifications to hybrid when the question
// mentions one of its terms. It never changes any other route.
//
// Thread Safety: Immutable after construction, safe for concurrent use.
type OverrideTable struct {
	terms   []string
	pattern *regexp.Regexp
}

// NewOverrideTable compiles terms into a case-insensitive, word-bounded
// matcher. Empty terms are ignored; an empty table never fires.
func NewOverrideTable(terms []string) *OverrideTable {
	clean := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			clean = append(clean, t)
		}
	}
	// Longest first so "average order value" wins over any shorter overlap.
	sort.SliceStable(clean, func(i, j int) bool { return len(clean[i]) > len(clean[j]) })

	table := &OverrideTable{terms: clean}
	if len(clean) == 0 {
		return table
	}
	quoted := make([]string, len(clean))
	for i, t := range clean {
		quoted[i] = regexp.QuoteMeta(t)
	}
	table.pattern = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	return table
}

// Terms returns the normalized terms, longest first.
func (o *OverrideTable) Terms() []string {
	return append([]string(nil), o.terms...)
}

// Match returns the first term found in question.
func (o *OverrideTable) Match(question string) (string, bool) {
	if o == nil || o.pattern == nil {
		return "", false
	}
	m := o.pattern.FindString(question)
	if m == "" {
		return "", false
	}
	return strings.ToLower(m), true
}

// Apply returns the route after the override and whether it fired.
func (o *OverrideTable) Apply(route datatypes.Route, question string) (datatypes.Route, bool) {
	if route != datatypes.RouteSQL {
		return route, false
	}
	if _, ok := o.Match(question); ok {
		return datatypes.RouteHybrid, true
	}
	return route, false
}
