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
	"regexp"
	"strings"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

// Citations lists the evidence behind an answer: every passage id in
// retrieval order, then the canonical name of every table the query
// mentions by name or alias. Matching is case-insensitive on word
// boundaries. Duplicates are dropped. The result is never nil.
func Citations(passages []datatypes.Passage, query string, tables []datatypes.TableRef) []string {
	out := make([]string, 0, len(passages)+len(tables))
	seen := make(map[string]bool, cap(out))
	add := func(s string) {
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}

	for _, p := range passages {
		add(p.ID)
	}
	if strings.TrimSpace(query) == "" {
		return out
	}
	for _, t := range tables {
		if mentions(query, t.Name) {
			add(t.Name)
			continue
		}
		for _, alias := range t.Aliases {
			if mentions(query, alias) {
				add(t.Name)
				break
			}
		}
	}
	return out
}

func mentions(query, name string) bool {
	if name == "" {
		return false
	}
	re := regexp.MustCompile(`(?i)(?:^|\W)` + regexp.QuoteMeta(name) + `(?:\W|$)`)
	return re.MatchString(query)
}
