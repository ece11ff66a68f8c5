// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlgen

import (
	"regexp"
	"strings"

	"github.com/AleutianAI/RetailCopilot/services/copilot/sqltext"
)

// Rule is a pure text rewrite applied to generated SQL. Apply must be
// idempotent.
type Rule struct {
	Name  string
	Apply func(string) string
}

// RuleSet is an ordered list of rules applied once, front to back.
type RuleSet []Rule

// Apply runs every rule in order.
func (rs RuleSet) Apply(query string) string {
	out, _ := rs.Run(query)
	return out
}

// Run runs every rule in order and also returns the names of the rules that
// changed the text.
func (rs RuleSet) Run(query string) (string, []string) {
	var fired []string
	for _, r := range rs {
		next := r.Apply(query)
		if next != query {
			fired = append(fired, r.Name)
		}
		query = next
	}
	return query, fired
}

// DefaultRules returns the standard post-processing rules for SQLite
// Northwind queries.
func DefaultRules() RuleSet {
	return RuleSet{
		{Name: "strip_code_fences", Apply: stripCodeFences},
		{Name: "strip_comments", Apply: stripComments},
		{Name: "strip_label", Apply: stripLabel},
		{Name: "fix_keywords", Apply: replaceAll(keywordFixes)},
		{Name: "alias_tables", Apply: replaceAll(tableAliases)},
		{Name: "fix_columns", Apply: replaceAll(columnFixes)},
		{Name: "rewrite_year_functions", Apply: replaceAcrossLiterals(yearRewrites)},
		{Name: "trim_terminator", Apply: trimTerminator},
	}
}

type rewrite struct {
	pattern *regexp.Regexp
	repl    string
}

// replaceAll rewrites code only; single-quoted literals are left as written.
func replaceAll(rewrites []rewrite) func(string) string {
	apply := replaceAcrossLiterals(rewrites)
	return func(s string) string {
		return sqltext.MapCode(s, apply)
	}
}

// replaceAcrossLiterals rewrites the whole text. Only for patterns that
// match a literal as part of the expression, such as YEAR(x) = '1997'.
func replaceAcrossLiterals(rewrites []rewrite) func(string) string {
	return func(s string) string {
		for _, rw := range rewrites {
			s = rw.pattern.ReplaceAllString(s, rw.repl)
		}
		return s
	}
}

var (
	fencedBlock = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")
	lineComment = regexp.MustCompile(`--[^\n]*`)
	// Block comments may span lines.
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	leadingLabel = regexp.MustCompile(`(?i)^\s*(?:sql(?:\s+query)?|query)\s*:\s*`)
)

var keywordFixes = []rewrite{
	{regexp.MustCompile(`(?i)\bSELCT\b`), "SELECT"},
	{regexp.MustCompile(`(?i)\bSELEC\b`), "SELECT"},
	{regexp.MustCompile(`(?i)\bFORM\b`), "FROM"},
	{regexp.MustCompile(`(?i)\bWHRE\b`), "WHERE"},
	{regexp.MustCompile(`(?i)\bWHER\b`), "WHERE"},
	{regexp.MustCompile(`(?i)\bGROUPBY\b`), "GROUP BY"},
	{regexp.MustCompile(`(?i)\bORDERBY\b`), "ORDER BY"},
	{regexp.MustCompile(`(?i)\bGROUP\s+BY(?:\s+BY\b)+`), "GROUP BY"},
}

var tableAliases = []rewrite{
	{regexp.MustCompile(`(?i)"Order Details"`), "order_details"},
	{regexp.MustCompile(`(?i)\[Order Details\]`), "order_details"},
	{regexp.MustCompile("(?i)`Order Details`"), "order_details"},
	{regexp.MustCompile(`(?i)\bOrderDetails\b`), "order_details"},
	{regexp.MustCompile(`(?i)\bOrder_Details\b`), "order_details"},
}

var columnFixes = []rewrite{
	{regexp.MustCompile(`(?i)\border_details\.OrderDate\b`), "orders.OrderDate"},
	{regexp.MustCompile(`(?i)\border_details\.CustomerID\b`), "orders.CustomerID"},
	{regexp.MustCompile(`(?i)\borders\.ProductID\b`), "order_details.ProductID"},
	{regexp.MustCompile(`(?i)\bproducts\.CategoryName\b`), "categories.CategoryName"},
	{regexp.MustCompile(`(?i)\borders\.CategoryID\b`), "products.CategoryID"},
}

var yearRewrites = []rewrite{
	{regexp.MustCompile(`(?i)\bYEAR\s*\(\s*([\w.]+)\s*\)\s*=\s*'?(\d{4})'?`), "${1} LIKE '${2}%'"},
	{regexp.MustCompile(`(?i)\bstrftime\s*\(\s*'%Y'\s*,\s*([\w.]+)\s*\)\s*=\s*'?(\d{4})'?`), "${1} LIKE '${2}%'"},
}

// stripCodeFences keeps the body of the first fenced block, or drops stray
// fence markers when the block is not closed.
func stripCodeFences(s string) string {
	if m := fencedBlock.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), "```") {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func stripComments(s string) string {
	s = sqltext.MapCode(s, func(code string) string {
		code = blockComment.ReplaceAllString(code, " ")
		return lineComment.ReplaceAllString(code, "")
	})
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

func stripLabel(s string) string {
	for {
		next := leadingLabel.ReplaceAllString(s, "")
		if next == s {
			return s
		}
		s = next
	}
}

func trimTerminator(s string) string {
	return strings.TrimSpace(strings.TrimRight(s, "; \t\r\n"))
}
