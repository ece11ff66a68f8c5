// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlpolicy screens generated SQL against deny rules before it runs.
package sqlpolicy

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/RetailCopilot/services/copilot/sqltext"
)

// DefaultPolicy is the rule file compiled into the binary.
//
//go:embed statement_policy.yaml
var DefaultPolicy []byte

// Engine holds compiled rules, highest priority first.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Engine struct {
	rules []Rule
}

// NewEngine compiles the embedded policy.
func NewEngine() (*Engine, error) {
	return Parse(DefaultPolicy)
}

// Parse compiles a policy document.
//
// # Description
//
// Unmarshals the YAML, compiles every pattern and sorts the rules by
// priority so Check reports the most serious violation first.
//
// # Outputs
//
//   - *Engine: Ready to use.
//   - error: Malformed YAML, an unknown severity or an invalid regex.
func Parse(data []byte) (*Engine, error) {
	var file PolicyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse statement policy: %w", err)
	}
	if err := file.compile(); err != nil {
		return nil, err
	}
	file.sortByPriority()
	return &Engine{rules: file.Rules}, nil
}

// Rules returns the rule names in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, 0, len(e.rules))
	for _, r := range e.rules {
		names = append(names, r.Name)
	}
	return names
}

// Check returns the first violation, in rule priority order, or false if
// the statement passes. Patterns see the query with the contents of string
// literals blanked, so a value such as 'a;b' never matches. A nil Engine
// allows everything.
func (e *Engine) Check(query string) (Finding, bool) {
	if e == nil {
		return Finding{}, false
	}
	query = sqltext.MaskLiterals(query)
	for _, rule := range e.rules {
		for _, p := range rule.Patterns {
			if m := p.compiled.FindString(query); m != "" {
				return newFinding(rule, p, m), true
			}
		}
	}
	return Finding{}, false
}

// Scan returns every violation in the statement, for auditing.
func (e *Engine) Scan(query string) []Finding {
	if e == nil {
		return nil
	}
	query = sqltext.MaskLiterals(query)
	var findings []Finding
	for _, rule := range e.rules {
		for _, p := range rule.Patterns {
			for _, m := range p.compiled.FindAllString(query, -1) {
				findings = append(findings, newFinding(rule, p, m))
			}
		}
	}
	return findings
}

func newFinding(rule Rule, p Pattern, match string) Finding {
	return Finding{
		Rule:        rule.Name,
		PatternID:   p.ID,
		Description: p.Description,
		Matched:     strings.TrimSpace(match),
		Severity:    p.Severity,
	}
}
