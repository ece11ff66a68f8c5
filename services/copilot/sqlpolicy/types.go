// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sqlpolicy

import (
	"fmt"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

type Severity string

const (
	Low    Severity = "low"
	Medium Severity = "medium"
	High   Severity = "high"
)

// PolicyFile is the YAML document holding the rules.
type PolicyFile struct {
	Rules []Rule `yaml:"rules"`
}

// Rule groups patterns that deny one kind of statement.
type Rule struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Priority    int       `yaml:"priority"`
	Patterns    []Pattern `yaml:"patterns"`
}

type Pattern struct {
	ID          string   `yaml:"id"`
	Description string   `yaml:"description"`
	Regex       string   `yaml:"regex"`
	Severity    Severity `yaml:"severity"`
	compiled    *regexp.Regexp
}

func (s *Severity) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch Severity(raw) {
	case High, Medium, Low:
		*s = Severity(raw)
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", raw)
	}
}

func (p *PolicyFile) compile() error {
	for i := range p.Rules {
		for j := range p.Rules[i].Patterns {
			pattern := &p.Rules[i].Patterns[j]
			re, err := regexp.Compile(pattern.Regex)
			if err != nil {
				return fmt.Errorf("compile pattern %s: %w", pattern.ID, err)
			}
			pattern.compiled = re
		}
	}
	return nil
}

// sortByPriority orders rules highest priority first. Equal priorities keep
// file order.
func (p *PolicyFile) sortByPriority() {
	sort.SliceStable(p.Rules, func(i, j int) bool {
		return p.Rules[i].Priority > p.Rules[j].Priority
	})
}

// Finding is one pattern match against a statement.
type Finding struct {
	Rule        string   `json:"rule"`
	PatternID   string   `json:"pattern_id"`
	Description string   `json:"description"`
	Matched     string   `json:"matched"`
	Severity    Severity `json:"severity"`
}

// Error renders the finding as the text a rejected query reports.
func (f Finding) Error() string {
	return fmt.Sprintf("statement rejected by policy %s (%s): %q", f.Rule, f.Description, f.Matched)
}
