// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

var (
	colorTeal  = lipgloss.Color("#2CD7C7")
	colorDeep  = lipgloss.Color("#16858E")
	colorSlate = lipgloss.Color("#2C4A54")
	colorAmber = lipgloss.Color("#F4D03F")
)

var styles = struct {
	Answer  lipgloss.Style
	Label   lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Box     lipgloss.Style
}{
	Answer:  lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
	Label:   lipgloss.NewStyle().Bold(true),
	Muted:   lipgloss.NewStyle().Foreground(colorSlate),
	Warning: lipgloss.NewStyle().Foreground(colorAmber),
	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorDeep).
		Padding(0, 1),
}

// stdoutIsTerminal reports whether styled output makes sense.
func stdoutIsTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// formatValue renders a final answer for humans. Strings print as-is,
// anything else as compact JSON.
func formatValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// renderAnswer formats a finished run for the ask command.
func renderAnswer(resp datatypes.AskResponse, styled bool) string {
	answer := formatValue(resp.FinalAnswer)
	meta := fmt.Sprintf("route=%s attempts=%d run=%s", resp.Classification, resp.Attempts, resp.RunID)

	var b strings.Builder
	if !styled {
		fmt.Fprintf(&b, "Answer: %s\n", answer)
		fmt.Fprintf(&b, "Explanation: %s\n", resp.Explanation)
		if resp.SQL != "" {
			fmt.Fprintf(&b, "SQL: %s\n", resp.SQL)
		}
		if resp.SQLError != "" {
			fmt.Fprintf(&b, "SQL error: %s\n", resp.SQLError)
		}
		fmt.Fprintf(&b, "Citations: %s\n", strings.Join(resp.Citations, ", "))
		fmt.Fprintln(&b, meta)
		return b.String()
	}

	b.WriteString(styles.Box.Render(styles.Answer.Render(answer)))
	b.WriteString("\n")
	b.WriteString(resp.Explanation)
	b.WriteString("\n\n")
	if resp.SQL != "" {
		b.WriteString(styles.Label.Render("SQL") + "\n")
		b.WriteString(styles.Muted.Render(resp.SQL) + "\n")
	}
	if resp.SQLError != "" {
		b.WriteString(styles.Warning.Render("⚠ "+resp.SQLError) + "\n")
	}
	if len(resp.Citations) > 0 {
		b.WriteString(styles.Label.Render("Citations") + "\n")
		for _, c := range resp.Citations {
			b.WriteString("  • " + c + "\n")
		}
	}
	b.WriteString(styles.Muted.Render(meta) + "\n")
	return b.String()
}
