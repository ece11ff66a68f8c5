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
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

var errNoQuestion = errors.New("no question given; pass it as an argument or run on a terminal")

func runAskCmd(cmd *cobra.Command, args []string) error {
	question, format, err := resolveQuestion(args, askFormat, stdinIsTerminal(), promptQuestion)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	state, err := a.graph.Run(ctx, question, format)
	if err != nil {
		return err
	}
	resp := datatypes.NewAskResponse(state)

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprint(out, renderAnswer(resp, stdoutIsTerminal()))
	return nil
}

// resolveQuestion takes the question from args, or from prompt when there
// are none and the session is interactive.
func resolveQuestion(args []string, format string, interactive bool, prompt func(format string) (string, string, error)) (string, string, error) {
	if q := strings.TrimSpace(strings.Join(args, " ")); q != "" {
		return q, format, nil
	}
	if !interactive {
		return "", "", errNoQuestion
	}
	return prompt(format)
}

// promptQuestion asks for a question and answer format with a huh form.
func promptQuestion(format string) (string, string, error) {
	var question string
	if format == "" {
		format = "str"
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Question").
				Placeholder("What was total revenue in 1997?").
				Value(&question).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return errors.New("a question is required")
					}
					return nil
				}),
			huh.NewSelect[string]().
				Title("Answer format").
				Options(huh.NewOptions("str", "int", "float", "list[str]")...).
				Value(&format),
		),
	)
	if err := form.Run(); err != nil {
		return "", "", fmt.Errorf("prompt: %w", err)
	}
	return strings.TrimSpace(question), format, nil
}
