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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/RetailCopilot/services/copilot/evidence"
)

func runSchemaCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	store, err := evidence.Open(ctx, evidence.Config{Path: cfg.Store.Path, Tables: cfg.Store.Tables})
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintln(cmd.OutOrStdout(), store.Schema(ctx))
	return nil
}
