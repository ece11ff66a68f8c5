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
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/RetailCopilot/services/copilot/batch"
)

func runBatchCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{waitReady: true, rateLimit: true})
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := runBatch(ctx, a, batchInPath, batchOutPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d answers to %s (%d failed) in %s\n",
		sum.Total, batchOutPath, sum.Failed, sum.Duration.Round(1e6))
	return nil
}

// runBatch answers inPath into outPath. The output file is written through
// a buffer and flushed even when the batch stops early, so every finished
// line survives.
func runBatch(ctx context.Context, a *app, inPath, outPath string) (batch.Summary, error) {
	in, err := os.Open(inPath)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("open batch input: %w", err)
	}
	defer in.Close()

	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return batch.Summary{}, fmt.Errorf("create output directory: %w", err)
		}
	}
	out, err := os.Create(outPath)
	if err != nil {
		return batch.Summary{}, fmt.Errorf("create batch output: %w", err)
	}
	defer out.Close()

	proc, err := batch.NewProcessor(a.graph)
	if err != nil {
		return batch.Summary{}, err
	}

	w := bufio.NewWriter(out)
	sum, procErr := proc.Process(ctx, in, w)
	if err := w.Flush(); err != nil && procErr == nil {
		procErr = fmt.Errorf("flush batch output: %w", err)
	}
	return sum, procErr
}
