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
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/RetailCopilot/services/copilot/config"
	"github.com/AleutianAI/RetailCopilot/services/copilot/telemetry"
)

var (
	configPath string
	logLevel   string

	batchInPath  string
	batchOutPath string

	askFormat string
	askJSON   bool

	// cfg is loaded once by the root pre-run hook.
	cfg config.Config

	shutdownTelemetry func(context.Context) error
)

var (
	rootCmd = &cobra.Command{
		Use:   "copilot",
		Short: "Answer retail analytics questions over Northwind and a document corpus",
		Long: `copilot routes each question to SQL generation, document retrieval or
both, repairs failing queries a bounded number of times and writes a typed
answer with citations.`,
		SilenceUsage:       true,
		PersistentPreRunE:  setup,
		PersistentPostRunE: teardown,
	}

	batchCmd = &cobra.Command{
		Use:   "batch",
		Short: "Answer every question of a JSONL file",
		Args:  cobra.NoArgs,
		RunE:  runBatchCmd,
	}

	askCmd = &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question",
		Long: `Answer a single question. Without arguments on a terminal, the question
and answer format are prompted for.`,
		RunE: runAskCmd,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the copilot over HTTP",
		Args:  cobra.NoArgs,
		RunE:  runServeCmd,
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Print the schema the query generator sees",
		Args:  cobra.NoArgs,
		RunE:  runSchemaCmd,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "copilot.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().StringVar(&batchInPath, "batch", "", "Input JSONL file with id, question and format_hint")
	batchCmd.Flags().StringVar(&batchOutPath, "out", "", "Output JSONL file")
	_ = batchCmd.MarkFlagRequired("batch")
	_ = batchCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVar(&askFormat, "format", "str", "Answer format hint (str, int, float, list[...], {...})")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "Print the full response as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(schemaCmd)
}

// setup loads the configuration and starts logging and telemetry.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfg, err = config.Load(configPath); err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if _, err := telemetry.InstallLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}

	shutdownTelemetry, err = telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	slog.Debug("Configuration loaded", "path", configPath, "backend", cfg.LLM.Backend, "db", cfg.Store.Path)
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if shutdownTelemetry == nil {
		return nil
	}
	// The command context may already be cancelled by a signal.
	return shutdownTelemetry(context.WithoutCancel(cmd.Context()))
}
