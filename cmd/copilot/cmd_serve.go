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
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/RetailCopilot/services/copilot/routes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/telemetry"
)

const shutdownTimeout = 10 * time.Second

func runServeCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, appOptions{live: cfg.Corpus.Watch})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.live != nil {
		go func() {
			if err := a.live.Watch(ctx); err != nil {
				slog.Error("Corpus watcher stopped", "error", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	router := routes.NewRouter(cfg.Telemetry.ServiceName, routes.Services{
		Runner:  a.graph,
		Schema:  a.store,
		Search:  a.index,
		Metrics: telemetry.MetricsHandler(),
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Copilot listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
