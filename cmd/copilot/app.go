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
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/RetailCopilot/services/copilot/batch"
	"github.com/AleutianAI/RetailCopilot/services/copilot/classifier"
	"github.com/AleutianAI/RetailCopilot/services/copilot/config"
	"github.com/AleutianAI/RetailCopilot/services/copilot/evidence"
	"github.com/AleutianAI/RetailCopilot/services/copilot/graph"
	"github.com/AleutianAI/RetailCopilot/services/copilot/observability"
	"github.com/AleutianAI/RetailCopilot/services/copilot/passages"
	"github.com/AleutianAI/RetailCopilot/services/copilot/planner"
	"github.com/AleutianAI/RetailCopilot/services/copilot/sqlgen"
	"github.com/AleutianAI/RetailCopilot/services/copilot/synth"
	"github.com/AleutianAI/RetailCopilot/services/llm"
)

// appOptions selects the optional parts of the wiring per command.
type appOptions struct {
	// client replaces the configured backend. Used by tests.
	client llm.LLMClient

	// registerer receives the Prometheus collectors. Nil means the default
	// registerer.
	registerer prometheus.Registerer

	// waitReady polls the backend before returning, if it supports it.
	waitReady bool

	// rateLimit wraps the backend in the rate-limit guard.
	rateLimit bool

	// live keeps the passage index reloadable.
	live bool
}

// app is a fully wired copilot.
type app struct {
	cfg     config.Config
	client  llm.LLMClient
	store   *evidence.Store
	index   graph.Retriever
	live    *passages.Live
	graph   *graph.Graph
	metrics *observability.Metrics

	closers []func() error
}

// newApp builds the copilot from cfg.
//
// # Description
//
// The backend is decorated inside out: rate-limit guard, OpenTelemetry
// instruments, then the completion cache, so cache hits are neither counted
// as backend calls nor paced.
//
// # Outputs
//
//   - *app: Caller must Close it.
//   - error: Non-nil if any component cannot be built. Everything opened
//     before the failure is closed.
func newApp(ctx context.Context, cfg config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.wire(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context, opts appOptions) error {
	reg := opts.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a.metrics = observability.NewMetrics(reg)

	var err error
	if a.client, err = a.buildClient(ctx, opts); err != nil {
		return err
	}

	a.store, err = evidence.Open(ctx, evidence.Config{Path: a.cfg.Store.Path, Tables: a.cfg.Store.Tables})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.store.Close)

	if opts.live {
		if a.live, err = passages.NewLive(ctx, a.cfg.PassageConfig()); err != nil {
			return fmt.Errorf("load corpus: %w", err)
		}
		a.index = a.live
	} else {
		ix, err := passages.Load(ctx, a.cfg.PassageConfig())
		if err != nil {
			return fmt.Errorf("load corpus: %w", err)
		}
		a.index = ix
	}

	a.graph, err = a.buildGraph()
	return err
}

func (a *app) buildClient(ctx context.Context, opts appOptions) (llm.LLMClient, error) {
	client := opts.client
	if client == nil {
		var err error
		if client, err = llm.NewClient(a.cfg.LLMClientConfig()); err != nil {
			return nil, err
		}
	}

	if prober, ok := client.(llm.ReadinessProber); ok && opts.waitReady {
		slog.Info("Waiting for the LLM backend", "attempts", a.cfg.Batch.ReadyAttempts)
		if err := prober.WaitReady(ctx, a.cfg.Batch.ReadyAttempts, a.cfg.Batch.ReadyInterval); err != nil {
			return nil, err
		}
	}

	if opts.rateLimit {
		client = batch.NewRateLimitGuard(client, batch.GuardConfig{
			Sleep:             a.cfg.Batch.RateLimitSleep,
			Retries:           a.cfg.Batch.RateLimitRetries,
			RequestsPerSecond: a.cfg.Batch.RequestsPerSecond,
		}, a.metrics)
	}

	backend := strings.ToLower(a.cfg.LLM.Backend)
	instrumented, err := llm.NewInstrumentedClient(client, backend, otel.Meter("copilot.llm"))
	if err != nil {
		return nil, err
	}
	client = instrumented

	if a.cfg.LLM.Cache.Enabled {
		db, err := llm.OpenCache(llm.CacheConfig{Dir: a.cfg.LLM.Cache.Dir, TTL: a.cfg.LLM.Cache.TTL})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		client = llm.NewCachingClient(client, db, backend+":"+a.cfg.LLM.Model, a.cfg.LLM.Cache.TTL)
		slog.Info("Completion cache enabled", "dir", a.cfg.LLM.Cache.Dir)
	}
	return client, nil
}

func (a *app) buildGraph() (*graph.Graph, error) {
	cls, err := classifier.New(a.client, classifier.NewOverrideTable(a.cfg.Classifier.OverrideTerms))
	if err != nil {
		return nil, err
	}
	pl, err := planner.New(a.client)
	if err != nil {
		return nil, err
	}
	queries, err := sqlgen.New(a.client, nil)
	if err != nil {
		return nil, err
	}
	answers, err := synth.New(a.client)
	if err != nil {
		return nil, err
	}
	return graph.New(graph.Deps{
		Classifier: cls,
		Retriever:  a.index,
		Planner:    pl,
		Queries:    queries,
		Answers:    answers,
		Store:      a.store,
		Metrics:    a.metrics,
	}, graph.Options{TopK: a.cfg.Retrieval.TopK})
}

// Close releases everything newApp opened, last opened first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
