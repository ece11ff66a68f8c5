// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentedClient records call counts and latency for every request that
// passes through it, labelled by backend, method and status.
//
// Thread Safety: Safe for concurrent use if the wrapped client is.
type InstrumentedClient struct {
	next     LLMClient
	backend  string
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewInstrumentedClient wraps next with OpenTelemetry instruments created
// from meter.
func NewInstrumentedClient(next LLMClient, backend string, meter metric.Meter) (*InstrumentedClient, error) {
	requests, err := meter.Int64Counter(
		"copilot_llm_requests_total",
		metric.WithDescription("Total LLM requests by backend, method and status"),
	)
	if err != nil {
		return nil, fmt.Errorf("create copilot_llm_requests_total: %w", err)
	}
	duration, err := meter.Float64Histogram(
		"copilot_llm_request_duration_seconds",
		metric.WithDescription("LLM request latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create copilot_llm_request_duration_seconds: %w", err)
	}
	return &InstrumentedClient{next: next, backend: backend, requests: requests, duration: duration}, nil
}

func (c *InstrumentedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	start := time.Now()
	out, err := c.next.Generate(ctx, prompt, params)
	c.record(ctx, "generate", start, err)
	return out, err
}

func (c *InstrumentedClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	start := time.Now()
	out, err := c.next.Chat(ctx, messages, params)
	c.record(ctx, "chat", start, err)
	return out, err
}

func (c *InstrumentedClient) record(ctx context.Context, method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", c.backend),
		attribute.String("method", method),
		attribute.String("status", status),
	)
	c.requests.Add(ctx, 1, attrs)
	c.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}
