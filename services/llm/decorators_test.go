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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type countingClient struct {
	generateCalls int
	chatCalls     int
	err           error
}

func (c *countingClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	c.generateCalls++
	if c.err != nil {
		return "", c.err
	}
	return "gen:" + prompt, nil
}

func (c *countingClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	c.chatCalls++
	if c.err != nil {
		return "", c.err
	}
	return "chat:" + messages[len(messages)-1].Content, nil
}

func TestCachingClient_HitsAfterFirstCall(t *testing.T) {
	db, err := OpenCache(CacheConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	next := &countingClient{}
	client := NewCachingClient(next, db, "ollama:m", 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		out, err := client.Generate(ctx, "p", Deterministic())
		require.NoError(t, err)
		assert.Equal(t, "gen:p", out)
	}
	assert.Equal(t, 1, next.generateCalls)

	msgs := []Message{{Role: RoleUser, Content: "q"}}
	for i := 0; i < 2; i++ {
		out, err := client.Chat(ctx, msgs, Deterministic())
		require.NoError(t, err)
		assert.Equal(t, "chat:q", out)
	}
	assert.Equal(t, 1, next.chatCalls)
}

func TestCachingClient_KeyIncludesParams(t *testing.T) {
	db, err := OpenCache(CacheConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	next := &countingClient{}
	client := NewCachingClient(next, db, "ns", 0)
	ctx := context.Background()

	_, err = client.Generate(ctx, "p", GenerationParams{Temperature: Float32(0)})
	require.NoError(t, err)
	_, err = client.Generate(ctx, "p", GenerationParams{Temperature: Float32(0.7)})
	require.NoError(t, err)
	assert.Equal(t, 2, next.generateCalls)
}

func TestCachingClient_DoesNotCacheErrors(t *testing.T) {
	db, err := OpenCache(CacheConfig{InMemory: true})
	require.NoError(t, err)
	defer db.Close()

	next := &countingClient{err: errors.New("boom")}
	client := NewCachingClient(next, db, "ns", 0)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	require.Error(t, err)

	next.err = nil
	out, err := client.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "gen:p", out)
	assert.Equal(t, 2, next.generateCalls)
}

func TestOpenCache_RequiresDir(t *testing.T) {
	_, err := OpenCache(CacheConfig{})
	assert.Error(t, err)
}

func TestInstrumentedClient_RecordsCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	next := &countingClient{}
	client, err := NewInstrumentedClient(next, "ollama", provider.Meter("test"))
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "p", GenerationParams{})
	require.NoError(t, err)
	next.err = errors.New("down")
	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, GenerationParams{})
	require.Error(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	names := map[string]bool{}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names[m.Name] = true
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	assert.True(t, names["copilot_llm_requests_total"])
	assert.True(t, names["copilot_llm_request_duration_seconds"])
	assert.EqualValues(t, 2, total)
}
