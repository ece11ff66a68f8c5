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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	anthropicAPIVersion   = "2023-06-01"
	defaultAnthropicURL   = "https://api.anthropic.com/v1/messages"
	defaultAnthropicModel = "claude-3-5-sonnet-20240620"
	anthropicMaxTokens    = 4096
)

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	TopK        *int               `json:"top_k,omitempty"`
	StopSeqs    []string           `json:"stop_sequences,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// AnthropicClient calls the Messages API over plain HTTP.
type AnthropicClient struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
}

// NewAnthropicClient builds a messages-API client. endpoint may be empty.
func NewAnthropicClient(apiKey, model, endpoint string, timeout time.Duration) (*AnthropicClient, error) {
	if apiKey == "" {
		slog.Error("Anthropic API key not configured")
		return nil, fmt.Errorf("anthropic: %w", ErrMissingAPIKey)
	}
	if model == "" {
		model = defaultAnthropicModel
		slog.Warn("Anthropic model not set, defaulting", "model", model)
	}
	if endpoint == "" {
		endpoint = defaultAnthropicURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	slog.Info("Initializing Anthropic client", "model", model)
	return &AnthropicClient{
		httpClient: &http.Client{Timeout: timeout},
		endpoint:   endpoint,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

// Generate implements the LLMClient interface
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return a.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, params)
}

// Chat implements the LLMClient interface.
func (a *AnthropicClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "AnthropicClient.Chat")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.backend", BackendAnthropic),
		attribute.String("llm.model", a.model),
	)

	payload := a.buildRequest(messages, params)
	out, err := a.send(ctx, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return out, nil
}

// buildRequest lifts system messages into the top-level system field and
// folds consecutive turns of the same role together, since the API rejects
// two user turns in a row.
func (a *AnthropicClient) buildRequest(messages []Message, params GenerationParams) anthropicRequest {
	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   anthropicMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
	}
	if params.MaxTokens != nil {
		req.MaxTokens = *params.MaxTokens
	}

	var system []string
	for _, m := range messages {
		if strings.EqualFold(m.Role, RoleSystem) {
			system = append(system, m.Content)
			continue
		}
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == m.Role {
			req.Messages[n-1].Content += "\n\n" + m.Content
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	req.System = strings.Join(system, "\n\n")
	return req
}

func (a *AnthropicClient) send(ctx context.Context, payload anthropicRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal anthropic request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create anthropic request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		slog.Error("Anthropic call failed", "error", err)
		return "", fmt.Errorf("anthropic call failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read anthropic response: %w", err)
	}

	var parsed anthropicResponse
	jsonErr := json.Unmarshal(respBody, &parsed)
	if resp.StatusCode != http.StatusOK {
		// Keep the status code in the text; the batch guard keys off "429".
		if jsonErr == nil && parsed.Error != nil {
			return "", fmt.Errorf("anthropic status %d: %s: %s", resp.StatusCode, parsed.Error.Type, parsed.Error.Message)
		}
		return "", fmt.Errorf("anthropic status %d: %s", resp.StatusCode, string(respBody))
	}
	if jsonErr != nil {
		return "", fmt.Errorf("parse anthropic response: %w", jsonErr)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic error: %s: %s", parsed.Error.Type, parsed.Error.Message)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("anthropic (stop_reason=%s): %w", parsed.StopReason, ErrEmptyResponse)
	}
	return text.String(), nil
}
