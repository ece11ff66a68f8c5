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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultLlamaCppNPredict = 512

// LlamaCppClient talks to a llama.cpp server: /completion for prompts and
// the OpenAI-compatible /v1/chat/completions for chats.
type LlamaCppClient struct {
	httpClient *http.Client
	baseURL    string
}

type llamaCppCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type llamaCppCompletionResponse struct {
	Content string `json:"content"`
}

type llamaCppChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature *float32  `json:"temperature,omitempty"`
	TopP        *float32  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

type llamaCppChatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// NewLlamaCppClient builds a client for the server at baseURL. A zero
// timeout means five minutes.
func NewLlamaCppClient(baseURL string, timeout time.Duration) (*LlamaCppClient, error) {
	if baseURL == "" {
		return nil, errors.New("llama.cpp base url not set")
	}
	if timeout <= 0 {
		timeout = defaultOllamaTimeout
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	slog.Info("Initializing llama.cpp client", "base_url", baseURL)
	return &LlamaCppClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
	}, nil
}

// Generate implements the LLMClient interface
func (l *LlamaCppClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	payload := llamaCppCompletionRequest{
		Prompt:      prompt,
		NPredict:    defaultLlamaCppNPredict,
		Temperature: params.Temperature,
		TopK:        params.TopK,
		TopP:        params.TopP,
		Stop:        params.Stop,
	}
	if params.MaxTokens != nil {
		payload.NPredict = *params.MaxTokens
	}

	var resp llamaCppCompletionResponse
	if err := l.post(ctx, "LlamaCppClient.Generate", "/completion", payload, &resp); err != nil {
		return "", err
	}
	return resp.Content, nil
}

// Chat implements the LLMClient interface
func (l *LlamaCppClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	payload := llamaCppChatRequest{
		Messages:    messages,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}

	var resp llamaCppChatResponse
	if err := l.post(ctx, "LlamaCppClient.Chat", "/v1/chat/completions", payload, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}

func (l *LlamaCppClient) post(ctx context.Context, spanName, path string, payload, out any) error {
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()
	span.SetAttributes(attribute.String("llm.backend", BackendLlamaCpp))

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fail(fmt.Errorf("marshal llama.cpp request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("create llama.cpp request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		slog.Error("llama.cpp call failed", "path", path, "error", err)
		return fail(fmt.Errorf("llama.cpp call failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("read llama.cpp response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("llama.cpp failed with status %d: %s", resp.StatusCode, string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fail(fmt.Errorf("parse llama.cpp response: %w", err))
	}
	return nil
}

// Ping checks that the server answers on /health.
func (l *LlamaCppClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama.cpp health status %d", resp.StatusCode)
	}
	return nil
}

// WaitReady polls Ping until the model is loaded. llama.cpp answers /health
// with 503 while it is still loading.
func (l *LlamaCppClient) WaitReady(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if lastErr = l.Ping(ctx); lastErr == nil {
			return nil
		}
		slog.Info("Waiting for llama.cpp", "attempt", i+1, "of", attempts, "error", lastErr)
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrNotReady, attempts, lastErr)
}
