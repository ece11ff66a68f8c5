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
	"log/slog"
	"strings"
	"time"
)

const (
	BackendOllama    = "ollama"
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendLlamaCpp  = "llamacpp"
)

// Config selects and configures one backend.
type Config struct {
	Backend string
	BaseURL string
	Model   string
	APIKey  string
	Timeout time.Duration
}

// ReadinessProber is implemented by backends that can be polled for liveness
// before work starts.
type ReadinessProber interface {
	WaitReady(ctx context.Context, attempts int, interval time.Duration) error
}

// NewClient returns the backend named by cfg.Backend.
func NewClient(cfg Config) (LLMClient, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	slog.Info("Initializing LLM client", "backend", backend)
	switch backend {
	case BackendOllama, "local", "":
		return NewOllamaClient(cfg.BaseURL, cfg.Model, cfg.Timeout)
	case BackendOpenAI:
		return NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case BackendAnthropic, "claude":
		return NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	case BackendLlamaCpp:
		return NewLlamaCppClient(cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
