// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/RetailCopilot/services/copilot/observability"
	"github.com/AleutianAI/RetailCopilot/services/llm"
)

const (
	DefaultRateLimitSleep   = 20 * time.Second
	DefaultRateLimitRetries = 3
)

// rateLimitSignatures are matched case-insensitively against backend error
// text.
var rateLimitSignatures = []string{
	"rate limit",
	"rate_limit",
	"ratelimit",
	"429",
	"too many requests",
	"quota",
}

// IsRateLimited reports whether err looks like a backend throttling error.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range rateLimitSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// GuardConfig tunes a RateLimitGuard.
type GuardConfig struct {
	// Sleep is the pause before retrying a throttled call.
	Sleep time.Duration

	// Retries is how many times a throttled call is repeated.
	Retries int

	// RequestsPerSecond paces every call. Zero disables pacing.
	RequestsPerSecond float64
}

// RateLimitGuard retries throttled backend calls after a fixed pause.
//
// # Description
//
// Every call first waits on the optional pacing limiter. A call that fails
// with a rate-limit signature is repeated after Sleep, at most Retries times;
// the last error is returned when the retries run out. Other errors are
// returned at once.
//
// # Thread Safety
//
// Safe for concurrent use if the wrapped client is.
type RateLimitGuard struct {
	next    llm.LLMClient
	cfg     GuardConfig
	limiter *rate.Limiter
	metrics *observability.Metrics

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimitGuard wraps next. Zero Sleep and negative Retries fall back to
// the defaults. metrics may be nil.
func NewRateLimitGuard(next llm.LLMClient, cfg GuardConfig, metrics *observability.Metrics) *RateLimitGuard {
	if cfg.Sleep <= 0 {
		cfg.Sleep = DefaultRateLimitSleep
	}
	if cfg.Retries < 0 {
		cfg.Retries = DefaultRateLimitRetries
	}
	g := &RateLimitGuard{next: next, cfg: cfg, metrics: metrics, sleep: sleepContext}
	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g
}

func (g *RateLimitGuard) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return g.do(ctx, "generate", func() (string, error) {
		return g.next.Generate(ctx, prompt, params)
	})
}

func (g *RateLimitGuard) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error) {
	return g.do(ctx, "chat", func() (string, error) {
		return g.next.Chat(ctx, messages, params)
	})
}

func (g *RateLimitGuard) do(ctx context.Context, method string, call func() (string, error)) (string, error) {
	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limiter: %w", err)
			}
		}
		out, err := call()
		if err == nil || !IsRateLimited(err) || attempt >= g.cfg.Retries {
			return out, err
		}

		g.metrics.RecordRateLimitRetry()
		slog.Warn("Backend rate limited, backing off",
			"method", method, "attempt", attempt+1, "sleep", g.cfg.Sleep, "error", err)
		if err := g.sleep(ctx, g.cfg.Sleep); err != nil {
			return "", err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
