// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the copilot configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/RetailCopilot/services/copilot/classifier"
	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/passages"
	"github.com/AleutianAI/RetailCopilot/services/copilot/telemetry"
	"github.com/AleutianAI/RetailCopilot/services/llm"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full copilot configuration.
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Store      StoreConfig      `yaml:"store"`
	Corpus     CorpusConfig     `yaml:"corpus"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Batch      BatchConfig      `yaml:"batch"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

// LLMConfig selects the text-generation backend.
type LLMConfig struct {
	Backend string        `yaml:"backend" validate:"oneof=ollama local openai anthropic claude llamacpp"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	Cache   CacheConfig   `yaml:"cache"`
}

// CacheConfig enables the on-disk completion cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Dir     string        `yaml:"dir" validate:"required_if=Enabled true"`
	TTL     time.Duration `yaml:"ttl" validate:"gte=0"`
}

// StoreConfig points at the SQLite database.
type StoreConfig struct {
	Path   string               `yaml:"path" validate:"required"`
	Tables []datatypes.TableRef `yaml:"tables" validate:"dive"`
}

// CorpusConfig points at the document directory.
type CorpusConfig struct {
	Dir           string   `yaml:"dir"`
	Extensions    []string `yaml:"extensions"`
	MaxChunkChars int      `yaml:"max_chunk_chars" validate:"gte=0"`

	// Watch reloads the index when documents change. Used by serve.
	Watch bool `yaml:"watch"`
}

// RetrievalConfig tunes passage search.
type RetrievalConfig struct {
	TopK        int     `yaml:"top_k" validate:"gte=1,lte=50"`
	SourceBoost float64 `yaml:"source_boost" validate:"gte=0"`
	K1          float64 `yaml:"k1" validate:"gt=0"`
	B           float64 `yaml:"b" validate:"gte=0,lte=1"`
}

// ClassifierConfig tunes routing.
type ClassifierConfig struct {
	OverrideTerms []string `yaml:"override_terms"`
}

// BatchConfig tunes the batch driver.
type BatchConfig struct {
	RateLimitSleep    time.Duration `yaml:"rate_limit_sleep" validate:"gte=0"`
	RateLimitRetries  int           `yaml:"rate_limit_retries" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	ReadyAttempts     int           `yaml:"ready_attempts" validate:"gte=1"`
	ReadyInterval     time.Duration `yaml:"ready_interval" validate:"gte=0"`
}

// ServerConfig configures serve.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// DefaultConfig returns a configuration that runs against a local Ollama,
// data/northwind.sqlite and the docs/ directory.
func DefaultConfig() Config {
	bm25 := passages.DefaultBM25Params()
	return Config{
		LLM: LLMConfig{
			Backend: llm.BackendOllama,
			BaseURL: "http://localhost:11434",
			Timeout: 5 * time.Minute,
			Cache:   CacheConfig{Dir: ".copilot/cache"},
		},
		Store: StoreConfig{Path: "data/northwind.sqlite"},
		Corpus: CorpusConfig{
			Dir:        "docs",
			Extensions: []string{".md", ".txt"},
		},
		Retrieval: RetrievalConfig{
			TopK:        3,
			SourceBoost: passages.DefaultSourceBoost,
			K1:          bm25.K1,
			B:           bm25.B,
		},
		Classifier: ClassifierConfig{OverrideTerms: classifier.DefaultOverrideTerms()},
		Batch: BatchConfig{
			RateLimitSleep:   20 * time.Second,
			RateLimitRetries: 3,
			ReadyAttempts:    30,
			ReadyInterval:    2 * time.Second,
		},
		Server:    ServerConfig{Addr: ":8080"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path or a missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			slog.Warn("Config file not found, using defaults", "path", path)
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	ApplyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment. Backend-specific variables
// apply only when that backend is selected.
func ApplyEnv(cfg *Config) {
	setFromEnv(&cfg.LLM.Backend, "COPILOT_LLM_BACKEND")
	setFromEnv(&cfg.Store.Path, "COPILOT_DB_PATH")
	setFromEnv(&cfg.Corpus.Dir, "COPILOT_DOCS_DIR")
	setFromEnv(&cfg.Logging.Level, "COPILOT_LOG_LEVEL")

	switch strings.ToLower(cfg.LLM.Backend) {
	case llm.BackendOllama, "local":
		setFromEnv(&cfg.LLM.BaseURL, "OLLAMA_BASE_URL")
		setFromEnv(&cfg.LLM.Model, "OLLAMA_MODEL")
	case llm.BackendLlamaCpp:
		setFromEnv(&cfg.LLM.BaseURL, "LLAMACPP_BASE_URL")
	case llm.BackendOpenAI:
		setFromEnv(&cfg.LLM.APIKey, "OPENAI_API_KEY")
		setFromEnv(&cfg.LLM.Model, "OPENAI_MODEL")
	case llm.BackendAnthropic, "claude":
		setFromEnv(&cfg.LLM.APIKey, "ANTHROPIC_API_KEY")
		setFromEnv(&cfg.LLM.Model, "CLAUDE_MODEL")
	}

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		cfg.Telemetry.OTLPEndpoint = endpoint
		if cfg.Telemetry.TraceExporter == "" || cfg.Telemetry.TraceExporter == telemetry.ExporterNone {
			if endpoint == telemetry.ExporterStdout {
				cfg.Telemetry.TraceExporter = telemetry.ExporterStdout
			} else {
				cfg.Telemetry.TraceExporter = telemetry.ExporterOTLP
			}
		}
	}
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the backend credentials.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.LLM.Backend) {
	case llm.BackendOpenAI, llm.BackendAnthropic, "claude":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("%w: llm.api_key is required for backend %q", ErrInvalidConfig, c.LLM.Backend)
		}
	}
	return nil
}

// LLMClientConfig returns the llm package view of the backend settings.
func (c Config) LLMClientConfig() llm.Config {
	return llm.Config{
		Backend: c.LLM.Backend,
		BaseURL: c.LLM.BaseURL,
		Model:   c.LLM.Model,
		APIKey:  c.LLM.APIKey,
		Timeout: c.LLM.Timeout,
	}
}

// PassageConfig returns the index settings for the corpus.
func (c Config) PassageConfig() passages.Config {
	pc := passages.DefaultConfig(c.Corpus.Dir)
	if len(c.Corpus.Extensions) > 0 {
		pc.Extensions = c.Corpus.Extensions
	}
	pc.MaxChunkChars = c.Corpus.MaxChunkChars
	pc.SourceBoost = c.Retrieval.SourceBoost
	pc.BM25.K1 = c.Retrieval.K1
	pc.BM25.B = c.Retrieval.B
	return pc
}
