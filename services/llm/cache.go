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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CacheConfig configures the on-disk completion cache.
type CacheConfig struct {
	// Dir is the BadgerDB directory. Ignored when InMemory is true.
	Dir string

	// InMemory keeps the cache in RAM only. Used by tests.
	InMemory bool

	// TTL expires entries after the given duration. Zero keeps them forever.
	TTL time.Duration
}

// OpenCache opens the BadgerDB instance backing a CachingClient.
//
// # Description
//
// Creates the directory when needed and disables Badger's own logger so the
// process keeps a single slog stream.
//
// # Outputs
//
//   - *badger.DB: Caller must Close it.
//   - error: Non-nil if the directory or database cannot be opened.
func OpenCache(cfg CacheConfig) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("cache dir is required for a persistent cache")
		}
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithLogger(nil).WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open completion cache: %w", err)
	}
	return db, nil
}

// CachingClient memoizes completions keyed by model, method, messages and
// generation parameters. Only successful completions are stored, so a
// transient backend failure is retried on the next call.
//
// Replaying a batch against a warm cache yields byte-identical answers, which
// is what makes evaluation runs comparable across code changes.
type CachingClient struct {
	next      LLMClient
	db        *badger.DB
	namespace string
	ttl       time.Duration
}

// NewCachingClient wraps next. namespace separates entries produced by
// different backends or models sharing one cache directory.
func NewCachingClient(next LLMClient, db *badger.DB, namespace string, ttl time.Duration) *CachingClient {
	return &CachingClient{next: next, db: db, namespace: namespace, ttl: ttl}
}

func (c *CachingClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	key := c.key("generate", []Message{{Role: RoleUser, Content: prompt}}, params)
	if hit, ok := c.get(key); ok {
		return hit, nil
	}
	out, err := c.next.Generate(ctx, prompt, params)
	if err != nil {
		return "", err
	}
	c.put(key, out)
	return out, nil
}

func (c *CachingClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	key := c.key("chat", messages, params)
	if hit, ok := c.get(key); ok {
		return hit, nil
	}
	out, err := c.next.Chat(ctx, messages, params)
	if err != nil {
		return "", err
	}
	c.put(key, out)
	return out, nil
}

func (c *CachingClient) key(method string, messages []Message, params GenerationParams) []byte {
	payload, _ := json.Marshal(struct {
		Method   string           `json:"method"`
		Messages []Message        `json:"messages"`
		Params   GenerationParams `json:"params"`
	}{method, messages, params})
	sum := sha256.Sum256(payload)
	return []byte(c.namespace + ":" + hex.EncodeToString(sum[:]))
}

func (c *CachingClient) get(key []byte) (string, bool) {
	var val []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Warn("completion cache read failed", "error", err)
		}
		return "", false
	}
	return string(val), true
}

func (c *CachingClient) put(key []byte, val string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(key, []byte(val))
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		slog.Warn("completion cache write failed", "error", err)
	}
}
