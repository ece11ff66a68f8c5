// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package passages

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

const defaultReloadDebounce = 500 * time.Millisecond

// Live serves searches from the most recently built Index and can rebuild it
// when the corpus directory changes.
//
// Each rebuilt Index replaces the previous one atomically, so in-flight
// searches finish against the index they started with.
//
// Thread Safety: Safe for concurrent use.
type Live struct {
	cfg      Config
	current  atomic.Pointer[Index]
	debounce time.Duration
	reloads  atomic.Int64
}

// NewLive loads the corpus once and returns a Live index over it.
func NewLive(ctx context.Context, cfg Config) (*Live, error) {
	l := &Live{cfg: cfg, debounce: defaultReloadDebounce}
	if err := l.Reload(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Search implements the same contract as Index.Search.
func (l *Live) Search(query string, k int) []datatypes.Passage {
	return l.current.Load().Search(query, k)
}

// Len returns the chunk count of the current index.
func (l *Live) Len() int { return l.current.Load().Len() }

// Reloads returns how many times the index was built.
func (l *Live) Reloads() int64 { return l.reloads.Load() }

// Reload rebuilds the index from disk and swaps it in. On failure the
// previous index stays in place.
func (l *Live) Reload(ctx context.Context) error {
	ix, err := Load(ctx, l.cfg)
	if err != nil {
		return err
	}
	l.current.Store(ix)
	l.reloads.Add(1)
	return nil
}

// Watch reloads the index whenever a corpus document is created, written,
// removed or renamed. Bursts of events within the debounce window cause one
// reload. Watch blocks until ctx is cancelled.
func (l *Live) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create corpus watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.cfg.Dir); err != nil {
		return fmt.Errorf("watch corpus %s: %w", l.cfg.Dir, err)
	}
	slog.Info("Watching corpus for changes", "dir", l.cfg.Dir)

	exts := l.cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !hasExtension(event.Name, exts) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(l.debounce)
			} else {
				timer.Reset(l.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := l.Reload(ctx); err != nil {
				slog.Error("Corpus reload failed, keeping previous index", "error", err)
				continue
			}
			slog.Info("Corpus reloaded", "chunks", l.Len())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Corpus watcher error", "error", err)
		}
	}
}
