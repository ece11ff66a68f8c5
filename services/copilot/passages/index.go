// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package passages indexes the document corpus and ranks chunks for a
// question with BM25 plus a source-name boost.
package passages

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

// DefaultSourceBoost is added once per source-name token found in the query.
const DefaultSourceBoost = 5.0

// Config configures corpus loading and ranking.
type Config struct {
	// Dir is the corpus directory, one document per file.
	Dir string

	// Extensions selects which files are documents. Default: ".md".
	Extensions []string

	// MaxChunkChars re-splits longer chunks. Zero disables the limit.
	MaxChunkChars int

	// SourceBoost is the additive score per matching source-name token.
	SourceBoost float64

	BM25 BM25Params
}

// DefaultConfig returns the ranking defaults for a corpus at dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		Extensions:  []string{".md"},
		SourceBoost: DefaultSourceBoost,
		BM25:        DefaultBM25Params(),
	}
}

// Document is one corpus file's name and content.
type Document struct {
	Name    string
	Content string
}

// Index is an immutable ranked view over the corpus chunks.
//
// Thread Safety: Safe for concurrent Search once built.
type Index struct {
	passages   []datatypes.Passage
	nameTokens [][]string
	scorer     *okapi
	boost      float64
}

// Load reads every document in cfg.Dir and builds the index.
//
// # Description
//
// Files are read concurrently and assembled in lexical order so chunk ids
// are stable across runs. A missing directory yields an empty index; a file
// that cannot be read is logged and left out.
//
// # Outputs
//
//   - *Index: Never nil when error is nil.
//   - error: Non-nil if the directory exists but cannot be listed, or if the
//     context is cancelled.
func Load(ctx context.Context, cfg Config) (*Index, error) {
	entries, err := os.ReadDir(cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("Corpus directory not found, passage index is empty", "dir", cfg.Dir)
		return NewIndex(nil, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("list corpus %s: %w", cfg.Dir, err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !hasExtension(e.Name(), exts) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	contents := make([]*string, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, name := range names {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(filepath.Join(cfg.Dir, name))
			if err != nil {
				slog.Error("Failed to read corpus file", "file", name, "error", err)
				return nil
			}
			s := string(data)
			contents[i] = &s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load corpus: %w", err)
	}

	docs := make([]Document, 0, len(names))
	for i, name := range names {
		if contents[i] != nil {
			docs = append(docs, Document{Name: name, Content: *contents[i]})
		}
	}
	ix, err := NewIndex(docs, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("Indexed corpus", "chunks", ix.Len(), "files", len(docs), "dir", cfg.Dir)
	return ix, nil
}

// NewIndex chunks and indexes docs in the order given.
func NewIndex(docs []Document, cfg Config) (*Index, error) {
	params := cfg.BM25
	if params == (BM25Params{}) {
		params = DefaultBM25Params()
	}
	ix := &Index{boost: cfg.SourceBoost}

	var corpus [][]string
	counter := 0
	for _, doc := range docs {
		name := cleanName(doc.Name)
		chunks, err := limitChunks(splitDocument(doc.Content), cfg.MaxChunkChars)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", doc.Name, err)
		}
		nameTokens := tokenize(name)
		for _, c := range chunks {
			text := passageText(name, c)
			ix.passages = append(ix.passages, datatypes.Passage{
				ID:     fmt.Sprintf("%s::chunk%d", doc.Name, counter),
				Text:   text,
				Source: doc.Name,
			})
			ix.nameTokens = append(ix.nameTokens, nameTokens)
			corpus = append(corpus, tokenize(text))
			counter++
		}
	}
	if len(corpus) > 0 {
		ix.scorer = newOkapi(corpus, params)
	}
	return ix, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int { return len(ix.passages) }

// Search returns at most k passages with a strictly positive score, best
// first. Equal scores keep corpus order.
func (ix *Index) Search(query string, k int) []datatypes.Passage {
	out := make([]datatypes.Passage, 0)
	if k <= 0 || ix.scorer == nil {
		return out
	}

	qTokens := tokenize(query)
	qSet := make(map[string]struct{}, len(qTokens))
	for _, t := range qTokens {
		qSet[t] = struct{}{}
	}

	scores := ix.scorer.scores(qTokens)
	for i, nameTokens := range ix.nameTokens {
		matches := 0
		for _, t := range nameTokens {
			if _, ok := qSet[t]; ok {
				matches++
			}
		}
		scores[i] += float64(matches) * ix.boost
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

	for _, i := range order {
		if len(out) == k {
			break
		}
		if scores[i] <= 0 {
			break
		}
		p := ix.passages[i]
		p.Score = scores[i]
		out = append(out, p)
	}
	return out
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
