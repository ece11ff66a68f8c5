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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

var markdownSeparators = []string{
	"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
	"\n\n", "\n", " ", "",
}

// splitDocument cuts a document at header boundaries when it has any "#",
// otherwise at blank lines. The "#" consumed by the split is put back on
// every chunk after the first. Blank chunks are dropped and the rest are
// trimmed.
func splitDocument(content string) []string {
	var raw []string
	if strings.Contains(content, "#") {
		raw = strings.Split(content, "\n#")
		for i := 1; i < len(raw); i++ {
			raw[i] = "#" + raw[i]
		}
	} else {
		raw = strings.Split(content, "\n\n")
	}

	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// limitChunks re-splits chunks longer than maxChars. maxChars <= 0 leaves
// chunks as they are.
func limitChunks(chunks []string, maxChars int) ([]string, error) {
	if maxChars <= 0 {
		return chunks, nil
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(maxChars),
		textsplitter.WithChunkOverlap(0),
		textsplitter.WithSeparators(markdownSeparators),
	)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if len([]rune(c)) <= maxChars {
			out = append(out, c)
			continue
		}
		parts, err := splitter.SplitText(c)
		if err != nil {
			return nil, fmt.Errorf("split chunk: %w", err)
		}
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

// cleanName turns "product_policy.md" into "product policy".
func cleanName(filename string) string {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// passageText is what gets indexed and shown to the model.
func passageText(name, chunk string) string {
	return "Source: " + name + "\nContent: " + chunk
}
