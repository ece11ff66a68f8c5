// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqltext splits SQL text into code and single-quoted string
// literals so text rewrites and pattern checks can leave literal values
// alone.
package sqltext

import "strings"

// Segment is a run of query text. Literal segments include their quotes.
type Segment struct {
	Text    string
	Literal bool
}

// Split cuts query into alternating code and literal segments.
//
// Comments stay inside code segments, and a quote inside a comment does not
// open a literal. A doubled quote ('') inside a literal is an escaped quote.
// An unterminated literal runs to the end of the text. Joining the Text of
// every segment gives back query unchanged.
func Split(query string) []Segment {
	var segs []Segment
	start := 0
	emit := func(end int, literal bool) {
		if end > start {
			segs = append(segs, Segment{Text: query[start:end], Literal: literal})
		}
		start = end
	}

	for i := 0; i < len(query); {
		switch {
		case strings.HasPrefix(query[i:], "--"):
			if j := strings.IndexByte(query[i:], '\n'); j >= 0 {
				i += j
			} else {
				i = len(query)
			}
		case strings.HasPrefix(query[i:], "/*"):
			if j := strings.Index(query[i+2:], "*/"); j >= 0 {
				i += j + 4
			} else {
				i = len(query)
			}
		case query[i] == '\'':
			emit(i, false)
			i = literalEnd(query, i)
			emit(i, true)
		default:
			i++
		}
	}
	emit(len(query), false)
	return segs
}

// literalEnd returns the index just past the quote closing the literal that
// opens at open.
func literalEnd(query string, open int) int {
	for i := open + 1; i < len(query); i++ {
		if query[i] != '\'' {
			continue
		}
		if i+1 < len(query) && query[i+1] == '\'' {
			i++
			continue
		}
		return i + 1
	}
	return len(query)
}

// MapCode applies fn to every code segment and leaves literals untouched.
func MapCode(query string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, seg := range Split(query) {
		if seg.Literal {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteString(fn(seg.Text))
	}
	return b.String()
}

// MaskLiterals replaces the contents of every literal with spaces, keeping
// the quotes and the length of the text.
func MaskLiterals(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	for _, seg := range Split(query) {
		if !seg.Literal {
			b.WriteString(seg.Text)
			continue
		}
		b.WriteByte('\'')
		inner := len(seg.Text) - 1
		closed := inner > 0 && strings.HasSuffix(seg.Text, "'")
		if closed {
			inner--
		}
		b.WriteString(strings.Repeat(" ", inner))
		if closed {
			b.WriteByte('\'')
		}
	}
	return b.String()
}
