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
	"math"
	"strings"
	"unicode"
)

// BM25 parameters. Negative IDF values (terms present in more than half the
// documents) are floored to Epsilon times the mean IDF.
type BM25Params struct {
	K1      float64
	B       float64
	Epsilon float64
}

// DefaultBM25Params returns the usual Okapi settings.
func DefaultBM25Params() BM25Params {
	return BM25Params{K1: 1.5, B: 0.75, Epsilon: 0.25}
}

// okapi is an immutable BM25 Okapi scorer over a tokenized corpus.
type okapi struct {
	params  BM25Params
	docLens []int
	avgdl   float64
	freqs   []map[string]int
	idf     map[string]float64
}

func newOkapi(corpus [][]string, params BM25Params) *okapi {
	o := &okapi{
		params:  params,
		docLens: make([]int, len(corpus)),
		freqs:   make([]map[string]int, len(corpus)),
		idf:     make(map[string]float64),
	}

	df := make(map[string]int)
	total := 0
	for i, doc := range corpus {
		o.docLens[i] = len(doc)
		total += len(doc)
		tf := make(map[string]int, len(doc))
		for _, term := range doc {
			tf[term]++
		}
		o.freqs[i] = tf
		for term := range tf {
			df[term]++
		}
	}
	if len(corpus) > 0 {
		o.avgdl = float64(total) / float64(len(corpus))
	}

	n := float64(len(corpus))
	var idfSum float64
	var negative []string
	for term, freq := range df {
		idf := math.Log(n-float64(freq)+0.5) - math.Log(float64(freq)+0.5)
		o.idf[term] = idf
		idfSum += idf
		if idf < 0 {
			negative = append(negative, term)
		}
	}
	if len(o.idf) > 0 {
		floor := params.Epsilon * idfSum / float64(len(o.idf))
		for _, term := range negative {
			o.idf[term] = floor
		}
	}
	return o
}

// scores returns one BM25 score per document. Repeated query terms count
// once per occurrence.
func (o *okapi) scores(query []string) []float64 {
	out := make([]float64, len(o.freqs))
	if o.avgdl == 0 {
		return out
	}
	k1, b := o.params.K1, o.params.B
	for _, q := range query {
		idf, ok := o.idf[q]
		if !ok {
			continue
		}
		for i, tf := range o.freqs {
			f := float64(tf[q])
			if f == 0 {
				continue
			}
			norm := k1 * (1 - b + b*float64(o.docLens[i])/o.avgdl)
			out[i] += idf * (f * (k1 + 1) / (f + norm))
		}
	}
	return out
}

// tokenize lower-cases text, splits it on whitespace and trims punctuation
// from both ends of each token, so "policy?" and "policy" match.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimFunc(f, unicode.IsPunct); f != "" {
			out = append(out, f)
		}
	}
	return out
}
