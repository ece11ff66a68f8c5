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
	"math"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
)

const (
	confidenceRetrieved  = 0.8
	confidenceNoEvidence = 0.3
	confidenceRows       = 0.9
	confidenceEmptyRows  = 0.6
	confidenceFailed     = 0.2
	confidencePerRepair  = 0.1
	confidenceFloor      = 0.1
)

// Confidence scores a finished run. It is a rough signal for ranking batch
// output, not a calibrated probability.
func Confidence(s *datatypes.RunState) float64 {
	var score float64
	switch {
	case !s.Classification.UsesQuery():
		score = confidenceNoEvidence
		if len(s.Passages) > 0 {
			score = confidenceRetrieved
		}
	case s.QueryError != "" || s.RepairState == datatypes.RepairExhausted:
		score = confidenceFailed
	case len(s.Rows) > 0:
		score = confidenceRows
	default:
		score = confidenceEmptyRows
	}

	score -= confidencePerRepair * float64(s.AttemptCount)
	if score < confidenceFloor {
		score = confidenceFloor
	}
	return math.Round(score*100) / 100
}
