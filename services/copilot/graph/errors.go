// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "errors"

// Sentinel errors for the graph.
var (
	// ErrMissingDependency is returned by New when a collaborator is nil.
	ErrMissingDependency = errors.New("missing graph dependency")

	// ErrInvalidTransition indicates a repair loop state change that the
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid repair state transition")

	// ErrEmptyQuestion is returned by Run for blank questions.
	ErrEmptyQuestion = errors.New("question must not be empty")
)
