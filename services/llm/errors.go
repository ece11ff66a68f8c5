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

import "errors"

var (
	// ErrUnknownBackend is returned by NewClient for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown llm backend")

	// ErrMissingAPIKey is returned when a hosted backend has no credentials.
	ErrMissingAPIKey = errors.New("api key is missing")

	// ErrEmptyResponse is returned when a backend answers with no choices.
	ErrEmptyResponse = errors.New("llm returned an empty response")

	// ErrNotReady is returned by WaitReady when the server never came up.
	ErrNotReady = errors.New("llm server not ready")
)
