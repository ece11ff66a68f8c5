// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry sets up OpenTelemetry tracing, OpenTelemetry metrics and
// slog logging for the copilot.
//
// # Trace Backend
//
// Spans go to an OTLP collector over an insecure gRPC connection when
// OTEL_EXPORTER_OTLP_ENDPOINT names one, to stdout when it is "stdout", and
// nowhere when it is unset.
//
// # Metrics Backend (default: Prometheus)
//
// OpenTelemetry instruments (the LLM call counter and latency histogram)
// are exported through the Prometheus exporter and served from /metrics
// alongside the client_golang collectors of the observability package.
//
// # Logging
//
// log/slog with a JSON handler on stderr by default. LoggerWithTrace adds
// trace_id and span_id for correlation.
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(ctx)
//
// # Thread Safety
//
// All exported functions are safe for concurrent use after Init() returns.
package telemetry
