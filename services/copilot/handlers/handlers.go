// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the copilot over HTTP with gin.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/RetailCopilot/services/copilot/datatypes"
	"github.com/AleutianAI/RetailCopilot/services/copilot/graph"
)

var tracer = otel.Tracer("copilot.handlers")

// maxSearchK caps the k query parameter of the passage search.
const maxSearchK = 20

// Runner answers one question. Satisfied by *graph.Graph.
type Runner interface {
	Run(ctx context.Context, question, formatHint string) (*datatypes.RunState, error)
}

// SchemaSource describes the database. Satisfied by *evidence.Store.
type SchemaSource interface {
	Schema(ctx context.Context) string
	KnownTables() []datatypes.TableRef
}

// Searcher looks up passages. Satisfied by *passages.Index and
// *passages.Live.
type Searcher interface {
	Search(query string, k int) []datatypes.Passage
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleAsk runs a single question through the copilot.
//
// # Description
//
// Binds an AskRequest body and answers it synchronously. A body without a
// question is rejected with 400. A run that fails at any step returns 500
// with the error and, when one was assigned, the run id.
//
// # Outputs
//
// 200 with an AskResponse.
func HandleAsk(runner Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleAsk")
		defer span.End()

		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("Failed to parse the ask request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		state, err := runner.Run(ctx, req.Question, req.FormatHint)
		if errors.Is(err, graph.ErrEmptyQuestion) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Ask failed", "error", err)
			body := gin.H{"error": err.Error()}
			if state != nil {
				body["run_id"] = state.RunID
			}
			c.JSON(http.StatusInternalServerError, body)
			return
		}

		span.SetAttributes(
			attribute.String("run_id", state.RunID),
			attribute.String("route", state.Classification.String()),
		)
		c.JSON(http.StatusOK, datatypes.NewAskResponse(state))
	}
}

// HandleSchema returns the schema text the query generator sees and the
// tables citations can name.
func HandleSchema(src SchemaSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleSchema")
		defer span.End()

		tables := make([]string, 0, len(src.KnownTables()))
		for _, t := range src.KnownTables() {
			tables = append(tables, t.Name)
		}
		c.JSON(http.StatusOK, gin.H{
			"schema": src.Schema(ctx),
			"tables": tables,
		})
	}
}

// HandleSearch returns the top passages for ?q=, k defaulting to 3.
func HandleSearch(index Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		query := c.Query("q")
		if query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing q parameter"})
			return
		}
		k, err := strconv.Atoi(c.DefaultQuery("k", strconv.Itoa(graph.DefaultTopK)))
		if err != nil || k < 1 || k > maxSearchK {
			c.JSON(http.StatusBadRequest, gin.H{"error": "k must be between 1 and 20"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"passages": index.Search(query, k)})
	}
}
