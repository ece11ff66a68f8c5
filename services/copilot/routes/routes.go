// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/RetailCopilot/services/copilot/handlers"
)

// Services are the collaborators the HTTP API serves from.
type Services struct {
	Runner  handlers.Runner
	Schema  handlers.SchemaSource
	Search  handlers.Searcher
	Metrics http.Handler
}

// NewRouter returns a gin engine with recovery and tracing middleware and
// every route registered.
func NewRouter(serviceName string, svc Services) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	SetupRoutes(router, svc)
	return router
}

// SetupRoutes registers the copilot API on router. A nil Metrics handler
// falls back to the default Prometheus registry.
func SetupRoutes(router *gin.Engine, svc Services) {
	metrics := svc.Metrics
	if metrics == nil {
		metrics = promhttp.Handler()
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(metrics))

	v1 := router.Group("/v1")
	{
		v1.POST("/ask", handlers.HandleAsk(svc.Runner))
		v1.GET("/schema", handlers.HandleSchema(svc.Schema))
		v1.GET("/passages", handlers.HandleSearch(svc.Search))
	}
}
