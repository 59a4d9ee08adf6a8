// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes registers the MASIS HTTP surface on a Gin engine.
package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/handlers"
	"github.com/Adnan-Haque/MASIS/services/masis/ingest"
	"github.com/Adnan-Haque/MASIS/services/masis/middleware"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// Deps carries everything the handlers need. All fields except Archive
// and AuthToken are required.
type Deps struct {
	Meta    *store.MetadataStore
	Blobs   *store.BlobStore
	Vectors handlers.VectorDeleter
	Worker  *ingest.Worker
	Runner  handlers.SynthesisRunner
	Hub     *handlers.EventHub

	Weaviate *weaviate.Client
	Archive  handlers.Archiver

	Backend string
	Tiers   llm.TierSet

	// AuthToken protects the /v1 group when non-empty.
	AuthToken string

	// EnableMetrics exposes /metrics when true.
	EnableMetrics bool
}

// SetupRoutes registers every endpoint of the service.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/healthz", handlers.HealthCheck)
	router.GET("/readyz", handlers.ReadyCheck(deps.Weaviate))
	if deps.EnableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	v1 := router.Group("/v1")
	v1.Use(middleware.TokenAuth(deps.AuthToken))
	{
		v1.POST("/synthesis", handlers.Synthesize(deps.Runner, deps.Meta, deps.Hub))
		v1.GET("/synthesis/:id/events", handlers.StreamEvents(deps.Hub))
		v1.GET("/models", handlers.GetModels(deps.Backend, deps.Tiers))

		workspaces := v1.Group("/workspaces")
		{
			workspaces.POST("", handlers.CreateWorkspace(deps.Meta))
			workspaces.GET("", handlers.ListWorkspaces(deps.Meta))
			workspaces.GET("/:id", handlers.GetWorkspace(deps.Meta))
			workspaces.DELETE("/:id", handlers.DeleteWorkspace(deps.Meta, deps.Vectors, deps.Blobs))

			workspaces.POST("/:id/documents", handlers.UploadDocument(deps.Worker, deps.Meta, deps.Archive))
			workspaces.GET("/:id/documents", handlers.ListDocuments(deps.Meta))
			workspaces.GET("/:id/documents/:docID", handlers.GetDocument(deps.Meta))
			workspaces.DELETE("/:id/documents/:docID", handlers.DeleteDocument(deps.Meta, deps.Vectors, deps.Blobs))
		}
	}
}
