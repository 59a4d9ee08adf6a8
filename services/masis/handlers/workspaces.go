// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// VectorDeleter removes indexed chunks when their source document or
// workspace goes away. Satisfied by search.EvidenceStore.
type VectorDeleter interface {
	DeleteByDocument(ctx context.Context, workspaceID, documentID string) (int, error)
	DeleteByWorkspace(ctx context.Context, workspaceID string) (int, error)
}

// CreateWorkspace handles POST /v1/workspaces.
func CreateWorkspace(meta *store.MetadataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.CreateWorkspaceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
				Error: "name must be 1-63 lowercase letters, digits, or interior hyphens",
			})
			return
		}

		ws := datatypes.NewWorkspace(req.Name)
		if err := meta.CreateWorkspace(ws); err != nil {
			slog.Error("Failed to create workspace", "name", req.Name, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to create workspace"})
			return
		}

		slog.Info("Workspace created", "workspaceID", ws.ID, "name", ws.Name)
		c.JSON(http.StatusCreated, datatypes.NewWorkspaceResponse(ws, 0))
	}
}

// ListWorkspaces handles GET /v1/workspaces.
func ListWorkspaces(meta *store.MetadataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaces, err := meta.ListWorkspaces()
		if err != nil {
			slog.Error("Failed to list workspaces", "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to list workspaces"})
			return
		}

		out := make([]datatypes.WorkspaceResponse, 0, len(workspaces))
		for _, ws := range workspaces {
			count, err := meta.CountDocuments(ws.ID)
			if err != nil {
				slog.Warn("Failed to count documents", "workspaceID", ws.ID, "error", err)
			}
			out = append(out, datatypes.NewWorkspaceResponse(ws, count))
		}
		c.JSON(http.StatusOK, gin.H{"workspaces": out})
	}
}

// GetWorkspace handles GET /v1/workspaces/:id.
func GetWorkspace(meta *store.MetadataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Param("id")

		ws, err := meta.GetWorkspace(workspaceID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "workspace not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to load workspace", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load workspace"})
			return
		}

		count, err := meta.CountDocuments(workspaceID)
		if err != nil {
			slog.Warn("Failed to count documents", "workspaceID", workspaceID, "error", err)
		}
		c.JSON(http.StatusOK, datatypes.NewWorkspaceResponse(ws, count))
	}
}

// DeleteWorkspace handles DELETE /v1/workspaces/:id. Vectors go first so a
// partial failure leaves the metadata intact and the delete retryable.
func DeleteWorkspace(meta *store.MetadataStore, vectors VectorDeleter, blobs *store.BlobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Param("id")

		if _, err := meta.GetWorkspace(workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "workspace not found"})
				return
			}
			slog.Error("Failed to load workspace", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load workspace"})
			return
		}

		deleted, err := vectors.DeleteByWorkspace(c.Request.Context(), workspaceID)
		if err != nil {
			slog.Error("Failed to delete workspace vectors", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to delete workspace vectors"})
			return
		}

		if err := blobs.DeleteWorkspace(workspaceID); err != nil {
			slog.Error("Failed to delete workspace blobs", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to delete workspace blobs"})
			return
		}

		if err := meta.DeleteWorkspace(workspaceID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to delete workspace metadata", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to delete workspace metadata"})
			return
		}

		slog.Info("Workspace deleted", "workspaceID", workspaceID, "vectorsDeleted", deleted)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "workspace_id": workspaceID})
	}
}
