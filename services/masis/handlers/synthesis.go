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
	"github.com/google/uuid"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// SynthesisRunner drives one pipeline record to a terminal state.
// Satisfied by pipeline.Pipeline.
type SynthesisRunner interface {
	Run(ctx context.Context, rec *datatypes.PipelineRecord) (*datatypes.PipelineRecord, error)
}

// Synthesize handles POST /v1/synthesis.
//
// # Description
//
// Validates the request, checks the workspace exists, runs the synthesis
// pipeline to a terminal state, and returns the flattened record. The
// request id is taken from the X-Request-ID header when the caller sends a
// valid UUID there (so it can watch /v1/synthesis/:id/events before the
// pipeline starts), otherwise one is generated.
//
// The call blocks for the duration of the pipeline; escalations are
// reported as status needs_clarification in a 200 response, never as an
// HTTP error.
func Synthesize(runner SynthesisRunner, meta *store.MetadataStore, hub *EventHub) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.SynthesisRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: validationMessage(err)})
			return
		}

		if _, err := meta.GetWorkspace(req.WorkspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "workspace not found"})
				return
			}
			slog.Error("Failed to load workspace", "workspaceID", req.WorkspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load workspace"})
			return
		}

		requestID := requestIDFor(c)
		if hub != nil {
			hub.Open(requestID)
		}

		rec := datatypes.NewPipelineRecord(requestID, req.Query, req.WorkspaceID, req.RetryCeiling)

		slog.Info("Synthesis request accepted",
			"requestID", requestID,
			"workspaceID", req.WorkspaceID,
			"retryCeiling", rec.EffectiveRetryCeiling())

		rec, err := runner.Run(c.Request.Context(), rec)
		if err != nil {
			// Run only errors when the caller's context died; the client
			// is gone, but close the request cleanly for middleware. The
			// pipeline never reached OnComplete, so the event stream must
			// be released here or it leaks.
			if hub != nil {
				hub.Abort(requestID)
			}
			slog.Warn("Synthesis canceled", "requestID", requestID, "error", err)
			c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{Error: "request canceled"})
			return
		}

		c.JSON(http.StatusOK, datatypes.NewSynthesisResponse(rec))
	}
}

// requestIDFor honors a caller-supplied X-Request-ID when it is a valid
// UUID; anything else gets a fresh one.
func requestIDFor(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		if _, err := uuid.Parse(id); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

// validationMessage maps validator failures to a stable client-facing
// message without leaking struct internals.
func validationMessage(err error) string {
	msg := "invalid request"
	if err == nil {
		return msg
	}
	return "query must be non-empty and at most 8 KB, workspace_id must be a UUID, " +
		"retry_ceiling must be between 0 and 5"
}
