// Copyright (C) 2025 Adnan Haque
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
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/handlers"
	"github.com/Adnan-Haque/MASIS/services/masis/ingest"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopRunner struct{}

func (noopRunner) Run(_ context.Context, rec *datatypes.PipelineRecord) (*datatypes.PipelineRecord, error) {
	rec.FinalAnswer = "ok"
	return rec, nil
}

type noopVectors struct{}

func (noopVectors) DeleteByDocument(context.Context, string, string) (int, error) {
	return 0, nil
}

func (noopVectors) DeleteByWorkspace(context.Context, string) (int, error) {
	return 0, nil
}

// newTestRouter assembles a full route table against in-memory stores.
func newTestRouter(t *testing.T, authToken string, enableMetrics bool) *gin.Engine {
	t.Helper()

	meta, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := store.NewBlobStore(t.TempDir())
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, Deps{
		Meta:          meta,
		Blobs:         blobs,
		Vectors:       noopVectors{},
		Worker:        ingest.NewWorker(ingest.Config{}, meta, blobs, nil, nil),
		Runner:        noopRunner{},
		Hub:           handlers.NewEventHub(),
		Weaviate:      nil,
		Backend:       "ollama",
		Tiers:         llm.DefaultTierSet("ollama"),
		AuthToken:     authToken,
		EnableMetrics: enableMetrics,
	})
	return router
}

func get(router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_HealthEndpointsAreOpen(t *testing.T) {
	router := newTestRouter(t, "secret", false)

	assert.Equal(t, http.StatusOK, get(router, "/healthz", "").Code)
	// No Weaviate client wired, so readiness reports unavailable.
	assert.Equal(t, http.StatusServiceUnavailable, get(router, "/readyz", "").Code)
}

func TestSetupRoutes_MetricsToggle(t *testing.T) {
	withMetrics := newTestRouter(t, "", true)
	assert.Equal(t, http.StatusOK, get(withMetrics, "/metrics", "").Code)

	withoutMetrics := newTestRouter(t, "", false)
	assert.Equal(t, http.StatusNotFound, get(withoutMetrics, "/metrics", "").Code)
}

func TestSetupRoutes_AuthProtectsV1(t *testing.T) {
	router := newTestRouter(t, "secret", false)

	assert.Equal(t, http.StatusUnauthorized, get(router, "/v1/models", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(router, "/v1/workspaces", "wrong").Code)
	assert.Equal(t, http.StatusOK, get(router, "/v1/models", "secret").Code)
	assert.Equal(t, http.StatusOK, get(router, "/v1/workspaces", "secret").Code)
}

func TestSetupRoutes_EmptyTokenDisablesAuth(t *testing.T) {
	router := newTestRouter(t, "", false)

	assert.Equal(t, http.StatusOK, get(router, "/v1/models", "").Code)
	assert.Equal(t, http.StatusOK, get(router, "/v1/workspaces", "").Code)
}

func TestSetupRoutes_WorkspaceSubroutesRegistered(t *testing.T) {
	router := newTestRouter(t, "", false)

	// Unknown ids route to the handlers, which answer 404 from the store
	// rather than from the router.
	w := get(router, "/v1/workspaces/7b0c8a4e-1111-4222-8333-444455556666", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "workspace not found")

	w = get(router, "/v1/workspaces/7b0c8a4e-1111-4222-8333-444455556666/documents", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "workspace not found")
}
