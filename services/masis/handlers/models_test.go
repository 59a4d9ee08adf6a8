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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

func TestGetModels(t *testing.T) {
	tiers := llm.DefaultTierSet("ollama")
	router := gin.New()
	router.GET("/v1/models", GetModels("ollama", tiers))

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/models", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ModelsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ollama", resp.Backend)
	require.Len(t, resp.Roles, 4)

	byRole := make(map[string]datatypes.ModelRole, len(resp.Roles))
	for _, role := range resp.Roles {
		byRole[role.Role] = role
	}
	assert.Equal(t, tiers.Draft.Model, byRole["draft"].Model)
	assert.Equal(t, tiers.Audit.Model, byRole["audit"].Model)

	// The reported tiers must show the judges outranking the drafter.
	assert.Greater(t, byRole["audit"].Tier, byRole["draft"].Tier)
	assert.Greater(t, byRole["evaluate"].Tier, byRole["draft"].Tier)
}
