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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// GetModels handles GET /v1/models. Reports the role-to-model assignment
// so operators can verify the judge-outranks-drafter invariant against a
// live deployment.
func GetModels(backend string, tiers llm.TierSet) gin.HandlerFunc {
	resp := datatypes.ModelsResponse{
		Backend: backend,
		Roles: []datatypes.ModelRole{
			{Role: string(llm.RoleDraft), Model: tiers.Draft.Model, Tier: tiers.Draft.Tier},
			{Role: string(llm.RoleCompress), Model: tiers.Compress.Model, Tier: tiers.Compress.Tier},
			{Role: string(llm.RoleAudit), Model: tiers.Audit.Model, Tier: tiers.Audit.Tier},
			{Role: string(llm.RoleEvaluate), Model: tiers.Evaluate.Model, Tier: tiers.Evaluate.Tier},
		},
	}
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, resp)
	}
}
