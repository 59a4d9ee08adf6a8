// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server liveness, readiness, and model configuration",
	Run:   runHealthCommand,
}

func runHealthCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := commandContext()
	defer cancel()

	printTitle("MASIS deployment health")

	healthy := true

	var live struct {
		Status string `json:"status"`
	}
	if err := doJSON(ctx, http.MethodGet, "/healthz", nil, &live); err != nil {
		printWarning(fmt.Sprintf("server: unreachable (%v)", err))
		os.Exit(1)
	}
	printSuccess("server: " + live.Status)

	var ready struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := doJSON(ctx, http.MethodGet, "/readyz", nil, &ready); err != nil {
		printWarning("search backend: not ready")
		healthy = false
	} else {
		printSuccess("search backend: " + ready.Status)
	}

	var models datatypes.ModelsResponse
	if err := doJSON(ctx, http.MethodGet, "/v1/models", nil, &models); err != nil {
		printWarning(fmt.Sprintf("models: %v", err))
		healthy = false
	} else {
		printMuted("backend: " + models.Backend)
		for _, role := range models.Roles {
			fmt.Printf("  %-10s tier %d  %s\n", role.Role, role.Tier, role.Model)
		}
	}

	if !healthy {
		os.Exit(1)
	}
}
