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
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

var workspaceCmd = &cobra.Command{
	Use:   "workspace",
	Short: "Manage workspaces",
}

var workspaceName string

var workspaceCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workspace",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		req := datatypes.CreateWorkspaceRequest{Name: workspaceName}
		var ws datatypes.WorkspaceResponse
		if err := doJSON(ctx, http.MethodPost, "/v1/workspaces", req, &ws); err != nil {
			fail("create failed: %v", err)
		}
		printSuccess(fmt.Sprintf("workspace %s created (%s)", ws.Name, ws.ID))
	},
}

var workspaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workspaces with document counts",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		var resp struct {
			Workspaces []datatypes.WorkspaceResponse `json:"workspaces"`
		}
		if err := doJSON(ctx, http.MethodGet, "/v1/workspaces", nil, &resp); err != nil {
			fail("list failed: %v", err)
		}
		if len(resp.Workspaces) == 0 {
			printMuted("no workspaces")
			return
		}
		printTitle("Workspaces")
		for _, ws := range resp.Workspaces {
			fmt.Printf("  %s  %-24s %d documents\n", ws.ID, ws.Name, ws.DocumentCount)
		}
	},
}

var workspaceDeleteCmd = &cobra.Command{
	Use:   "delete [workspace-id]",
	Short: "Delete a workspace, its documents, and its vectors",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		if err := doJSON(ctx, http.MethodDelete, "/v1/workspaces/"+args[0], nil, nil); err != nil {
			fail("delete failed: %v", err)
		}
		printSuccess("workspace deleted")
	},
}

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Manage workspace documents",
}

var documentWorkspaceID string

var documentUploadCmd = &cobra.Command{
	Use:   "upload [file...]",
	Short: "Upload files for ingestion",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		path := "/v1/workspaces/" + documentWorkspaceID + "/documents"
		for _, filePath := range args {
			var doc datatypes.DocumentResponse
			if err := uploadFile(ctx, path, filePath, &doc); err != nil {
				fail("upload of %s failed: %v", filePath, err)
			}
			printSuccess(fmt.Sprintf("%s accepted (%s, %s)", doc.FileName, doc.ID, doc.Status))
		}
	},
}

var documentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents with ingestion progress",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := commandContext()
		defer cancel()

		var resp struct {
			Documents []datatypes.DocumentResponse `json:"documents"`
		}
		path := "/v1/workspaces/" + documentWorkspaceID + "/documents"
		if err := doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
			fail("list failed: %v", err)
		}
		if len(resp.Documents) == 0 {
			printMuted("no documents")
			return
		}
		printTitle("Documents")
		for _, doc := range resp.Documents {
			progress := ""
			if doc.Status == datatypes.DocumentProcessing && doc.ChunksTotal > 0 {
				progress = fmt.Sprintf(" (%d/%d chunks)", doc.ChunksProcessed, doc.ChunksTotal)
			}
			fmt.Printf("  %s  %-32s %s%s\n", doc.ID, doc.FileName, doc.Status, progress)
		}
	},
}

func init() {
	workspaceCreateCmd.Flags().StringVarP(&workspaceName, "name", "n", "",
		"Workspace name (lowercase slug)")
	_ = workspaceCreateCmd.MarkFlagRequired("name")

	workspaceCmd.AddCommand(workspaceCreateCmd)
	workspaceCmd.AddCommand(workspaceListCmd)
	workspaceCmd.AddCommand(workspaceDeleteCmd)

	documentCmd.PersistentFlags().StringVarP(&documentWorkspaceID, "workspace", "w", "",
		"Workspace id (required)")
	_ = documentCmd.MarkPersistentFlagRequired("workspace")
	documentCmd.AddCommand(documentUploadCmd)
	documentCmd.AddCommand(documentListCmd)
}

// commandContext returns the standard timeout for management commands.
func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}
