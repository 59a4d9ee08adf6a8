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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

var (
	askWorkspaceID string
	askRetries     int
	askJSONOutput  bool
	askShowTrace   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Submit a question to the synthesis pipeline",
	Long: `Submits a question against a workspace and waits for the pipeline
to finalize or escalate.

Examples:
  masisctl ask --workspace 4f0a... "What was Q3 revenue?"
  masisctl ask --workspace 4f0a... --retries 3 --trace "Summarize the audit findings"
  masisctl ask --workspace 4f0a... --json "..." | jq .confidence`,
	Args: cobra.MinimumNArgs(1),
	Run:  runAskCommand,
}

func init() {
	askCmd.Flags().StringVarP(&askWorkspaceID, "workspace", "w", "",
		"Workspace id to search (required)")
	askCmd.Flags().IntVarP(&askRetries, "retries", "r", 0,
		"Retry ceiling override (0 uses the server default)")
	askCmd.Flags().BoolVar(&askJSONOutput, "json", false,
		"Print the raw response as JSON")
	askCmd.Flags().BoolVar(&askShowTrace, "trace", false,
		"Print the stage trace after the answer")
	_ = askCmd.MarkFlagRequired("workspace")
}

func runAskCommand(cmd *cobra.Command, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	req := datatypes.SynthesisRequest{
		Query:        strings.Join(args, " "),
		WorkspaceID:  askWorkspaceID,
		RetryCeiling: askRetries,
	}

	var resp datatypes.SynthesisResponse
	if err := doJSON(ctx, http.MethodPost, "/v1/synthesis", req, &resp); err != nil {
		fail("synthesis failed: %v", err)
	}

	if askJSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(resp)
		return
	}

	if resp.Status == datatypes.StatusNeedsClarification {
		printWarning("needs clarification")
		fmt.Println(resp.ClarificationQuestion)
		if resp.Answer != "" {
			printMuted("\nBest draft so far:")
			fmt.Println(render(styleAnswerBox, resp.Answer))
		}
	} else {
		fmt.Println(render(styleAnswerBox, resp.Answer))
	}

	printMuted(fmt.Sprintf("confidence %.2f | retries %d | audit history %v",
		resp.Confidence, resp.RetryCount, resp.AuditHistory))
	if resp.Evaluation != nil {
		printMuted(fmt.Sprintf(
			"faithfulness %.2f | relevance %.2f | completeness %.2f | reasoning %.2f | overall %.2f",
			resp.Evaluation.Faithfulness, resp.Evaluation.Relevance,
			resp.Evaluation.Completeness, resp.Evaluation.ReasoningQuality,
			resp.Evaluation.OverallScore))
	}

	if askShowTrace {
		printTitle("\nStage trace")
		for _, entry := range resp.Trace {
			fmt.Printf("  %-10s retry=%d %dms", entry.Node, entry.RetryCount, entry.DurationMS)
			if entry.Candidates > 0 {
				fmt.Printf(" candidates=%d survivors=%d avg=%.2f",
					entry.Candidates, entry.Survivors, entry.AvgSimilarity)
			}
			if entry.Confidence > 0 {
				fmt.Printf(" confidence=%.2f", entry.Confidence)
			}
			fmt.Println()
		}
	}
}
