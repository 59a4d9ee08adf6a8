// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if response is nil or parsing fails.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName("EvidenceChunk").Do(ctx)
//	if err != nil { ... }
//
//	parsed, err := ParseGraphQLResponse[EvidenceChunkQueryResponse](resp)
//	if err != nil { ... }
//
//	for _, chunk := range parsed.Get.EvidenceChunk {
//	    fmt.Println(chunk.Additional.ID)
//	}
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches will result in zero values, not errors.
//
// # Assumptions
//
//   - The response Data field is JSON-marshalable.
//   - The target type T has correct json tags.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// EvidenceChunk Response Types
// =============================================================================

// EvidenceChunkQueryResponse represents the response from querying the
// EvidenceChunk class.
type EvidenceChunkQueryResponse struct {
	Get struct {
		EvidenceChunk []EvidenceChunkResult `json:"EvidenceChunk"`
	} `json:"Get"`
}

// EvidenceChunkResult is a single chunk row from a query. Certainty is only
// populated on nearVector queries; plain filtered reads leave it zero.
type EvidenceChunkResult struct {
	Text       string `json:"text"`
	DocumentID string `json:"documentId"`
	FileName   string `json:"fileName"`
	ChunkIndex int    `json:"chunkIndex"`
	Additional struct {
		ID        string  `json:"id"`
		Certainty float64 `json:"certainty"`
	} `json:"_additional"`
}

// EvidenceChunkAggregateResponse represents a grouped count over the
// EvidenceChunk class, used for per-document chunk counts.
type EvidenceChunkAggregateResponse struct {
	Aggregate struct {
		EvidenceChunk []struct {
			GroupedBy struct {
				Value string `json:"value"`
			} `json:"groupedBy"`
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
		} `json:"EvidenceChunk"`
	} `json:"Aggregate"`
}
