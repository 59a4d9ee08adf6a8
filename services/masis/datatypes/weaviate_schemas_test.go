// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"encoding/json"
	"testing"

	"github.com/weaviate/weaviate/entities/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// GetEvidenceChunkSchema Tests
// =============================================================================

func TestGetEvidenceChunkSchema_ReturnsValidClass(t *testing.T) {
	schema := GetEvidenceChunkSchema()

	require.NotNil(t, schema)
	assert.Equal(t, EvidenceChunkClass, schema.Class)
	assert.Equal(t, "none", schema.Vectorizer)
	assert.Contains(t, schema.Description, "passage")
}

func TestGetEvidenceChunkSchema_HasRequiredProperties(t *testing.T) {
	schema := GetEvidenceChunkSchema()

	expectedProperties := []string{
		"text",
		"workspaceId",
		"documentId",
		"fileName",
		"chunkIndex",
		"ingestedAt",
	}

	require.NotNil(t, schema.Properties)
	assert.Len(t, schema.Properties, len(expectedProperties))

	propertyNames := make(map[string]bool)
	for _, prop := range schema.Properties {
		propertyNames[prop.Name] = true
	}

	for _, expected := range expectedProperties {
		assert.True(t, propertyNames[expected], "Missing property: %s", expected)
	}
}

func TestGetEvidenceChunkSchema_PropertyDataTypes(t *testing.T) {
	schema := GetEvidenceChunkSchema()

	propertyDataTypes := map[string]string{
		"text":        "text",
		"workspaceId": "text",
		"documentId":  "text",
		"fileName":    "text",
		"chunkIndex":  "int",
		"ingestedAt":  "number",
	}

	for _, prop := range schema.Properties {
		expectedType, exists := propertyDataTypes[prop.Name]
		if exists {
			require.NotEmpty(t, prop.DataType, "DataType for %s should not be empty", prop.Name)
			assert.Equal(t, expectedType, prop.DataType[0], "DataType mismatch for %s", prop.Name)
		}
	}
}

func TestGetEvidenceChunkSchema_FilterablePropertiesAreIndexed(t *testing.T) {
	schema := GetEvidenceChunkSchema()

	// Workspace and document filters back every query and every delete.
	// Losing the filterable index on these silently turns isolation
	// filters into full scans.
	mustBeFilterable := map[string]bool{
		"workspaceId": true,
		"documentId":  true,
		"chunkIndex":  true,
	}

	for _, prop := range schema.Properties {
		if !mustBeFilterable[prop.Name] {
			continue
		}
		require.NotNil(t, prop.IndexFilterable, "IndexFilterable for %s should be set", prop.Name)
		assert.True(t, *prop.IndexFilterable, "Property %s must be filterable", prop.Name)
	}
}

func TestGetEvidenceChunkSchema_InvertedIndexConfig(t *testing.T) {
	schema := GetEvidenceChunkSchema()

	require.NotNil(t, schema.InvertedIndexConfig)
	assert.True(t, schema.InvertedIndexConfig.IndexNullState)
	assert.True(t, schema.InvertedIndexConfig.IndexTimestamps)
}

// =============================================================================
// ParseGraphQLResponse Tests
// =============================================================================

func TestParseGraphQLResponse_NilResponse(t *testing.T) {
	parsed, err := ParseGraphQLResponse[EvidenceChunkQueryResponse](nil)

	require.Error(t, err)
	assert.Nil(t, parsed)
	assert.Contains(t, err.Error(), "nil GraphQL response")
}

func TestParseGraphQLResponse_EvidenceChunks(t *testing.T) {
	// Arrange: shape a response the way Weaviate returns Get queries.
	raw := `{
		"Get": {
			"EvidenceChunk": [
				{
					"text": "Revenue grew 12% in Q3.",
					"documentId": "doc-1",
					"fileName": "q3_report.md",
					"chunkIndex": 4,
					"_additional": {"id": "aaaa-bbbb", "certainty": 0.91}
				},
				{
					"text": "Margins held flat.",
					"documentId": "doc-1",
					"fileName": "q3_report.md",
					"chunkIndex": 5,
					"_additional": {"id": "cccc-dddd", "certainty": 0.74}
				}
			]
		}
	}`
	var data map[string]models.JSONObject
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	resp := &models.GraphQLResponse{Data: data}

	// Act
	parsed, err := ParseGraphQLResponse[EvidenceChunkQueryResponse](resp)

	// Assert
	require.NoError(t, err)
	require.Len(t, parsed.Get.EvidenceChunk, 2)
	first := parsed.Get.EvidenceChunk[0]
	assert.Equal(t, "Revenue grew 12% in Q3.", first.Text)
	assert.Equal(t, "doc-1", first.DocumentID)
	assert.Equal(t, 4, first.ChunkIndex)
	assert.Equal(t, "aaaa-bbbb", first.Additional.ID)
	assert.InDelta(t, 0.91, first.Additional.Certainty, 1e-9)
}

func TestParseGraphQLResponse_EmptyResult(t *testing.T) {
	var data map[string]models.JSONObject
	require.NoError(t, json.Unmarshal([]byte(`{"Get": {"EvidenceChunk": []}}`), &data))

	parsed, err := ParseGraphQLResponse[EvidenceChunkQueryResponse](&models.GraphQLResponse{Data: data})

	require.NoError(t, err)
	assert.Empty(t, parsed.Get.EvidenceChunk)
}
