// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// WeaviateSearcher retrieves evidence chunks by vector similarity.
//
// # Description
//
// WeaviateSearcher embeds the query through the embedding collaborator and
// runs a nearVector search over the EvidenceChunk class. Every query carries
// a workspace filter built inside this type; callers cannot construct a
// search that crosses workspaces.
//
// # Thread Safety
//
// WeaviateSearcher is safe for concurrent use. The underlying Weaviate
// client handles connection pooling.
//
// # Example
//
//	searcher := NewWeaviateSearcher(client, NewHTTPEmbedder(embedURL))
//	chunks, err := searcher.Search(ctx, workspaceID, "what changed in Q3?", 10)
type WeaviateSearcher struct {
	client   *weaviate.Client
	embedder EmbeddingProvider
}

// NewWeaviateSearcher creates a searcher over the given client and embedder.
func NewWeaviateSearcher(client *weaviate.Client, embedder EmbeddingProvider) *WeaviateSearcher {
	return &WeaviateSearcher{client: client, embedder: embedder}
}

// Search returns up to limit evidence chunks for the query, ordered by
// similarity (highest first).
//
// # Description
//
// The query is embedded, then matched against EvidenceChunk objects whose
// workspaceId equals the given workspace. Certainty (always in [0,1]) is
// requested instead of distance, which varies by metric. No similarity
// threshold is applied here: the caller owns the cut so it can distinguish
// "the corpus had nothing" from "everything scored too low".
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - workspaceID: The workspace whose corpus is searched.
//   - query: Free-text query to embed and match.
//   - limit: Maximum chunks to return.
//
// # Outputs
//
//   - []datatypes.EvidenceChunk: Matching chunks, highest similarity first.
//   - error: Non-nil if embedding or the search itself fails.
//
// # Limitations
//
//   - Returns an empty slice, not an error, when the workspace corpus is
//     empty.
func (s *WeaviateSearcher) Search(ctx context.Context, workspaceID string, query string, limit int) ([]datatypes.EvidenceChunk, error) {
	ctx, span := tracer.Start(ctx, "EvidenceSearch")
	defer span.End()

	slog.Debug("Searching evidence corpus",
		"workspaceID", workspaceID,
		"limit", limit)

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		slog.Error("Failed to embed query for evidence search", "error", err)
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	workspaceFilter := filters.Where().
		WithPath([]string{"workspaceId"}).
		WithOperator(filters.Equal).
		WithValueString(workspaceID)

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "documentId"},
		{Name: "fileName"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	result, err := s.client.GraphQL().Get().
		WithClassName(datatypes.EvidenceChunkClass).
		WithFields(fields...).
		WithWhere(workspaceFilter).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to search EvidenceChunk class", "error", err)
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate search failed: %s", result.Errors[0].Message)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.EvidenceChunkQueryResponse](result)
	if err != nil {
		slog.Error("Failed to parse evidence search results", "error", err)
		return nil, fmt.Errorf("failed to parse results: %w", err)
	}

	chunks := toEvidenceChunks(parsed.Get.EvidenceChunk)
	slog.Debug("Evidence search complete", "workspaceID", workspaceID, "found", len(chunks))
	return chunks, nil
}

// toEvidenceChunks converts raw query rows into evidence chunks sorted by
// similarity, highest first. Rows with an empty id are dropped; a chunk
// that cannot be cited is useless downstream.
func toEvidenceChunks(rows []datatypes.EvidenceChunkResult) []datatypes.EvidenceChunk {
	chunks := make([]datatypes.EvidenceChunk, 0, len(rows))
	for _, row := range rows {
		if row.Additional.ID == "" {
			continue
		}
		chunks = append(chunks, datatypes.EvidenceChunk{
			ID:               row.Additional.ID,
			Text:             row.Text,
			Similarity:       row.Additional.Certainty,
			SourceDocumentID: row.DocumentID,
			FileName:         row.FileName,
		})
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Similarity > chunks[j].Similarity
	})
	return chunks
}
