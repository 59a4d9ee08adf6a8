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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// ChunkUpsert is one embedded chunk ready for storage.
type ChunkUpsert struct {
	WorkspaceID string
	DocumentID  string
	FileName    string
	ChunkIndex  int
	Text        string
	Vector      []float32
}

// EvidenceStore is the write side of the evidence corpus. The ingestion
// worker batches chunks through it; document deletion removes a document's
// chunks through it.
type EvidenceStore struct {
	client *weaviate.Client
}

// NewEvidenceStore creates a store over the given Weaviate client.
func NewEvidenceStore(client *weaviate.Client) *EvidenceStore {
	return &EvidenceStore{client: client}
}

// chunkObjectID derives the stable Weaviate object id for a chunk.
// Re-ingesting the same document content produces the same ids, so repeated
// ingestion upserts in place instead of duplicating the corpus. The document
// id and index are hashed alongside the text so identical passages in two
// documents remain separately deletable.
func chunkObjectID(c ChunkUpsert) strfmt.UUID {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s/%s/%d\n%s", c.WorkspaceID, c.DocumentID, c.ChunkIndex, c.Text)))
	id, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(id.String())
}

// UpsertBatch writes a batch of chunks in one request and returns the count
// stored successfully. Per-item failures are logged and counted rather than
// aborting the batch; the caller compares the returned count against the
// batch size.
func (s *EvidenceStore) UpsertBatch(ctx context.Context, chunks []ChunkUpsert) (int, error) {
	ctx, span := tracer.Start(ctx, "EvidenceUpsertBatch")
	defer span.End()

	if len(chunks) == 0 {
		return 0, nil
	}

	objects := make([]*models.Object, len(chunks))
	now := time.Now().UnixMilli()
	for i, chunk := range chunks {
		objects[i] = &models.Object{
			Class:  datatypes.EvidenceChunkClass,
			ID:     chunkObjectID(chunk),
			Vector: chunk.Vector,
			Properties: map[string]interface{}{
				"text":        chunk.Text,
				"workspaceId": chunk.WorkspaceID,
				"documentId":  chunk.DocumentID,
				"fileName":    chunk.FileName,
				"chunkIndex":  chunk.ChunkIndex,
				"ingestedAt":  now,
			},
		}
	}

	resp, err := s.client.Batch().ObjectsBatcher().
		WithObjects(objects...).
		Do(ctx)
	if err != nil {
		slog.Error("Failed to perform batch import to Weaviate", "error", err)
		return 0, fmt.Errorf("failed to save chunks to Weaviate: %w", err)
	}

	stored := 0
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			stored++
			continue
		}
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "error", errItem.Message)
			}
		} else {
			slog.Warn("Failed Weaviate batch item, no error provided")
		}
	}
	return stored, nil
}

// DeleteByDocument removes every chunk belonging to the document within the
// workspace and returns the number removed.
func (s *EvidenceStore) DeleteByDocument(ctx context.Context, workspaceID, documentID string) (int, error) {
	ctx, span := tracer.Start(ctx, "EvidenceDeleteByDocument")
	defer span.End()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"workspaceId"}).
				WithOperator(filters.Equal).
				WithValueString(workspaceID),
			filters.Where().
				WithPath([]string{"documentId"}).
				WithOperator(filters.Equal).
				WithValueString(documentID),
		})

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.EvidenceChunkClass).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch delete failed for document %s: %w", documentID, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	if resp.Results.Failed > 0 {
		slog.Warn("Some chunks failed to delete",
			"documentID", documentID,
			"failed", resp.Results.Failed,
			"successful", resp.Results.Successful)
	}
	return int(resp.Results.Successful), nil
}

// DeleteByWorkspace removes the entire corpus of a workspace. Used when the
// workspace itself is deleted.
func (s *EvidenceStore) DeleteByWorkspace(ctx context.Context, workspaceID string) (int, error) {
	ctx, span := tracer.Start(ctx, "EvidenceDeleteByWorkspace")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"workspaceId"}).
		WithOperator(filters.Equal).
		WithValueString(workspaceID)

	resp, err := s.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.EvidenceChunkClass).
		WithOutput("minimal").
		WithWhere(where).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("batch delete failed for workspace %s: %w", workspaceID, err)
	}
	if resp == nil || resp.Results == nil {
		return 0, nil
	}
	return int(resp.Results.Successful), nil
}
