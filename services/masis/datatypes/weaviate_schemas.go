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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// EvidenceChunkClass is the single Weaviate class holding the evidence
// corpus. Every property filter in the service references the names defined
// here.
const EvidenceChunkClass = "EvidenceChunk"

// GetEvidenceChunkSchema returns the class definition for the evidence
// corpus. Vectors come from the embedding sidecar, so the class vectorizer
// is "none".
func GetEvidenceChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       EvidenceChunkClass,
		Description: "One retrievable passage split from an ingested document.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			Bm25:                   nil,
			CleanupIntervalSeconds: 0,
			IndexNullState:         true,
			IndexPropertyLength:    false,
			IndexTimestamps:        true,
			Stopwords:              nil,
			UsingBlockMaxWAND:      false,
		},
		Properties: []*models.Property{
			{
				Name:         "text",
				DataType:     []string{"text"},
				Description:  "The passage content as stored at ingestion time.",
				Tokenization: "word",
			},
			{
				Name:            "workspaceId",
				DataType:        []string{"text"},
				Description:     "Owning workspace. Every query filters on this.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "documentId",
				DataType:        []string{"text"},
				Description:     "The document this passage was split from.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "fileName",
				DataType:        []string{"text"},
				Description:     "Original upload name, carried for display.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "chunkIndex",
				DataType:        []string{"int"},
				Description:     "Zero-based position of the passage within its document.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "ingestedAt",
				DataType:        []string{"number"},
				Description:     "Timestamp (Unix ms) of when the chunk was stored.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates any missing classes at startup. Existing
// classes are left untouched; Weaviate rejects in-place property changes,
// so schema migration is a deployment concern, not a startup one.
func EnsureWeaviateSchema(client *weaviate.Client) error {
	schemaGetters := []func() *models.Class{
		GetEvidenceChunkSchema,
	}

	for _, getSchema := range schemaGetters {
		class := getSchema()
		slog.Info("Checking schema", "class", class.Class)

		_, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(context.Background())
		if err != nil {
			// The client errors when the class does not exist yet.
			slog.Info("Schema not found, creating it...", "class", class.Class)
			if err := client.Schema().ClassCreator().WithClass(class).Do(context.Background()); err != nil {
				return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
			}
			slog.Info("Successfully created schema", "class", class.Class)
		} else {
			slog.Info("Schema already exists", "class", class.Class)
		}
	}
	return nil
}
