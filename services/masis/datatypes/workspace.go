// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the persisted workspace and document models backing
// the metadata store.
package datatypes

import "time"

// =============================================================================
// Workspace
// =============================================================================

// Workspace is the tenant scope. Every document, vector, and synthesis
// request belongs to exactly one workspace; nothing crosses the boundary.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewWorkspace creates a workspace with a fresh id.
func NewWorkspace(name string) *Workspace {
	return &Workspace{
		ID:        generateUUID(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// =============================================================================
// Document
// =============================================================================

// DocumentStatus is the ingestion lifecycle state of a document.
type DocumentStatus string

const (
	// DocumentProcessing means the ingestion job is chunking, embedding,
	// and indexing the document.
	DocumentProcessing DocumentStatus = "PROCESSING"

	// DocumentReady means every chunk is indexed and searchable.
	DocumentReady DocumentStatus = "READY"

	// DocumentFailed means ingestion gave up; Error carries the cause.
	DocumentFailed DocumentStatus = "FAILED"
)

// Document is one uploaded file and its ingestion progress.
//
// ContentHash is the sha256 of the raw upload and the dedup key within a
// workspace: uploading identical bytes twice returns the existing
// document instead of indexing it again.
type Document struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	FileName    string `json:"file_name"`
	SizeBytes   int64  `json:"size_bytes"`
	ContentHash string `json:"content_hash"`

	Status DocumentStatus `json:"status"`
	Error  string         `json:"error,omitempty"`

	ChunksTotal     int `json:"chunks_total"`
	ChunksProcessed int `json:"chunks_processed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocument creates a document row in the PROCESSING state.
func NewDocument(workspaceID, fileName, contentHash string, sizeBytes int64) *Document {
	now := time.Now().UTC()
	return &Document{
		ID:          generateUUID(),
		WorkspaceID: workspaceID,
		FileName:    fileName,
		SizeBytes:   sizeBytes,
		ContentHash: contentHash,
		Status:      DocumentProcessing,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// MarkReady transitions the document to READY.
func (d *Document) MarkReady() {
	d.Status = DocumentReady
	d.Error = ""
	d.UpdatedAt = time.Now().UTC()
}

// MarkFailed transitions the document to FAILED with the cause.
func (d *Document) MarkFailed(reason string) {
	d.Status = DocumentFailed
	d.Error = reason
	d.UpdatedAt = time.Now().UTC()
}

// SetProgress records ingestion progress.
func (d *Document) SetProgress(processed, total int) {
	d.ChunksProcessed = processed
	d.ChunksTotal = total
	d.UpdatedAt = time.Now().UTC()
}
