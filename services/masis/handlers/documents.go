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
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/ingest"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// MaxUploadBytes caps one document upload. Large corpora should be split
// into multiple files; the chunker handles each independently anyway.
const MaxUploadBytes = 32 << 20

// Archiver mirrors accepted uploads into cold storage. Satisfied by
// store.GCSArchive; nil disables archiving.
type Archiver interface {
	Put(ctx context.Context, workspaceID, documentID, fileName string, data []byte) error
}

// UploadDocument handles POST /v1/workspaces/:id/documents.
//
// # Description
//
// Accepts one multipart file field named "file", hands the bytes to the
// ingestion worker (which dedups by content hash, persists the blob, and
// indexes chunks in the background), and returns 202 with the document row
// in PROCESSING state. Identical bytes already in the workspace return 409
// with the owning document's id.
func UploadDocument(worker *ingest.Worker, meta *store.MetadataStore, archive Archiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Param("id")

		if _, err := meta.GetWorkspace(workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "workspace not found"})
				return
			}
			slog.Error("Failed to load workspace", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load workspace"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "multipart field 'file' is required"})
			return
		}
		if fileHeader.Size > MaxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, datatypes.ErrorResponse{Error: "file exceeds 32 MiB limit"})
			return
		}

		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "failed to open uploaded file"})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, MaxUploadBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "failed to read uploaded file"})
			return
		}
		if len(data) == 0 {
			c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{Error: "uploaded file is empty"})
			return
		}

		doc, err := worker.Submit(c.Request.Context(), workspaceID, fileHeader.Filename, data)
		if err != nil {
			var dup *ingest.DuplicateError
			switch {
			case errors.As(err, &dup):
				c.JSON(http.StatusConflict, gin.H{
					"error":       "identical content already ingested",
					"document_id": dup.ExistingID,
				})
			case errors.Is(err, ingest.ErrQueueFull):
				c.JSON(http.StatusServiceUnavailable, datatypes.ErrorResponse{
					Error: "ingestion queue is full, retry shortly",
				})
			default:
				slog.Error("Failed to submit document", "workspaceID", workspaceID,
					"fileName", fileHeader.Filename, "error", err)
				c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to submit document"})
			}
			return
		}

		if archive != nil {
			// Best effort; the blob store already holds the bytes.
			go func(doc datatypes.Document, data []byte) {
				if err := archive.Put(context.Background(), doc.WorkspaceID, doc.ID, doc.FileName, data); err != nil {
					slog.Warn("Failed to archive upload", "documentID", doc.ID, "error", err)
				}
			}(*doc, data)
		}

		slog.Info("Document accepted for ingestion",
			"workspaceID", workspaceID,
			"documentID", doc.ID,
			"fileName", doc.FileName,
			"sizeBytes", doc.SizeBytes)
		c.JSON(http.StatusAccepted, datatypes.NewDocumentResponse(doc))
	}
}

// ListDocuments handles GET /v1/workspaces/:id/documents.
func ListDocuments(meta *store.MetadataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Param("id")

		if _, err := meta.GetWorkspace(workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "workspace not found"})
				return
			}
			slog.Error("Failed to load workspace", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load workspace"})
			return
		}

		docs, err := meta.ListDocuments(workspaceID)
		if err != nil {
			slog.Error("Failed to list documents", "workspaceID", workspaceID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to list documents"})
			return
		}

		out := make([]datatypes.DocumentResponse, 0, len(docs))
		for _, doc := range docs {
			out = append(out, datatypes.NewDocumentResponse(doc))
		}
		c.JSON(http.StatusOK, gin.H{"documents": out})
	}
}

// GetDocument handles GET /v1/workspaces/:id/documents/:docID.
func GetDocument(meta *store.MetadataStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Param("id")
		docID := c.Param("docID")

		doc, err := meta.GetDocument(workspaceID, docID)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "document not found"})
			return
		}
		if err != nil {
			slog.Error("Failed to load document", "documentID", docID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load document"})
			return
		}
		c.JSON(http.StatusOK, datatypes.NewDocumentResponse(doc))
	}
}

// DeleteDocument handles DELETE /v1/workspaces/:id/documents/:docID.
// Vectors are removed before metadata so a partial failure stays visible
// and retryable.
func DeleteDocument(meta *store.MetadataStore, vectors VectorDeleter, blobs *store.BlobStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID := c.Param("id")
		docID := c.Param("docID")

		if _, err := meta.GetDocument(workspaceID, docID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: "document not found"})
				return
			}
			slog.Error("Failed to load document", "documentID", docID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to load document"})
			return
		}

		deleted, err := vectors.DeleteByDocument(c.Request.Context(), workspaceID, docID)
		if err != nil {
			slog.Error("Failed to delete document vectors", "documentID", docID, "error", err)
			c.JSON(http.StatusBadGateway, datatypes.ErrorResponse{Error: "failed to delete document vectors"})
			return
		}

		if err := blobs.Delete(workspaceID, docID); err != nil {
			slog.Warn("Failed to delete document blob", "documentID", docID, "error", err)
		}

		if err := meta.DeleteDocument(workspaceID, docID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("Failed to delete document metadata", "documentID", docID, "error", err)
			c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{Error: "failed to delete document metadata"})
			return
		}

		slog.Info("Document deleted", "workspaceID", workspaceID, "documentID", docID,
			"vectorsDeleted", deleted)
		c.JSON(http.StatusOK, gin.H{"status": "deleted", "document_id": docID})
	}
}
