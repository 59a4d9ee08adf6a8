// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

func newTestStore(t *testing.T) *MetadataStore {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMetadataStore_WorkspaceRoundTrip(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("research")

	// Act
	require.NoError(t, s.CreateWorkspace(ws))
	got, err := s.GetWorkspace(ws.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, ws.ID, got.ID)
	assert.Equal(t, "research", got.Name)
	assert.WithinDuration(t, ws.CreatedAt, got.CreatedAt, time.Second)
}

func TestMetadataStore_GetWorkspaceUnknownIDReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetWorkspace("missing")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetadataStore_ListWorkspaces(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	require.NoError(t, s.CreateWorkspace(datatypes.NewWorkspace("alpha")))
	require.NoError(t, s.CreateWorkspace(datatypes.NewWorkspace("beta")))

	// Act
	all, err := s.ListWorkspaces()

	// Assert
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestMetadataStore_DeleteWorkspaceCascades(t *testing.T) {
	// Arrange: a workspace with one document, plus a bystander workspace.
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("doomed")
	other := datatypes.NewWorkspace("survivor")
	require.NoError(t, s.CreateWorkspace(ws))
	require.NoError(t, s.CreateWorkspace(other))

	doc := datatypes.NewDocument(ws.ID, "notes.md", "hash-1", 128)
	otherDoc := datatypes.NewDocument(other.ID, "keep.md", "hash-2", 64)
	require.NoError(t, s.CreateDocument(doc))
	require.NoError(t, s.CreateDocument(otherDoc))

	// Act
	require.NoError(t, s.DeleteWorkspace(ws.ID))

	// Assert: workspace, its document, and its hash index are gone; the
	// bystander is untouched.
	_, err := s.GetWorkspace(ws.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDocument(ws.ID, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	id, err := s.FindDocumentByHash(ws.ID, "hash-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	kept, err := s.GetDocument(other.ID, otherDoc.ID)
	require.NoError(t, err)
	assert.Equal(t, "keep.md", kept.FileName)
}

func TestMetadataStore_DeleteUnknownWorkspaceReturnsNotFound(t *testing.T) {
	s := newTestStore(t)

	assert.ErrorIs(t, s.DeleteWorkspace("missing"), ErrNotFound)
}

func TestMetadataStore_DocumentLifecycle(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, s.CreateWorkspace(ws))
	doc := datatypes.NewDocument(ws.ID, "report.pdf", "abc123", 2048)

	// Act: create, progress, finish.
	require.NoError(t, s.CreateDocument(doc))
	doc.SetProgress(3, 10)
	require.NoError(t, s.UpdateDocument(doc))
	doc.MarkReady()
	require.NoError(t, s.UpdateDocument(doc))

	// Assert
	got, err := s.GetDocument(ws.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.DocumentReady, got.Status)
	assert.Equal(t, 3, got.ChunksProcessed)
	assert.Equal(t, 10, got.ChunksTotal)
	assert.Empty(t, got.Error)
}

func TestMetadataStore_FindDocumentByHashDetectsDuplicate(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, s.CreateWorkspace(ws))
	doc := datatypes.NewDocument(ws.ID, "report.pdf", "samehash", 2048)
	require.NoError(t, s.CreateDocument(doc))

	// Act + Assert: same hash in the same workspace resolves to the
	// existing document; another workspace is a clean slate.
	id, err := s.FindDocumentByHash(ws.ID, "samehash")
	require.NoError(t, err)
	assert.Equal(t, doc.ID, id)

	id, err = s.FindDocumentByHash("other-workspace", "samehash")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMetadataStore_DeleteDocumentClearsHashIndex(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, s.CreateWorkspace(ws))
	doc := datatypes.NewDocument(ws.ID, "report.pdf", "abc123", 2048)
	require.NoError(t, s.CreateDocument(doc))

	// Act
	require.NoError(t, s.DeleteDocument(ws.ID, doc.ID))

	// Assert: the same bytes can be uploaded again afterward.
	_, err := s.GetDocument(ws.ID, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	id, err := s.FindDocumentByHash(ws.ID, "abc123")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestMetadataStore_CountDocuments(t *testing.T) {
	// Arrange
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, s.CreateWorkspace(ws))
	require.NoError(t, s.CreateDocument(datatypes.NewDocument(ws.ID, "a.md", "h1", 1)))
	require.NoError(t, s.CreateDocument(datatypes.NewDocument(ws.ID, "b.md", "h2", 1)))

	// Act
	count, err := s.CountDocuments(ws.ID)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetadataStore_ListProcessingOlderThan(t *testing.T) {
	// Arrange: one stale PROCESSING document, one fresh, one READY.
	s := newTestStore(t)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, s.CreateWorkspace(ws))

	stale := datatypes.NewDocument(ws.ID, "stale.md", "h1", 1)
	stale.UpdatedAt = time.Now().UTC().Add(-30 * time.Minute)
	fresh := datatypes.NewDocument(ws.ID, "fresh.md", "h2", 1)
	done := datatypes.NewDocument(ws.ID, "done.md", "h3", 1)
	done.MarkReady()
	done.UpdatedAt = time.Now().UTC().Add(-30 * time.Minute)

	require.NoError(t, s.CreateDocument(stale))
	require.NoError(t, s.CreateDocument(fresh))
	require.NoError(t, s.CreateDocument(done))

	// Act
	stuck, err := s.ListProcessingOlderThan(time.Now().UTC().Add(-10 * time.Minute))

	// Assert: only the stale PROCESSING document qualifies.
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, "stale.md", stuck[0].FileName)
}

func TestBlobStore_SaveLoadDelete(t *testing.T) {
	// Arrange
	b, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	// Act + Assert
	require.NoError(t, b.Save("ws-1", "doc-1", []byte("raw upload bytes")))
	data, err := b.Load("ws-1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("raw upload bytes"), data)

	require.NoError(t, b.Delete("ws-1", "doc-1"))
	_, err = b.Load("ws-1", "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBlobStore_RejectsPathTraversal(t *testing.T) {
	b, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)

	assert.Error(t, b.Save("../escape", "doc-1", []byte("x")))
	assert.Error(t, b.Save("ws-1", "../../etc/passwd", []byte("x")))
	_, err = b.Load("ws-1", "..")
	assert.Error(t, err)
}

func TestBlobStore_DeleteWorkspaceRemovesAllBlobs2(t *testing.T) {
	// Arrange
	b, err := NewBlobStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, b.Save("ws-1", "doc-1", []byte("one")))
	require.NoError(t, b.Save("ws-1", "doc-2", []byte("two")))

	// Act
	require.NoError(t, b.DeleteWorkspace("ws-1"))

	// Assert
	_, err = b.Load("ws-1", "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = b.Load("ws-1", "doc-2")
	assert.ErrorIs(t, err, ErrNotFound)
}
