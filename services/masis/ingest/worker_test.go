// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/search"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// fakeEmbedder returns a fixed vector per text and records batch calls.
type fakeEmbedder struct {
	mu      sync.Mutex
	batches [][]string
	failErr error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return nil, f.failErr
	}
	f.batches = append(f.batches, texts)
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{0.1, 0.2, 0.3}
	}
	return vectors, nil
}

func (f *fakeEmbedder) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

// fakeIndexer accumulates upserts; storedNone simulates a corpus that
// accepts the batch request but indexes nothing.
type fakeIndexer struct {
	mu         sync.Mutex
	upserts    []search.ChunkUpsert
	storedNone bool
	failErr    error
}

func (f *fakeIndexer) UpsertBatch(_ context.Context, chunks []search.ChunkUpsert) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failErr != nil {
		return 0, f.failErr
	}
	if f.storedNone {
		return 0, nil
	}
	f.upserts = append(f.upserts, chunks...)
	return len(chunks), nil
}

func (f *fakeIndexer) all() []search.ChunkUpsert {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]search.ChunkUpsert, len(f.upserts))
	copy(out, f.upserts)
	return out
}

func newTestWorker(t *testing.T, cfg Config, emb *fakeEmbedder, idx *fakeIndexer) (*Worker, *store.MetadataStore) {
	t.Helper()
	meta, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := store.NewBlobStore(t.TempDir())
	require.NoError(t, err)

	w := NewWorker(cfg, meta, blobs, emb, idx)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w, meta
}

// waitForStatus polls until the document reaches the wanted status.
func waitForStatus(t *testing.T, meta *store.MetadataStore, workspaceID, docID string,
	want datatypes.DocumentStatus) *datatypes.Document {
	t.Helper()
	var got *datatypes.Document
	require.Eventually(t, func() bool {
		doc, err := meta.GetDocument(workspaceID, docID)
		if err != nil {
			return false
		}
		got = doc
		return doc.Status == want
	}, 3*time.Second, 10*time.Millisecond)
	return got
}

func uploadText(n int) []byte {
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "fact-%04d is recorded here. ", i)
	}
	return []byte(b.String())
}

func TestWorker_IngestsUploadEndToEnd(t *testing.T) {
	// Arrange
	emb := &fakeEmbedder{}
	idx := &fakeIndexer{}
	w, meta := newTestWorker(t, Config{}, emb, idx)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, meta.CreateWorkspace(ws))

	// Act
	doc, err := w.Submit(context.Background(), ws.ID, "facts.txt", uploadText(120))

	// Assert: queued as PROCESSING, then driven to READY with every chunk
	// indexed under the right ids.
	require.NoError(t, err)
	assert.Equal(t, datatypes.DocumentProcessing, doc.Status)

	got := waitForStatus(t, meta, ws.ID, doc.ID, datatypes.DocumentReady)
	require.Greater(t, got.ChunksTotal, 1)
	assert.Equal(t, got.ChunksTotal, got.ChunksProcessed)
	assert.Empty(t, got.Error)

	stored := idx.all()
	require.Len(t, stored, got.ChunksTotal)
	seen := make(map[int]bool)
	for _, chunk := range stored {
		assert.Equal(t, ws.ID, chunk.WorkspaceID)
		assert.Equal(t, doc.ID, chunk.DocumentID)
		assert.Equal(t, "facts.txt", chunk.FileName)
		assert.NotEmpty(t, chunk.Text)
		assert.NotEmpty(t, chunk.Vector)
		seen[chunk.ChunkIndex] = true
	}
	for i := 0; i < got.ChunksTotal; i++ {
		assert.True(t, seen[i], "chunk index %d missing", i)
	}
}

func TestWorker_DuplicateUploadReturnsExistingID(t *testing.T) {
	// Arrange
	emb := &fakeEmbedder{}
	idx := &fakeIndexer{}
	w, meta := newTestWorker(t, Config{}, emb, idx)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, meta.CreateWorkspace(ws))
	data := uploadText(10)

	first, err := w.Submit(context.Background(), ws.ID, "facts.txt", data)
	require.NoError(t, err)
	waitForStatus(t, meta, ws.ID, first.ID, datatypes.DocumentReady)

	// Act: identical bytes under a different name.
	_, err = w.Submit(context.Background(), ws.ID, "copy-of-facts.txt", data)

	// Assert
	var dup *DuplicateError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.ID, dup.ExistingID)

	count, err := meta.CountDocuments(ws.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestWorker_EmbedFailureMarksDocumentFailed(t *testing.T) {
	// Arrange
	emb := &fakeEmbedder{failErr: errors.New("model host down")}
	idx := &fakeIndexer{}
	w, meta := newTestWorker(t, Config{}, emb, idx)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, meta.CreateWorkspace(ws))

	// Act
	doc, err := w.Submit(context.Background(), ws.ID, "facts.txt", uploadText(50))
	require.NoError(t, err)

	// Assert
	got := waitForStatus(t, meta, ws.ID, doc.ID, datatypes.DocumentFailed)
	assert.Contains(t, got.Error, "embedding failed")
	assert.Empty(t, idx.all())
}

func TestWorker_IndexRejectionMarksDocumentFailed(t *testing.T) {
	// Arrange: the corpus accepts the request but stores nothing.
	emb := &fakeEmbedder{}
	idx := &fakeIndexer{storedNone: true}
	w, meta := newTestWorker(t, Config{}, emb, idx)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, meta.CreateWorkspace(ws))

	// Act
	doc, err := w.Submit(context.Background(), ws.ID, "facts.txt", uploadText(50))
	require.NoError(t, err)

	// Assert
	got := waitForStatus(t, meta, ws.ID, doc.ID, datatypes.DocumentFailed)
	assert.Contains(t, got.Error, "no chunks could be indexed")
}

func TestWorker_EmptyFileBecomesReadyWithZeroChunks(t *testing.T) {
	// Arrange
	emb := &fakeEmbedder{}
	idx := &fakeIndexer{}
	w, meta := newTestWorker(t, Config{}, emb, idx)
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, meta.CreateWorkspace(ws))

	// Act
	doc, err := w.Submit(context.Background(), ws.ID, "empty.txt", []byte("   \n"))
	require.NoError(t, err)

	// Assert: nothing to embed, nothing to index, still READY.
	got := waitForStatus(t, meta, ws.ID, doc.ID, datatypes.DocumentReady)
	assert.Zero(t, got.ChunksTotal)
	assert.Zero(t, emb.batchCount())
	assert.Empty(t, idx.all())
}

func TestWorker_QueueFullRejectsSubmit(t *testing.T) {
	// Arrange: queue of one, and no running loop to drain it.
	meta, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	blobs, err := store.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	w := NewWorker(Config{QueueSize: 1}, meta, blobs, &fakeEmbedder{}, &fakeIndexer{})
	ws := datatypes.NewWorkspace("research")
	require.NoError(t, meta.CreateWorkspace(ws))

	_, err = w.Submit(context.Background(), ws.ID, "first.txt", []byte("first upload"))
	require.NoError(t, err)

	// Act
	doc, err := w.Submit(context.Background(), ws.ID, "second.txt", []byte("second upload"))

	// Assert: rejected, and the rejection is visible on the row.
	require.ErrorIs(t, err, ErrQueueFull)
	require.NotNil(t, doc)
	got, gerr := meta.GetDocument(ws.ID, doc.ID)
	require.NoError(t, gerr)
	assert.Equal(t, datatypes.DocumentFailed, got.Status)
	assert.Contains(t, got.Error, "queue full")
}

func TestWorker_StartTwiceErrors(t *testing.T) {
	meta, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	blobs, err := store.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	w := NewWorker(Config{}, meta, blobs, &fakeEmbedder{}, &fakeIndexer{})

	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	assert.Error(t, w.Start(context.Background()))
}
