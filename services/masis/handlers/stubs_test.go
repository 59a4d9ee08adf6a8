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
	"bytes"
	"context"
	"mime/multipart"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// =============================================================================
// Test Fixtures
// =============================================================================

// newTestMeta opens an in-memory metadata store and closes it with the test.
func newTestMeta(t *testing.T) *store.MetadataStore {
	t.Helper()
	meta, err := store.Open(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })
	return meta
}

// newTestBlobs opens a blob store rooted in a per-test temp directory.
func newTestBlobs(t *testing.T) *store.BlobStore {
	t.Helper()
	blobs, err := store.NewBlobStore(t.TempDir())
	require.NoError(t, err)
	return blobs
}

// seedWorkspace creates and persists a workspace for handler tests.
func seedWorkspace(t *testing.T, meta *store.MetadataStore, name string) *datatypes.Workspace {
	t.Helper()
	ws := datatypes.NewWorkspace(name)
	require.NoError(t, meta.CreateWorkspace(ws))
	return ws
}

// multipartFile builds a request body with one "file" form field.
func multipartFile(t *testing.T, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return &buf, writer.FormDataContentType()
}

// =============================================================================
// Stub Collaborators
// =============================================================================

// stubRunner implements SynthesisRunner with a canned outcome.
type stubRunner struct {
	err     error
	prepare func(rec *datatypes.PipelineRecord)

	gotRec *datatypes.PipelineRecord
}

func (r *stubRunner) Run(_ context.Context, rec *datatypes.PipelineRecord) (*datatypes.PipelineRecord, error) {
	r.gotRec = rec
	if r.err != nil {
		return nil, r.err
	}
	if r.prepare != nil {
		r.prepare(rec)
	} else {
		rec.FinalAnswer = "The relevant figure is 42 [c1]."
		rec.Confidence = 0.91
	}
	return rec, nil
}

// stubVectorDeleter implements VectorDeleter with fixed results.
type stubVectorDeleter struct {
	deleted int
	err     error

	docCalls       int
	workspaceCalls int
}

func (d *stubVectorDeleter) DeleteByDocument(_ context.Context, _, _ string) (int, error) {
	d.docCalls++
	return d.deleted, d.err
}

func (d *stubVectorDeleter) DeleteByWorkspace(_ context.Context, _ string) (int, error) {
	d.workspaceCalls++
	return d.deleted, d.err
}

// stubArchiver records Put calls.
type stubArchiver struct {
	puts chan string
}

func newStubArchiver() *stubArchiver {
	return &stubArchiver{puts: make(chan string, 4)}
}

func (a *stubArchiver) Put(_ context.Context, _, documentID, _ string, _ []byte) error {
	a.puts <- documentID
	return nil
}
