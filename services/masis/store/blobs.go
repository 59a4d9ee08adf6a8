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
	"fmt"
	"os"
	"path/filepath"

	"github.com/Adnan-Haque/MASIS/pkg/validation"
)

// BlobStore keeps the raw uploaded bytes on disk, one file per document,
// laid out as <root>/<workspaceID>/<documentID>. The original bytes are
// retained so a document can be re-ingested after a chunking or embedding
// change without a fresh upload.
type BlobStore struct {
	root string
}

// NewBlobStore creates the blob root directory if needed.
func NewBlobStore(root string) (*BlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root is required")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create blob root %s: %w", root, err)
	}
	return &BlobStore{root: root}, nil
}

// path builds the on-disk location after rejecting ids that could escape
// the root. IDs are server-generated UUIDs, so a failure here means a
// caller bug, not user input.
func (b *BlobStore) path(workspaceID, documentID string) (string, error) {
	for _, id := range []string{workspaceID, documentID} {
		if id == "" || id != filepath.Base(id) || !validation.IsSafePathSegment(id) {
			return "", fmt.Errorf("invalid blob id %q", id)
		}
	}
	return filepath.Join(b.root, workspaceID, documentID), nil
}

// Save writes one document's raw bytes.
func (b *BlobStore) Save(workspaceID, documentID string, data []byte) error {
	path, err := b.path(workspaceID, documentID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("create workspace blob directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write blob %s: %w", path, err)
	}
	return nil
}

// Load reads one document's raw bytes.
func (b *BlobStore) Load(workspaceID, documentID string) ([]byte, error) {
	path, err := b.path(workspaceID, documentID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", path, err)
	}
	return data, nil
}

// Delete removes one document's blob. Missing files are not an error; the
// metadata row is the source of truth.
func (b *BlobStore) Delete(workspaceID, documentID string) error {
	path, err := b.path(workspaceID, documentID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob %s: %w", path, err)
	}
	return nil
}

// DeleteWorkspace removes every blob under the workspace.
func (b *BlobStore) DeleteWorkspace(workspaceID string) error {
	if workspaceID == "" || workspaceID != filepath.Base(workspaceID) || !validation.IsSafePathSegment(workspaceID) {
		return fmt.Errorf("invalid workspace id %q", workspaceID)
	}
	if err := os.RemoveAll(filepath.Join(b.root, workspaceID)); err != nil {
		return fmt.Errorf("delete workspace blobs: %w", err)
	}
	return nil
}
