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
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSArchive mirrors uploaded blobs into a Google Cloud Storage bucket.
// It is an off-site copy only; serving reads always hit the local blob
// store.
type GCSArchive struct {
	storageClient *storage.Client
	BucketName    string
}

// NewGCSArchive creates the archive client from a service-account key
// file.
func NewGCSArchive(ctx context.Context, bucketName, saKeyPath string) (*GCSArchive, error) {
	if _, err := os.Stat(saKeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service account key not found at path: %s", saKeyPath)
	}

	storageClient, err := storage.NewClient(ctx, option.WithCredentialsFile(saKeyPath))
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSArchive{
		storageClient: storageClient,
		BucketName:    bucketName,
	}, nil
}

// Put uploads one blob under <workspaceID>/<documentID>/<fileName>.
func (a *GCSArchive) Put(ctx context.Context, workspaceID, documentID, fileName string, data []byte) error {
	objectPath := fmt.Sprintf("%s/%s/%s", workspaceID, documentID, fileName)

	obj := a.storageClient.Bucket(a.BucketName).Object(objectPath)
	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/octet-stream"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := io.Copy(writer, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to copy blob to GCS object %s: %w", objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", objectPath, err)
	}

	slog.Info("Blob archived", "bucket", a.BucketName, "object", objectPath)
	return nil
}

// Close releases the underlying client.
func (a *GCSArchive) Close() error {
	return a.storageClient.Close()
}
