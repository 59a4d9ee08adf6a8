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
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchedExtensions limits drop-folder ingestion to text formats the
// chunker handles well. Everything else in the folder is ignored.
var watchedExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".csv":      true,
	".json":     true,
	".yaml":     true,
	".yml":      true,
	".log":      true,
}

// defaultSettleDelay is how long a file must be quiet after its last
// write before it is read. Copying into the folder produces a burst of
// write events; reading mid-copy would ingest a truncated file.
const defaultSettleDelay = 2 * time.Second

// DropFolder watches a directory and ingests files created there into a
// fixed workspace. Content-hash dedup in the worker makes re-runs after a
// restart harmless.
//
// # Thread Safety
//
// Start should only be called once. The event loop and the settle timers
// coordinate through an internal mutex.
type DropFolder struct {
	dir         string
	workspaceID string
	worker      *Worker
	watcher     *fsnotify.Watcher
	settle      time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewDropFolder creates a watcher for dir that ingests into workspaceID.
func NewDropFolder(dir, workspaceID string, worker *Worker) (*DropFolder, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("drop folder path is not a directory")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &DropFolder{
		dir:         dir,
		workspaceID: workspaceID,
		worker:      worker,
		watcher:     watcher,
		settle:      defaultSettleDelay,
		pending:     make(map[string]*time.Timer),
	}, nil
}

// Start begins watching. Blocks until the context is cancelled; run in a
// goroutine. Files already present in the folder are ingested on start so
// drops made while the service was down are not lost.
func (d *DropFolder) Start(ctx context.Context) {
	if err := d.watcher.Add(d.dir); err != nil {
		slog.Error("Failed to watch drop folder", "dir", d.dir, "error", err)
		return
	}
	slog.Info("Watching drop folder",
		"dir", d.dir, "workspace_id", d.workspaceID)

	d.ingestExisting(ctx)

	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleEvent(ctx, event)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("Drop folder watcher error", "error", err)

		case <-ctx.Done():
			slog.Debug("Drop folder watcher stopping")
			return
		}
	}
}

// Stop stops watching and cancels pending settle timers. Safe to call
// multiple times.
func (d *DropFolder) Stop() error {
	d.mu.Lock()
	for path, timer := range d.pending {
		timer.Stop()
		delete(d.pending, path)
	}
	d.mu.Unlock()
	return d.watcher.Close()
}

// ingestExisting picks up files that were dropped while nobody watched.
func (d *DropFolder) ingestExisting(ctx context.Context) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		slog.Warn("Failed to scan drop folder on start", "dir", d.dir, "error", err)
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !watchedExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		d.ingestFile(ctx, filepath.Join(d.dir, entry.Name()))
	}
}

// handleEvent debounces create/write bursts per path; the settle timer
// fires once the file has been quiet long enough to read whole.
func (d *DropFolder) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !watchedExtensions[filepath.Ext(event.Name)] {
		return
	}

	path := event.Name
	d.mu.Lock()
	defer d.mu.Unlock()
	if timer, ok := d.pending[path]; ok {
		timer.Reset(d.settle)
		return
	}
	d.pending[path] = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()
		d.ingestFile(ctx, path)
	})
}

func (d *DropFolder) ingestFile(ctx context.Context, path string) {
	if ctx.Err() != nil {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("Failed to read dropped file", "path", path, "error", err)
		return
	}

	_, err = d.worker.Submit(ctx, d.workspaceID, filepath.Base(path), data)
	var dup *DuplicateError
	switch {
	case errors.As(err, &dup):
		slog.Debug("Dropped file already ingested",
			"path", path, "document_id", dup.ExistingID)
	case err != nil:
		slog.Warn("Failed to ingest dropped file", "path", path, "error", err)
	default:
		slog.Info("Ingested dropped file",
			"path", path, "workspace_id", d.workspaceID)
	}
}
