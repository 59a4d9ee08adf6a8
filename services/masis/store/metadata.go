// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists workspace and document metadata in an embedded
// BadgerDB instance and uploaded blobs on disk, with an optional GCS
// archive.
//
// BadgerDB gives low-latency local access (~100µs) without an external
// database. Vectors live in Weaviate; only metadata and raw uploads live
// here.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// ErrNotFound reports a missing workspace or document.
var ErrNotFound = errors.New("not found")

// Key prefixes. Documents are keyed under their workspace so one prefix
// scan lists or deletes a whole tenant.
const (
	workspaceKeyPrefix = "ws:"
	documentKeyPrefix  = "doc:"
	hashKeyPrefix      = "hash:"
)

// Config holds configuration for the metadata store.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless InMemory
	// is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Useful for
	// testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Default: 5 minutes. Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC
	// rewrites a value log file. Default: 0.5.
	GCDiscardRatio float64
}

// DefaultConfig returns production defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC
// loop.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...interface{}) {
	slog.Error(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Warningf(format string, args ...interface{}) {
	slog.Warn(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Infof(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}

func (badgerLogger) Debugf(format string, args ...interface{}) {
	slog.Debug(fmt.Sprintf("badger: "+format, args...))
}

// MetadataStore is the embedded workspace/document metadata database.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type MetadataStore struct {
	db     *badger.DB
	gcStop chan struct{}
	gcDone chan struct{}
}

// Open opens the metadata store, creating the directory if needed, and
// starts the value-log GC loop when an interval is configured.
func Open(cfg Config) (*MetadataStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for a persistent metadata store")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create metadata directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	s := &MetadataStore{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gcStop = make(chan struct{})
		s.gcDone = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops the GC loop and closes the database.
func (s *MetadataStore) Close() error {
	if s.gcStop != nil {
		close(s.gcStop)
		<-s.gcDone
	}
	return s.db.Close()
}

func (s *MetadataStore) runGC(interval time.Duration, ratio float64) {
	defer close(s.gcDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect, not a failure.
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Badger value log GC error", "error", err)
			}
		}
	}
}

// =============================================================================
// Workspaces
// =============================================================================

func workspaceKey(id string) []byte {
	return []byte(workspaceKeyPrefix + id)
}

// CreateWorkspace persists a new workspace.
func (s *MetadataStore) CreateWorkspace(ws *datatypes.Workspace) error {
	value, err := json.Marshal(ws)
	if err != nil {
		return fmt.Errorf("marshal workspace: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(workspaceKey(ws.ID), value)
	})
}

// GetWorkspace fetches one workspace. Returns ErrNotFound when the id is
// unknown.
func (s *MetadataStore) GetWorkspace(id string) (*datatypes.Workspace, error) {
	var ws datatypes.Workspace
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(workspaceKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &ws)
		})
	})
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

// ListWorkspaces returns every workspace, ordered by key.
func (s *MetadataStore) ListWorkspaces() ([]*datatypes.Workspace, error) {
	var out []*datatypes.Workspace
	prefix := []byte(workspaceKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ws datatypes.Workspace
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ws)
			})
			if err != nil {
				return err
			}
			out = append(out, &ws)
		}
		return nil
	})
	return out, err
}

// DeleteWorkspace removes the workspace row and every document and hash
// row under it. Returns ErrNotFound when the workspace does not exist.
func (s *MetadataStore) DeleteWorkspace(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(workspaceKey(id)); errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		if err := txn.Delete(workspaceKey(id)); err != nil {
			return err
		}
		for _, prefix := range [][]byte{
			[]byte(documentKeyPrefix + id + ":"),
			[]byte(hashKeyPrefix + id + ":"),
		} {
			if err := deletePrefix(txn, prefix); err != nil {
				return err
			}
		}
		return nil
	})
}

// deletePrefix removes every key under prefix within the transaction. Keys
// are collected before deleting; Badger iterators must not observe their
// own writes.
func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Documents
// =============================================================================

func documentKey(workspaceID, docID string) []byte {
	return []byte(documentKeyPrefix + workspaceID + ":" + docID)
}

func hashKey(workspaceID, contentHash string) []byte {
	return []byte(hashKeyPrefix + workspaceID + ":" + contentHash)
}

// CreateDocument persists a new document row and its content-hash index
// entry in one transaction.
func (s *MetadataStore) CreateDocument(doc *datatypes.Document) error {
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(documentKey(doc.WorkspaceID, doc.ID), value); err != nil {
			return err
		}
		return txn.Set(hashKey(doc.WorkspaceID, doc.ContentHash), []byte(doc.ID))
	})
}

// UpdateDocument overwrites an existing document row.
func (s *MetadataStore) UpdateDocument(doc *datatypes.Document) error {
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(documentKey(doc.WorkspaceID, doc.ID), value)
	})
}

// GetDocument fetches one document. Returns ErrNotFound when the id is
// unknown in this workspace.
func (s *MetadataStore) GetDocument(workspaceID, docID string) (*datatypes.Document, error) {
	var doc datatypes.Document
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(workspaceID, docID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		})
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns every document in the workspace.
func (s *MetadataStore) ListDocuments(workspaceID string) ([]*datatypes.Document, error) {
	var out []*datatypes.Document
	prefix := []byte(documentKeyPrefix + workspaceID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc datatypes.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			out = append(out, &doc)
		}
		return nil
	})
	return out, err
}

// CountDocuments returns the number of documents in the workspace.
func (s *MetadataStore) CountDocuments(workspaceID string) (int, error) {
	count := 0
	prefix := []byte(documentKeyPrefix + workspaceID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// DeleteDocument removes one document row and its hash index entry.
// Returns ErrNotFound when the document does not exist.
func (s *MetadataStore) DeleteDocument(workspaceID, docID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(documentKey(workspaceID, docID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		var doc datatypes.Document
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &doc)
		}); err != nil {
			return err
		}
		if err := txn.Delete(documentKey(workspaceID, docID)); err != nil {
			return err
		}
		return txn.Delete(hashKey(workspaceID, doc.ContentHash))
	})
}

// FindDocumentByHash resolves a content hash to an existing document id in
// the workspace. Returns "" when no document has this hash; this is the
// upload dedup check.
func (s *MetadataStore) FindDocumentByHash(workspaceID, contentHash string) (string, error) {
	var docID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(hashKey(workspaceID, contentHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			docID = string(val)
			return nil
		})
	})
	return docID, err
}

// ListProcessingOlderThan returns documents across all workspaces that
// have sat in PROCESSING since before cutoff. Used by the stuck-document
// sweeper.
func (s *MetadataStore) ListProcessingOlderThan(cutoff time.Time) ([]*datatypes.Document, error) {
	var out []*datatypes.Document
	prefix := []byte(documentKeyPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var doc datatypes.Document
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &doc)
			})
			if err != nil {
				return err
			}
			if doc.Status == datatypes.DocumentProcessing && doc.UpdatedAt.Before(cutoff) {
				out = append(out, &doc)
			}
		}
		return nil
	})
	return out, err
}
