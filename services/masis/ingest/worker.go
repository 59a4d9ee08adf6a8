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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
	"github.com/Adnan-Haque/MASIS/services/masis/observability"
	"github.com/Adnan-Haque/MASIS/services/masis/search"
	"github.com/Adnan-Haque/MASIS/services/masis/store"
)

// ChunkIndexer is the write side of the evidence corpus as the worker
// sees it. Satisfied by search.EvidenceStore.
type ChunkIndexer interface {
	UpsertBatch(ctx context.Context, chunks []search.ChunkUpsert) (int, error)
}

// ErrQueueFull reports that the ingestion queue had no free slot. The
// document row already exists and has been marked FAILED; the caller
// should surface a retry-later response.
var ErrQueueFull = errors.New("ingestion queue is full")

// DuplicateError reports that identical bytes already exist in the
// workspace. Carries the id of the document that owns them.
type DuplicateError struct {
	ExistingID string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("content already ingested as document %s", e.ExistingID)
}

// Config collects the ingestion worker tunables.
type Config struct {
	// QueueSize is the number of pending documents the worker accepts
	// before Submit starts failing. Default: 64.
	QueueSize int

	// BatchSize is the number of chunks sent per embedding call.
	// Default: 32.
	BatchSize int

	// Concurrency is the number of embedding batches in flight at once
	// for a single document. Default: 4.
	Concurrency int

	// EmbedsPerSecond throttles embedding calls so a large upload cannot
	// starve query-time embedding on a shared backend. 0 disables the
	// throttle.
	EmbedsPerSecond float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   64,
		BatchSize:   32,
		Concurrency: 4,
	}
}

type job struct {
	workspaceID string
	documentID  string
}

// Worker ingests uploaded documents in the background: split into chunks,
// batch-embed, upsert into the evidence corpus, and track progress on the
// document row. Documents are processed one at a time; embedding batches
// within a document run concurrently.
//
// # Thread Safety
//
// Submit is safe for concurrent use. Start must be called once before the
// first Submit; Stop waits for the in-flight document to finish.
type Worker struct {
	cfg      Config
	meta     *store.MetadataStore
	blobs    *store.BlobStore
	embedder search.EmbeddingProvider
	indexer  ChunkIndexer
	limiter  *rate.Limiter

	jobs    chan job
	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	running bool
}

// NewWorker assembles an ingestion worker. Zero-valued cfg fields fall
// back to defaults.
func NewWorker(cfg Config, meta *store.MetadataStore, blobs *store.BlobStore,
	embedder search.EmbeddingProvider, indexer ChunkIndexer) *Worker {

	defaults := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaults.Concurrency
	}

	limit := rate.Inf
	if cfg.EmbedsPerSecond > 0 {
		limit = rate.Limit(cfg.EmbedsPerSecond)
	}

	return &Worker{
		cfg:      cfg,
		meta:     meta,
		blobs:    blobs,
		embedder: embedder,
		indexer:  indexer,
		limiter:  rate.NewLimiter(limit, cfg.Concurrency),
		jobs:     make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start launches the background loop. Returns an error if the worker is
// already running.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("ingestion worker is already running")
	}
	w.running = true

	slog.Info("Ingestion worker starting",
		"queue_size", w.cfg.QueueSize,
		"batch_size", w.cfg.BatchSize,
		"concurrency", w.cfg.Concurrency)

	go w.runLoop(ctx)
	return nil
}

// Stop signals shutdown and waits for the in-flight document, if any, to
// finish. Safe to call once after a successful Start.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.done)
	<-w.stopped
}

func (w *Worker) runLoop(ctx context.Context) {
	defer close(w.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case j := <-w.jobs:
			w.process(ctx, j)
		}
	}
}

// HashContent returns the dedup key for raw upload bytes.
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Submit registers an upload and queues it for ingestion. It hashes the
// bytes, rejects duplicates within the workspace with a DuplicateError,
// persists the metadata row and the blob, and enqueues the job.
//
// On ErrQueueFull the document row exists in the FAILED state so the
// rejection stays visible in the document list.
func (w *Worker) Submit(ctx context.Context, workspaceID, fileName string, data []byte) (*datatypes.Document, error) {
	contentHash := HashContent(data)

	existingID, err := w.meta.FindDocumentByHash(workspaceID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
	if existingID != "" {
		return nil, &DuplicateError{ExistingID: existingID}
	}

	doc := datatypes.NewDocument(workspaceID, fileName, contentHash, int64(len(data)))
	if err := w.blobs.Save(workspaceID, doc.ID, data); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if err := w.meta.CreateDocument(doc); err != nil {
		return nil, fmt.Errorf("failed to create document row: %w", err)
	}

	select {
	case w.jobs <- job{workspaceID: workspaceID, documentID: doc.ID}:
		slog.Info("Document queued for ingestion",
			"workspace_id", workspaceID,
			"document_id", doc.ID,
			"file_name", fileName,
			"size_bytes", len(data))
		return doc, nil
	default:
		doc.MarkFailed("ingestion queue full")
		if uerr := w.meta.UpdateDocument(doc); uerr != nil {
			slog.Error("Failed to mark queue-rejected document",
				"document_id", doc.ID, "error", uerr)
		}
		return doc, ErrQueueFull
	}
}

// process runs one document end to end and records the terminal status on
// the row. Failures never propagate; the row carries the error.
func (w *Worker) process(ctx context.Context, j job) {
	start := time.Now()

	doc, err := w.meta.GetDocument(j.workspaceID, j.documentID)
	if err != nil {
		slog.Error("Queued document vanished before ingestion",
			"workspace_id", j.workspaceID, "document_id", j.documentID, "error", err)
		return
	}

	chunksIndexed, err := w.ingest(ctx, doc)
	if err != nil {
		doc.MarkFailed(err.Error())
		slog.Error("Ingestion failed",
			"workspace_id", doc.WorkspaceID,
			"document_id", doc.ID,
			"file_name", doc.FileName,
			"error", err)
	} else {
		doc.MarkReady()
		slog.Info("Ingestion complete",
			"workspace_id", doc.WorkspaceID,
			"document_id", doc.ID,
			"file_name", doc.FileName,
			"chunks", chunksIndexed,
			"duration", time.Since(start).String())
	}

	if uerr := w.meta.UpdateDocument(doc); uerr != nil {
		slog.Error("Failed to persist terminal document status",
			"document_id", doc.ID, "error", uerr)
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RecordIngest(err == nil, chunksIndexed, time.Since(start).Seconds())
	}
}

// ingest does the split -> embed -> upsert work for one document and
// returns the number of chunks stored.
func (w *Worker) ingest(ctx context.Context, doc *datatypes.Document) (int, error) {
	data, err := w.blobs.Load(doc.WorkspaceID, doc.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load upload bytes: %w", err)
	}

	chunks, err := SplitDocument(doc.FileName, data)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		slog.Warn("No chunks produced after splitting",
			"document_id", doc.ID, "file_name", doc.FileName)
		doc.SetProgress(0, 0)
		return 0, nil
	}
	doc.SetProgress(0, len(chunks))
	if err := w.meta.UpdateDocument(doc); err != nil {
		return 0, fmt.Errorf("failed to record chunk total: %w", err)
	}

	var (
		progressMu sync.Mutex
		processed  int
		stored     int
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)

	for begin := 0; begin < len(chunks); begin += w.cfg.BatchSize {
		end := min(begin+w.cfg.BatchSize, len(chunks))
		batch := chunks[begin:end]

		g.Go(func() error {
			if err := w.limiter.Wait(gCtx); err != nil {
				return err
			}

			vectors, err := w.embedder.EmbedBatch(gCtx, batch)
			if err != nil {
				return fmt.Errorf("embedding failed: %w", err)
			}

			upserts := make([]search.ChunkUpsert, len(batch))
			for i, text := range batch {
				upserts[i] = search.ChunkUpsert{
					WorkspaceID: doc.WorkspaceID,
					DocumentID:  doc.ID,
					FileName:    doc.FileName,
					ChunkIndex:  begin + i,
					Text:        text,
					Vector:      vectors[i],
				}
			}

			n, err := w.indexer.UpsertBatch(gCtx, upserts)
			if err != nil {
				return err
			}
			if n < len(batch) {
				slog.Warn("Some chunks failed to index",
					"document_id", doc.ID,
					"batch_size", len(batch),
					"stored", n)
			}

			progressMu.Lock()
			processed += len(batch)
			stored += n
			doc.SetProgress(processed, len(chunks))
			uerr := w.meta.UpdateDocument(doc)
			progressMu.Unlock()
			if uerr != nil {
				slog.Warn("Failed to persist ingestion progress",
					"document_id", doc.ID, "error", uerr)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return stored, err
	}
	if stored == 0 {
		return 0, errors.New("no chunks could be indexed")
	}
	return stored, nil
}
