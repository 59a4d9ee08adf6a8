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
	"log/slog"
	"sync"
	"time"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// SweeperConfig holds configuration for the stuck-document sweeper.
type SweeperConfig struct {
	// Interval is how often the sweep runs. Default: 1 minute.
	Interval time.Duration

	// StuckAfter is how long a document may sit in PROCESSING without a
	// progress update before it is failed. Progress updates bump the
	// row's UpdatedAt, so a slow but advancing ingestion is never swept.
	// Default: 10 minutes.
	StuckAfter time.Duration
}

// DefaultSweeperConfig returns production defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:   1 * time.Minute,
		StuckAfter: 10 * time.Minute,
	}
}

// stuckLister is the metadata-store surface the sweeper touches.
// Satisfied by store.MetadataStore.
type stuckLister interface {
	ListProcessingOlderThan(cutoff time.Time) ([]*datatypes.Document, error)
	UpdateDocument(doc *datatypes.Document) error
}

// Sweeper fails documents stuck in PROCESSING. A crash between enqueue
// and terminal status would otherwise leave a row spinning forever in
// every document list.
//
// Uses the ticker + done channel pattern; Start launches the loop, Stop
// waits for the current sweep to finish.
type Sweeper struct {
	meta    stuckLister
	cfg     SweeperConfig
	done    chan struct{}
	stopped chan struct{}

	mu      sync.Mutex
	running bool
}

// NewSweeper creates a sweeper over the metadata store. Zero-valued cfg
// fields fall back to defaults.
func NewSweeper(meta stuckLister, cfg SweeperConfig) *Sweeper {
	defaults := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.StuckAfter <= 0 {
		cfg.StuckAfter = defaults.StuckAfter
	}
	return &Sweeper{
		meta:    meta,
		cfg:     cfg,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins the background sweep loop. Returns an error if already
// running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("sweeper is already running")
	}
	s.running = true

	slog.Info("Stuck-document sweeper starting",
		"interval", s.cfg.Interval.String(),
		"stuck_after", s.cfg.StuckAfter.String())

	go s.runLoop(ctx)
	return nil
}

// Stop signals shutdown and waits for the loop to exit. Safe to call once
// after a successful Start.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.done)
	<-s.stopped
}

func (s *Sweeper) runLoop(ctx context.Context) {
	defer close(s.stopped)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep fails every document whose last progress update predates the
// stuck cutoff and returns the number swept.
func (s *Sweeper) sweep() int {
	cutoff := time.Now().UTC().Add(-s.cfg.StuckAfter)
	stuck, err := s.meta.ListProcessingOlderThan(cutoff)
	if err != nil {
		slog.Error("Stuck-document sweep query failed", "error", err)
		return 0
	}

	swept := 0
	for _, doc := range stuck {
		doc.MarkFailed(fmt.Sprintf("ingestion stalled: no progress in %s", s.cfg.StuckAfter))
		if err := s.meta.UpdateDocument(doc); err != nil {
			slog.Error("Failed to fail stuck document",
				"document_id", doc.ID, "error", err)
			continue
		}
		swept++
		slog.Warn("Marked stuck document as failed",
			"workspace_id", doc.WorkspaceID,
			"document_id", doc.ID,
			"file_name", doc.FileName,
			"stuck_after", s.cfg.StuckAfter.String())
	}
	return swept
}
