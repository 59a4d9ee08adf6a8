// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit provides the process-wide admission control in front of
// the language-model backends.
//
// A single synthesis cycle issues several model calls (drafting, possibly
// compression, auditing, evaluation) and concurrent requests multiply that
// quickly past typical backend rate limits. The limiter is the only shared
// mutable resource between in-flight requests; everything else in the
// pipeline is request-private.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Sliding Window Limiter
// =============================================================================

// SlidingWindow admits at most maxCalls within any rolling window. A call
// that would exceed the window blocks until capacity frees rather than
// failing outright.
//
// # Description
//
// The limiter keeps the timestamps of admitted calls and prunes entries
// older than the window on every acquisition attempt. It intentionally
// implements true sliding-window semantics rather than a token bucket:
// a bucket refills continuously and would admit short bursts above the
// backend's per-minute quota right after a quiet period.
//
// # Thread Safety
//
// All methods are safe for concurrent use by multiple in-flight requests.
//
// # Examples
//
//	limiter := ratelimit.NewSlidingWindow(30, time.Minute)
//	if err := limiter.Acquire(ctx); err != nil {
//	    return err // context cancelled while waiting
//	}
//	resp, err := llmClient.Generate(ctx, prompt, params)
type SlidingWindow struct {
	mu       sync.Mutex
	maxCalls int
	window   time.Duration
	admitted []time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewSlidingWindow creates a limiter admitting maxCalls per rolling window.
// maxCalls < 1 or a non-positive window panics: a misconfigured limiter
// would silently disable admission control for every backend call.
func NewSlidingWindow(maxCalls int, window time.Duration) *SlidingWindow {
	if maxCalls < 1 {
		panic("ratelimit: maxCalls must be >= 1")
	}
	if window <= 0 {
		panic("ratelimit: window must be positive")
	}
	return &SlidingWindow{
		maxCalls: maxCalls,
		window:   window,
		admitted: make([]time.Time, 0, maxCalls),
		now:      time.Now,
	}
}

// Acquire blocks until a call slot is available or ctx is done. On success
// the slot is consumed immediately; there is no release operation because
// the window itself expires slots.
func (s *SlidingWindow) Acquire(ctx context.Context) error {
	for {
		wait, ok := s.tryAcquire()
		if ok {
			return nil
		}

		slog.Debug("rate limiter at capacity, waiting",
			"wait", wait.String(),
			"max_calls", s.maxCalls,
			"window", s.window.String(),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// tryAcquire attempts to consume a slot. On failure it returns how long the
// caller should wait before the oldest admitted call leaves the window.
func (s *SlidingWindow) tryAcquire() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.pruneLocked(now)

	if len(s.admitted) < s.maxCalls {
		s.admitted = append(s.admitted, now)
		return 0, true
	}

	wait := s.admitted[0].Add(s.window).Sub(now)
	if wait <= 0 {
		// Oldest entry expired between prune and compare; retry immediately.
		wait = time.Millisecond
	}
	return wait, false
}

// InFlight returns the number of admitted calls still inside the window.
func (s *SlidingWindow) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(s.now())
	return len(s.admitted)
}

// pruneLocked drops admitted timestamps older than the window. Caller must
// hold mu.
func (s *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-s.window)
	idx := 0
	for idx < len(s.admitted) && !s.admitted[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		s.admitted = append(s.admitted[:0], s.admitted[idx:]...)
	}
}
