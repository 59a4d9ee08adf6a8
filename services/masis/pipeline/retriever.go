// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// EvidenceSearcher is the similarity-search collaborator contract. The
// workspace filter is enforced by the implementation, not by callers.
type EvidenceSearcher interface {
	Search(ctx context.Context, workspaceID string, query string, limit int) ([]datatypes.EvidenceChunk, error)
}

// RetrievalConfig holds the adaptive retrieval parameters. The first pass
// fetches fewer candidates under a stricter threshold; any retry fetches
// more under a slightly relaxed one, because the narrower first pass
// already proved insufficient.
type RetrievalConfig struct {
	FirstPassFetch     int
	FirstPassThreshold float64
	RetryFetch         int
	RetryThreshold     float64
}

// DefaultRetrievalConfig returns the tuned defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		FirstPassFetch:     10,
		FirstPassThreshold: 0.60,
		RetryFetch:         20,
		RetryThreshold:     0.55,
	}
}

// paramsFor selects fetch count and similarity threshold by retry count.
func (c RetrievalConfig) paramsFor(retryCount int) (int, float64) {
	if retryCount == 0 {
		return c.FirstPassFetch, c.FirstPassThreshold
	}
	return c.RetryFetch, c.RetryThreshold
}

// The two zero-coverage escalation messages. They are deliberately
// distinct: advising a user to rephrase when their workspace is empty, or
// to upload documents when their phrasing is the problem, sends them down
// the wrong path.
const (
	escalationEmptyCorpus = "No matching material was found in this workspace. " +
		"Please upload documents covering your question and try again."
	escalationAllBelowThreshold = "Documents were found but none were similar enough to your question. " +
		"Please rephrase using more specific terminology from your documents."
)

// Retriever fetches workspace-scoped evidence for the current cycle.
//
// # Description
//
// The retriever searches by similarity, deduplicates by chunk id, discards
// candidates below the active threshold, and replaces the record's evidence
// wholesale. On retries it augments the query with the prior audit's
// unsupported claims and logical gaps; the original query text is always
// preserved, never reformulated.
//
// Zero surviving evidence short-circuits the cycle: the retriever sets the
// escalation flag itself so no drafting call is wasted on an empty
// evidence set.
type Retriever struct {
	searcher EvidenceSearcher
	config   RetrievalConfig
}

// NewRetriever creates the retrieval stage.
func NewRetriever(searcher EvidenceSearcher, config RetrievalConfig) *Retriever {
	return &Retriever{searcher: searcher, config: config}
}

// Run executes one retrieval pass over the record.
//
// # Inputs
//
//   - ctx: Context for cancellation and timeout.
//   - rec: The pipeline record; Evidence is replaced, RequiresEscalation
//     may be set on zero coverage.
//
// # Outputs
//
//   - error: A *CollaboratorError when the search backend fails. Zero
//     coverage is not an error; it is a designed outcome expressed on the
//     record.
func (r *Retriever) Run(ctx context.Context, rec *datatypes.PipelineRecord) error {
	ctx, span := tracer.Start(ctx, "Retrieve")
	defer span.End()
	start := time.Now()

	query := rec.UserQuery
	augmented := false
	if rec.RetryCount > 0 && rec.Audit != nil {
		if widened := buildAugmentedQuery(rec.UserQuery, rec.Audit); widened != rec.UserQuery {
			query = widened
			augmented = true
		}
	}

	fetch, threshold := r.config.paramsFor(rec.RetryCount)

	candidates, err := r.searcher.Search(ctx, rec.TenantScope, query, fetch)
	if err != nil {
		return &CollaboratorError{Stage: StageRetrieve, Collaborator: "search", Cause: err}
	}

	survivors := filterCandidates(candidates, threshold)

	var avgSimilarity float64
	scores := make([]float64, 0, len(survivors))
	for _, chunk := range survivors {
		avgSimilarity += chunk.Similarity
		scores = append(scores, chunk.Similarity)
	}
	if len(survivors) > 0 {
		avgSimilarity /= float64(len(survivors))
	}

	rec.Evidence = survivors
	rec.Metrics.RetrievalScores = scores
	rec.Metrics.AvgRetrievalScore = avgSimilarity

	rec.AppendTrace(datatypes.TraceEntry{
		Node:           string(StageRetrieve),
		RetryCount:     rec.RetryCount,
		DurationMS:     time.Since(start).Milliseconds(),
		Candidates:     len(candidates),
		Survivors:      len(survivors),
		Discarded:      len(candidates) - len(survivors),
		AvgSimilarity:  avgSimilarity,
		AugmentedQuery: augmented,
	})

	slog.Info("Retrieval pass complete",
		"requestID", rec.RequestID,
		"retryCount", rec.RetryCount,
		"candidates", len(candidates),
		"survivors", len(survivors),
		"avgSimilarity", avgSimilarity,
		"augmented", augmented)

	if len(survivors) == 0 {
		if len(candidates) > 0 {
			rec.Escalate(escalationAllBelowThreshold)
		} else {
			rec.Escalate(escalationEmptyCorpus)
		}
	}
	return nil
}

// buildAugmentedQuery appends the prior cycle's unsupported claims and
// logical gaps to the query as flat text. Strictly additive; user intent is
// preserved while the search target widens.
func buildAugmentedQuery(query string, audit *datatypes.AuditResult) string {
	extra := make([]string, 0, len(audit.UnsupportedClaims)+len(audit.LogicalGaps))
	for _, claim := range audit.UnsupportedClaims {
		if claim = strings.TrimSpace(claim); claim != "" {
			extra = append(extra, claim)
		}
	}
	for _, gap := range audit.LogicalGaps {
		if gap = strings.TrimSpace(gap); gap != "" {
			extra = append(extra, gap)
		}
	}
	if len(extra) == 0 {
		return query
	}
	return query + " " + strings.Join(extra, " ")
}

// filterCandidates deduplicates by id and drops candidates below the
// threshold. Candidates arrive sorted by similarity, so keeping the first
// occurrence of a duplicated id keeps the best-scoring one.
func filterCandidates(candidates []datatypes.EvidenceChunk, threshold float64) []datatypes.EvidenceChunk {
	seen := make(map[string]struct{}, len(candidates))
	survivors := make([]datatypes.EvidenceChunk, 0, len(candidates))
	for _, chunk := range candidates {
		if _, dup := seen[chunk.ID]; dup {
			continue
		}
		seen[chunk.ID] = struct{}{}
		if chunk.Similarity < threshold {
			continue
		}
		survivors = append(survivors, chunk)
	}
	return survivors
}
