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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// DraftConfig holds the context-budgeting parameters.
type DraftConfig struct {
	// ContextBudgetChars is the evidence size above which compression
	// kicks in.
	ContextBudgetChars int

	// VerbatimTop is how many of the highest-similarity chunks are never
	// compressed.
	VerbatimTop int

	// SummaryLimitChars caps each compressed tail chunk.
	SummaryLimitChars int

	// OverCompressionRatio is the compressed/original ratio below which
	// compression is assumed to have destroyed necessary detail.
	OverCompressionRatio float64

	// MaxDraftTokens bounds the generation call.
	MaxDraftTokens int
}

// DefaultDraftConfig returns the tuned defaults.
func DefaultDraftConfig() DraftConfig {
	return DraftConfig{
		ContextBudgetChars:   6000,
		VerbatimTop:          3,
		SummaryLimitChars:    200,
		OverCompressionRatio: 0.35,
		MaxDraftTokens:       1024,
	}
}

// Drafter produces the cited draft answer for the current cycle.
//
// # Description
//
// When the evidence exceeds the context budget, the drafter keeps the
// top-ranked chunks verbatim and compresses the tail through a
// zero-temperature summarization call instructed to preserve numeric
// values. The top-ranked chunks are never degraded.
//
// A compressed total below the over-compression ratio is treated as a
// predictive failure: the drafter writes a forced-retry note into the
// record before the auditor runs, so the retry decision does not have to
// wait for the audit to notice the damage.
//
// On retries, the prior audit's findings are prepended to the prompt as
// explicit correction instructions.
type Drafter struct {
	generator  llm.LLMClient
	compressor llm.LLMClient
	config     DraftConfig
}

// NewDrafter creates the drafting stage. generator produces the draft;
// compressor handles the deterministic tail summarization and may be a
// weaker (cheaper) model.
func NewDrafter(generator, compressor llm.LLMClient, config DraftConfig) *Drafter {
	return &Drafter{generator: generator, compressor: compressor, config: config}
}

// Run executes one drafting pass over the record.
func (d *Drafter) Run(ctx context.Context, rec *datatypes.PipelineRecord) error {
	ctx, span := tracer.Start(ctx, "Draft")
	defer span.End()
	start := time.Now()

	formatted, originalChars, compressedChars, compressionMS := d.prepareContext(ctx, rec)

	ratio := 1.0
	overCompressed := false
	if originalChars > 0 {
		ratio = float64(compressedChars) / float64(originalChars)
	}
	if compressedChars < originalChars && ratio < d.config.OverCompressionRatio {
		overCompressed = true
		rec.ForcedRetryNote = fmt.Sprintf(
			"evidence compression reduced context to %.0f%% of its original size; necessary detail may have been lost",
			ratio*100)
		slog.Warn("Over-compression detected",
			"requestID", rec.RequestID,
			"originalChars", originalChars,
			"compressedChars", compressedChars,
			"ratio", ratio)
	}

	feedback := ""
	if rec.RetryCount > 0 {
		feedback = buildAuditFeedback(rec.Audit)
	}

	prompt := buildDraftPrompt(rec.UserQuery, formatted, feedback)

	temperature := float32(0.3)
	params := llm.GenerationParams{
		Temperature: &temperature,
		MaxTokens:   &d.config.MaxDraftTokens,
	}
	draft, err := d.generator.Generate(ctx, prompt, params)
	if err != nil {
		return &CollaboratorError{Stage: StageDraft, Collaborator: "llm", Cause: err}
	}
	draft = strings.TrimSpace(draft)

	rec.DraftAnswer = &draft

	rec.Metrics.OriginalContextChars = originalChars
	rec.Metrics.CompressedContextChars = compressedChars
	rec.Metrics.CompressionRatio = ratio
	rec.Metrics.OverCompressionFlag = rec.Metrics.OverCompressionFlag || overCompressed
	rec.Metrics.CompressionLatencyMS += compressionMS
	rec.Metrics.AnswerLength = len(draft)

	rec.AppendTrace(datatypes.TraceEntry{
		Node:             string(StageDraft),
		RetryCount:       rec.RetryCount,
		DurationMS:       time.Since(start).Milliseconds(),
		ContextChars:     originalChars,
		CompressedChars:  compressedChars,
		CompressionRatio: ratio,
		OverCompressed:   overCompressed,
	})

	slog.Info("Draft produced",
		"requestID", rec.RequestID,
		"retryCount", rec.RetryCount,
		"draftChars", len(draft),
		"compressionRatio", ratio)
	return nil
}

// prepareContext fits the evidence into the context budget. It returns the
// prompt-ready evidence along with original size, final size, and time
// spent in compression calls.
func (d *Drafter) prepareContext(ctx context.Context, rec *datatypes.PipelineRecord) ([]formattedEvidence, int, int, int64) {
	originalChars := 0
	for _, chunk := range rec.Evidence {
		originalChars += len(chunk.Text)
	}

	formatted := make([]formattedEvidence, len(rec.Evidence))
	for i, chunk := range rec.Evidence {
		formatted[i] = formattedEvidence{
			ID:         chunk.ID,
			Text:       chunk.Text,
			Similarity: chunk.Similarity,
			FileName:   chunk.FileName,
		}
	}

	if originalChars <= d.config.ContextBudgetChars {
		return formatted, originalChars, originalChars, 0
	}

	// Over budget: rank by similarity, keep the top verbatim, compress the
	// tail chunk by chunk.
	sort.SliceStable(formatted, func(i, j int) bool {
		return formatted[i].Similarity > formatted[j].Similarity
	})

	compressionStart := time.Now()
	for i := range formatted {
		if i < d.config.VerbatimTop {
			continue
		}
		if len(formatted[i].Text) <= d.config.SummaryLimitChars {
			continue
		}
		formatted[i].Text = d.compressChunk(ctx, formatted[i].Text)
	}
	compressionMS := time.Since(compressionStart).Milliseconds()

	compressedChars := 0
	for _, item := range formatted {
		compressedChars += len(item.Text)
	}
	return formatted, originalChars, compressedChars, compressionMS
}

// compressChunk summarizes one tail chunk deterministically. Any failure
// falls back to hard truncation of the original text; a degraded chunk is
// recoverable, a failed cycle is not.
func (d *Drafter) compressChunk(ctx context.Context, text string) string {
	limit := d.config.SummaryLimitChars
	prompt := buildCompressionPrompt(text, limit)

	summary, err := d.compressor.Generate(ctx, prompt, llm.DeterministicParams(limit/2))
	if err != nil {
		slog.Warn("Compression call failed, truncating instead", "error", err)
		return truncate(text, limit)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return truncate(text, limit)
	}
	if len(summary) > limit {
		summary = truncate(summary, limit)
	}
	return summary
}

// truncate hard-caps a string at limit characters.
func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
