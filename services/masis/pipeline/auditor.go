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
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// citationPattern matches one bracketed reference token in a draft.
var citationPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Penalty constants of the fusion policy. These are calibration, not
// tuning knobs: the quality threshold downstream assumes exactly these
// values.
const (
	invalidCitationPenalty = 0.5
	uncitedSentencePenalty = 0.03
	uncitedPenaltyCap      = 0.40
	uncitedForceRetryCount = 5
)

// Auditor verifies a draft against its evidence.
//
// # Description
//
// Two independent layers, never collapsed into one judgment:
//
//   - Semantic: a judgment call on a strictly stronger model tier than the
//     drafter, given the draft and the full evidence set but no reference
//     answer. Produces raw confidence, the hallucination flag, unsupported
//     claims, logical gaps, conflicting claims, and a retry
//     recommendation.
//   - Structural: deterministic code. Every bracketed reference is checked
//     against the cycle's evidence ids; every sentence without a reference
//     or a recognized hedge phrase counts as an uncited claim.
//
// The two layers fuse into one penalized confidence score. The structural
// layer always wins where they disagree: a draft citing a nonexistent
// passage is hallucinating no matter how confident the semantic judge is.
//
// The asymmetric model tier exists because an audit produced by the same
// reasoning process that produced the draft shares its failure modes.
type Auditor struct {
	judge llm.LLMClient
}

// NewAuditor creates the audit stage. judge must be configured on a
// strictly stronger tier than the drafting model; that constraint is
// enforced at startup, not here.
func NewAuditor(judge llm.LLMClient) *Auditor {
	return &Auditor{judge: judge}
}

// Run audits the current draft and updates the record's audit fields,
// fused confidence, audit history, and best-so-far final answer.
func (a *Auditor) Run(ctx context.Context, rec *datatypes.PipelineRecord) error {
	ctx, span := tracer.Start(ctx, "Audit")
	defer span.End()
	start := time.Now()

	draft := ""
	if rec.DraftAnswer != nil {
		draft = *rec.DraftAnswer
	}

	validIDs := rec.EvidenceIDSet()
	citations, invalidIDs := checkCitations(draft, validIDs)
	uncited := countUncitedSentences(draft)

	judgment, err := llm.GenerateStruct[auditJudgment](
		ctx, a.judge, buildAuditPrompt(rec.UserQuery, draft, rec.Evidence),
		llm.DeterministicParams(1024), auditRequiredFields...)
	if err != nil {
		return &CollaboratorError{Stage: StageAudit, Collaborator: "llm", Cause: err}
	}

	result := fuseAudit(judgment, invalidIDs, uncited)

	// Consume the drafter's over-compression signal: it forces a retry and
	// surfaces as a logical gap ahead of anything the judge noticed.
	if rec.ForcedRetryNote != "" {
		result.LogicalGaps = append(result.LogicalGaps, rec.ForcedRetryNote)
		result.NeedsRetry = true
		rec.ForcedRetryNote = ""
	}

	rec.Audit = &result
	rec.Confidence = result.Confidence
	rec.AuditHistory = append(rec.AuditHistory, result.Confidence)
	rec.Metrics.ConfidenceHistory = append(rec.Metrics.ConfidenceHistory, result.Confidence)
	rec.Metrics.CitationCount = len(citations)
	rec.Metrics.CitationViolations = len(invalidIDs)

	// Always keep the newest draft as the answer to surface. Escalation
	// paths must never show an empty response once a cycle has run.
	rec.FinalAnswer = draft

	rec.AppendTrace(datatypes.TraceEntry{
		Node:             string(StageAudit),
		RetryCount:       rec.RetryCount,
		DurationMS:       time.Since(start).Milliseconds(),
		Confidence:       result.Confidence,
		InvalidCitations: len(invalidIDs),
		UncitedSentences: uncited,
	})

	slog.Info("Audit complete",
		"requestID", rec.RequestID,
		"retryCount", rec.RetryCount,
		"confidence", result.Confidence,
		"hallucination", result.HallucinationDetected,
		"invalidCitations", len(invalidIDs),
		"uncitedSentences", uncited,
		"needsRetry", result.NeedsRetry)
	return nil
}

// fuseAudit applies the fusion policy combining the semantic judgment with
// the structural findings.
//
// The policy, in order:
//
//  1. Raw confidence reported above 1 is assumed to be a percentage and
//     divided by 100, then clamped to [0,1].
//  2. Any invalid citation halves the confidence and forces both the
//     hallucination flag and the retry recommendation, overriding the
//     semantic layer.
//  3. Uncited sentences cost 3% each, capped at 40%. Five or more force
//     the retry recommendation.
//  4. Final confidence is the penalized value clamped to [0,1].
func fuseAudit(judgment *auditJudgment, invalidIDs []string, uncited int) datatypes.AuditResult {
	normalized := judgment.Confidence
	if normalized > 1 {
		normalized /= 100
	}
	normalized = clamp01(normalized)

	result := datatypes.AuditResult{
		HallucinationDetected: judgment.HallucinationDetected,
		UnsupportedClaims:     judgment.UnsupportedClaims,
		LogicalGaps:           judgment.LogicalGaps,
		ConflictingClaims:     judgment.ConflictingClaims,
		NeedsRetry:            judgment.NeedsRetry,
		InvalidCitationIDs:    invalidIDs,
		UncitedSentenceCount:  uncited,
	}

	penalty := 1.0
	if len(invalidIDs) > 0 {
		penalty *= invalidCitationPenalty
		result.HallucinationDetected = true
		result.NeedsRetry = true
	}
	if uncited > 0 {
		penalty *= 1 - math.Min(uncitedPenaltyCap, float64(uncited)*uncitedSentencePenalty)
	}
	if uncited >= uncitedForceRetryCount {
		result.NeedsRetry = true
	}

	result.Confidence = clamp01(normalized * penalty)
	return result
}

// checkCitations extracts every bracketed reference from the draft and
// splits them into all citations and those not present in the cycle's
// evidence id set. Invalid ids are deduplicated in order of first
// appearance.
func checkCitations(draft string, validIDs map[string]struct{}) (citations []string, invalid []string) {
	matches := citationPattern.FindAllStringSubmatch(draft, -1)
	seenInvalid := make(map[string]struct{})
	for _, match := range matches {
		id := strings.TrimSpace(match[1])
		if id == "" {
			continue
		}
		citations = append(citations, id)
		if _, ok := validIDs[id]; ok {
			continue
		}
		if _, dup := seenInvalid[id]; dup {
			continue
		}
		seenInvalid[id] = struct{}{}
		invalid = append(invalid, id)
	}
	return citations, invalid
}

// countUncitedSentences counts sentences carrying neither a bracketed
// reference nor a recognized hedge phrase.
func countUncitedSentences(draft string) int {
	count := 0
	for _, sentence := range splitSentences(draft) {
		if citationPattern.MatchString(sentence) {
			continue
		}
		if containsHedgePhrase(sentence) {
			continue
		}
		count++
	}
	return count
}

// splitSentences breaks the draft into sentences on terminal punctuation
// followed by whitespace, and on newlines. Decimal points survive because
// they are not followed by whitespace.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := strings.TrimSpace(current.String())
		current.Reset()
		if s != "" {
			sentences = append(sentences, s)
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			atEnd := i == len(runes)-1
			followedBySpace := !atEnd && (runes[i+1] == ' ' || runes[i+1] == '\t' || runes[i+1] == '\n')
			if atEnd || followedBySpace {
				flush()
			}
		}
	}
	flush()
	return sentences
}

// clamp01 clamps v to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
