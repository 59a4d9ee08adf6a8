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
	"fmt"
	"strings"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// =============================================================================
// Shared Vocabulary
// =============================================================================

// HedgePhrases is the exact vocabulary exempting a sentence from the
// uncited-claim penalty. The drafting prompt instructs the model to use
// these phrases when evidence only partially covers the question, and the
// audit's structural layer recognizes the same list. Changing one side
// without the other breaks calibration.
var HedgePhrases = []string{
	"insufficient evidence",
	"not provided",
	"cannot provide",
}

// containsHedgePhrase reports whether the sentence uses any recognized
// hedge, case-insensitively.
func containsHedgePhrase(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, phrase := range HedgePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// =============================================================================
// Drafting Prompts
// =============================================================================

// buildDraftPrompt assembles the generation prompt. The three numbered rules
// are the contract the audit verifies later: evidence-only answers, a
// bracketed reference on every factual sentence, and hedging instead of
// invention when coverage is partial.
func buildDraftPrompt(query string, evidence []formattedEvidence, feedback string) string {
	var sb strings.Builder

	sb.WriteString("You are a careful research assistant. Answer the question using ONLY the evidence passages below.\n\n")
	sb.WriteString("Rules:\n")
	sb.WriteString("1. Use only the supplied evidence. Do not use outside knowledge.\n")
	sb.WriteString("2. Every factual sentence must end with a bracketed reference to the evidence passage it is drawn from, e.g. [")
	if len(evidence) > 0 {
		sb.WriteString(evidence[0].ID)
	} else {
		sb.WriteString("passage-id")
	}
	sb.WriteString("].\n")
	sb.WriteString("3. If the evidence only partially covers the question, say so explicitly using the phrase \"insufficient evidence\" or \"not provided\" rather than inventing content. If the evidence does not cover the question at all, state that you cannot provide an answer.\n\n")

	if feedback != "" {
		sb.WriteString("A previous attempt at this answer was audited and rejected. Correct these specific issues:\n")
		sb.WriteString(feedback)
		sb.WriteString("\n\n")
	}

	sb.WriteString("Evidence passages:\n")
	for _, item := range evidence {
		fmt.Fprintf(&sb, "[%s] (similarity %.2f, from %s)\n%s\n\n", item.ID, item.Similarity, item.FileName, item.Text)
	}

	fmt.Fprintf(&sb, "Question: %s\n\nAnswer:", query)
	return sb.String()
}

// buildAuditFeedback flattens a prior audit into the correction block
// prepended to a retry's drafting prompt.
func buildAuditFeedback(audit *datatypes.AuditResult) string {
	if audit == nil {
		return ""
	}
	var sb strings.Builder
	if audit.HallucinationDetected {
		sb.WriteString("- The previous draft contained claims not supported by the evidence.\n")
	}
	for _, claim := range audit.UnsupportedClaims {
		fmt.Fprintf(&sb, "- Unsupported claim: %s\n", claim)
	}
	for _, gap := range audit.LogicalGaps {
		fmt.Fprintf(&sb, "- Logical gap: %s\n", gap)
	}
	for _, conflict := range audit.ConflictingClaims {
		fmt.Fprintf(&sb, "- Conflicting evidence: %s\n", conflict)
	}
	if len(audit.InvalidCitationIDs) > 0 {
		fmt.Fprintf(&sb, "- The previous draft cited passages that do not exist: %s. Cite only the passage ids supplied below.\n",
			strings.Join(audit.InvalidCitationIDs, ", "))
	}
	return sb.String()
}

// buildCompressionPrompt asks for a deterministic summary of one evidence
// passage. Preserving numeric values is explicit because compressed
// financial or measurement passages lose their evidentiary value without
// the numbers.
func buildCompressionPrompt(text string, limit int) string {
	return fmt.Sprintf(
		"Summarize the following passage in at most %d characters. Preserve ALL numeric values, dates, and proper names exactly as written. Output only the summary.\n\nPassage:\n%s",
		limit, text)
}

// =============================================================================
// Judgment Prompts
// =============================================================================

// auditJudgment is the schema the semantic audit must return. Every field
// listed in auditRequiredFields must be present; a partial object is a
// collaborator failure, not a default.
type auditJudgment struct {
	Confidence            float64  `json:"confidence"`
	HallucinationDetected bool     `json:"hallucination_detected"`
	UnsupportedClaims     []string `json:"unsupported_claims"`
	LogicalGaps           []string `json:"logical_gaps"`
	ConflictingClaims     []string `json:"conflicting_claims"`
	NeedsRetry            bool     `json:"needs_retry"`
}

var auditRequiredFields = []string{
	"confidence",
	"hallucination_detected",
	"unsupported_claims",
	"logical_gaps",
	"conflicting_claims",
	"needs_retry",
}

// buildAuditPrompt assembles the semantic audit prompt. The judge never
// sees a reference answer; it compares the draft against the evidence set
// alone.
func buildAuditPrompt(query, draft string, evidence []datatypes.EvidenceChunk) string {
	var sb strings.Builder

	sb.WriteString("You are a strict auditor. Given a question, a drafted answer, and the evidence the drafter was given, judge whether the draft is fully supported by the evidence.\n\n")
	sb.WriteString("Evidence passages:\n")
	for _, chunk := range evidence {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", chunk.ID, chunk.Text)
	}
	fmt.Fprintf(&sb, "Question: %s\n\nDraft answer:\n%s\n\n", query, draft)

	sb.WriteString("Respond with ONLY a JSON object, no prose, in exactly this shape:\n")
	sb.WriteString(`{
  "confidence": <float 0.0-1.0, how well the draft is supported>,
  "hallucination_detected": <true if any claim lacks evidentiary support>,
  "unsupported_claims": [<each claim not backed by the evidence>],
  "logical_gaps": [<each place the reasoning skips a needed step or the evidence is missing context>],
  "conflicting_claims": [<each place two evidence passages contradict each other on a point the draft relies on>],
  "needs_retry": <true if the draft should be rewritten with better evidence>
}`)
	return sb.String()
}

// evalJudgment is the schema the evaluation judge must return.
type evalJudgment struct {
	Faithfulness     float64  `json:"faithfulness"`
	Relevance        float64  `json:"relevance"`
	Completeness     float64  `json:"completeness"`
	ReasoningQuality float64  `json:"reasoning_quality"`
	Suggestions      []string `json:"suggestions"`
}

var evalRequiredFields = []string{
	"faithfulness",
	"relevance",
	"completeness",
	"reasoning_quality",
}

// buildEvalPrompt assembles the four-dimension scoring prompt. The anchors
// and the "do not default to the maximum" instruction exist because
// unconstrained judges drift toward uniformly high scores.
func buildEvalPrompt(query, answer string, evidence []datatypes.EvidenceChunk) string {
	var sb strings.Builder

	sb.WriteString("You are scoring an answer produced from retrieved evidence. Score each dimension in [0.0, 1.0] using these anchors: 0.0 = absent, 0.5 = partially met, 1.0 = fully met. Be critical; do NOT default to the maximum score.\n\n")
	sb.WriteString("Dimensions:\n")
	sb.WriteString("- faithfulness: every claim is supported by the evidence\n")
	sb.WriteString("- relevance: the answer addresses the question asked\n")
	sb.WriteString("- completeness: the answer covers what the evidence allows\n")
	sb.WriteString("- reasoning_quality: the answer's reasoning is coherent and well-structured\n\n")

	sb.WriteString("Evidence passages:\n")
	for _, chunk := range evidence {
		fmt.Fprintf(&sb, "[%s]\n%s\n\n", chunk.ID, chunk.Text)
	}
	fmt.Fprintf(&sb, "Question: %s\n\nAnswer:\n%s\n\n", query, answer)

	sb.WriteString("Respond with ONLY a JSON object:\n")
	sb.WriteString(`{
  "faithfulness": <float>,
  "relevance": <float>,
  "completeness": <float>,
  "reasoning_quality": <float>,
  "suggestions": [<concrete improvements, may be empty>]
}`)
	return sb.String()
}

// formattedEvidence is an evidence chunk as it appears in the drafting
// prompt, after any compression.
type formattedEvidence struct {
	ID         string
	Text       string
	Similarity float64
	FileName   string
}
