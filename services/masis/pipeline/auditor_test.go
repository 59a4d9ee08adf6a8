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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// runAudit is the shared harness: one scripted judge reply against one
// draft over evidence [a] and [b].
func runAudit(t *testing.T, draft, judgeReply string) *datatypes.PipelineRecord {
	t.Helper()
	judge := &fakeLLM{replies: []string{judgeReply}}
	auditor := NewAuditor(judge)
	rec := newTestRecord("q")
	rec.Evidence = []datatypes.EvidenceChunk{chunk("a", 0.9), chunk("b", 0.8)}
	rec.DraftAnswer = &draft
	require.NoError(t, auditor.Run(context.Background(), rec))
	return rec
}

func TestAuditor_CleanDraftKeepsJudgeConfidence(t *testing.T) {
	// Act
	rec := runAudit(t, "The fact holds [a]. So does the other [b].", auditReply(0.9, false, false))

	// Assert: no structural findings, no penalty.
	require.NotNil(t, rec.Audit)
	assert.InDelta(t, 0.9, rec.Audit.Confidence, 1e-9)
	assert.InDelta(t, 0.9, rec.Confidence, 1e-9)
	assert.False(t, rec.Audit.HallucinationDetected)
	assert.False(t, rec.Audit.NeedsRetry)
	assert.Empty(t, rec.Audit.InvalidCitationIDs)
	assert.Equal(t, 0, rec.Audit.UncitedSentenceCount)
	assert.Equal(t, []float64{0.9}, rec.AuditHistory)
}

func TestAuditor_PercentageConfidenceIsNormalized(t *testing.T) {
	// A judge reporting 87 means 87%, not a score of 87.
	rec := runAudit(t, "The fact holds [a].", auditReply(87, false, false))

	assert.InDelta(t, 0.87, rec.Audit.Confidence, 1e-9)
}

func TestAuditor_InvalidCitationOverridesJudge(t *testing.T) {
	// Act: the draft cites a passage that is not in the evidence set. The
	// judge sees nothing wrong.
	rec := runAudit(t, "A bold claim [ghost-7].", auditReply(0.9, false, false))

	// Assert: structural layer wins. Confidence halves, hallucination and
	// retry are forced.
	require.NotNil(t, rec.Audit)
	assert.InDelta(t, 0.45, rec.Audit.Confidence, 1e-9)
	assert.True(t, rec.Audit.HallucinationDetected)
	assert.True(t, rec.Audit.NeedsRetry)
	assert.Equal(t, []string{"ghost-7"}, rec.Audit.InvalidCitationIDs)
}

func TestAuditor_RepeatedInvalidCitationCountsOnce(t *testing.T) {
	rec := runAudit(t, "Claim [ghost]. Again [ghost]. Valid [a].", auditReply(1.0, false, false))

	assert.Equal(t, []string{"ghost"}, rec.Audit.InvalidCitationIDs)
	// All three bracketed references still count as citations.
	assert.Equal(t, 3, rec.Metrics.CitationCount)
	assert.Equal(t, 1, rec.Metrics.CitationViolations)
}

func TestAuditor_UncitedSentencesCostThreePercentEach(t *testing.T) {
	// Two uncited sentences and one cited one.
	draft := "First bare claim. Second bare claim. Supported claim [a]."
	rec := runAudit(t, draft, auditReply(0.9, false, false))

	assert.Equal(t, 2, rec.Audit.UncitedSentenceCount)
	// 0.9 * (1 - 2*0.03)
	assert.InDelta(t, 0.846, rec.Audit.Confidence, 1e-9)
	assert.False(t, rec.Audit.NeedsRetry)
}

func TestAuditor_UncitedPenaltyCapsAtFortyPercent(t *testing.T) {
	// Twenty uncited sentences would cost 60% uncapped.
	draft := strings.Repeat("Another bare claim. ", 20)
	rec := runAudit(t, strings.TrimSpace(draft), auditReply(1.0, false, false))

	assert.Equal(t, 20, rec.Audit.UncitedSentenceCount)
	assert.InDelta(t, 0.60, rec.Audit.Confidence, 1e-9)
	assert.True(t, rec.Audit.NeedsRetry)
}

func TestAuditor_FiveUncitedSentencesForceRetry(t *testing.T) {
	draft := strings.TrimSpace(strings.Repeat("A bare claim here. ", 5))
	rec := runAudit(t, draft, auditReply(1.0, false, false))

	assert.Equal(t, 5, rec.Audit.UncitedSentenceCount)
	assert.True(t, rec.Audit.NeedsRetry)
	// 1.0 * (1 - 5*0.03)
	assert.InDelta(t, 0.85, rec.Audit.Confidence, 1e-9)
}

func TestAuditor_HedgedSentencesAreExempt(t *testing.T) {
	draft := "There is insufficient evidence to compare the two quarters. The growth figure is not provided. The known part [a]."
	rec := runAudit(t, draft, auditReply(0.9, false, false))

	assert.Equal(t, 0, rec.Audit.UncitedSentenceCount)
	assert.InDelta(t, 0.9, rec.Audit.Confidence, 1e-9)
}

func TestAuditor_DecimalNumbersDoNotSplitSentences(t *testing.T) {
	// "3.5" must not end a sentence mid-number and orphan the citation.
	rec := runAudit(t, "Revenue grew 3.5 percent year over year [a].", auditReply(0.9, false, false))

	assert.Equal(t, 0, rec.Audit.UncitedSentenceCount)
}

func TestAuditor_BothPenaltiesCompound(t *testing.T) {
	// One invalid citation and two uncited sentences together.
	draft := "Bare one. Bare two. Cited wrong [ghost]."
	rec := runAudit(t, draft, auditReply(1.0, false, false))

	// 1.0 * 0.5 * (1 - 0.06)
	assert.InDelta(t, 0.47, rec.Audit.Confidence, 1e-9)
	assert.True(t, rec.Audit.HallucinationDetected)
	assert.True(t, rec.Audit.NeedsRetry)
}

func TestAuditor_ForcedRetryNoteBecomesLogicalGap(t *testing.T) {
	// Arrange: the drafter flagged over-compression before this audit.
	judge := &fakeLLM{replies: []string{auditReply(0.9, false, false)}}
	auditor := NewAuditor(judge)
	rec := newTestRecord("q")
	rec.Evidence = []datatypes.EvidenceChunk{chunk("a", 0.9)}
	draft := "The fact holds [a]."
	rec.DraftAnswer = &draft
	rec.ForcedRetryNote = "evidence compression reduced context to 12% of its original size; necessary detail may have been lost"

	// Act
	require.NoError(t, auditor.Run(context.Background(), rec))

	// Assert: the note is consumed, surfaces as a gap, and forces a retry
	// even though the judge was satisfied.
	assert.Empty(t, rec.ForcedRetryNote)
	require.Len(t, rec.Audit.LogicalGaps, 1)
	assert.Contains(t, rec.Audit.LogicalGaps[0], "compression")
	assert.True(t, rec.Audit.NeedsRetry)
	// Confidence itself is untouched by the note.
	assert.InDelta(t, 0.9, rec.Audit.Confidence, 1e-9)
}

func TestAuditor_FinalAnswerTracksLatestDraft(t *testing.T) {
	// Even a draft headed for a retry becomes the answer to surface; an
	// escalation must never present an empty response.
	rec := runAudit(t, "A weak draft [ghost].", auditReply(0.3, true, true))

	assert.Equal(t, "A weak draft [ghost].", rec.FinalAnswer)
}

func TestAuditor_AuditHistoryAccumulatesAcrossCycles(t *testing.T) {
	// Arrange
	judge := &fakeLLM{replies: []string{auditReply(0.58, false, true), auditReply(0.84, false, false)}}
	auditor := NewAuditor(judge)
	rec := newTestRecord("q")
	rec.Evidence = []datatypes.EvidenceChunk{chunk("a", 0.9)}
	draft := "The fact holds [a]."
	rec.DraftAnswer = &draft

	// Act: two audit cycles on the same record.
	require.NoError(t, auditor.Run(context.Background(), rec))
	rec.RetryCount = 1
	require.NoError(t, auditor.Run(context.Background(), rec))

	// Assert
	assert.Equal(t, []float64{0.58, 0.84}, rec.AuditHistory)
	assert.InDelta(t, 0.84, rec.Confidence, 1e-9)
}

func TestAuditor_MalformedJudgeOutputIsCollaboratorError(t *testing.T) {
	// Arrange
	judge := &fakeLLM{replies: []string{"I think the draft looks fine to me."}}
	auditor := NewAuditor(judge)
	rec := newTestRecord("q")
	rec.Evidence = []datatypes.EvidenceChunk{chunk("a", 0.9)}
	draft := "The fact holds [a]."
	rec.DraftAnswer = &draft

	// Act
	err := auditor.Run(context.Background(), rec)

	// Assert: no partial audit state leaks into the record.
	require.Error(t, err)
	assert.True(t, IsCollaboratorError(err))
	assert.Nil(t, rec.Audit)
	assert.Empty(t, rec.AuditHistory)
}

func TestSplitSentences_HandlesTerminatorsAndNewlines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "periods with spaces",
			text: "One fact. Two facts. Three facts.",
			want: []string{"One fact.", "Two facts.", "Three facts."},
		},
		{
			name: "decimal survives",
			text: "Growth was 3.5 percent. Margins held.",
			want: []string{"Growth was 3.5 percent.", "Margins held."},
		},
		{
			name: "newlines split",
			text: "First line\nSecond line",
			want: []string{"First line", "Second line"},
		},
		{
			name: "question and exclamation",
			text: "Really? Yes! Done.",
			want: []string{"Really?", "Yes!", "Done."},
		},
		{
			name: "empty input",
			text: "",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.text))
		})
	}
}
