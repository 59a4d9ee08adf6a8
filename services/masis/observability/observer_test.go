// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// ============================================================================
// Test Helpers
// ============================================================================

func newTestObserver(t *testing.T) (*PipelineObserver, *ServiceMetrics) {
	t.Helper()
	m := newTestMetrics(t)
	return NewPipelineObserver(m), m
}

// finalizedRecord builds a record that passed the quality gate on the
// first cycle.
func finalizedRecord() *datatypes.PipelineRecord {
	rec := datatypes.NewPipelineRecord("req-1", "what is the refund policy", "ws-1", 2)
	rec.Confidence = 0.84
	rec.FinalAnswer = "Refunds are honored within 30 days [1]."
	rec.Evaluation = &datatypes.EvaluationResult{OverallScore: 0.79}
	rec.DecisionLog = append(rec.DecisionLog, datatypes.DecisionLogEntry{
		Decision:   datatypes.StateFinalize,
		Confidence: 0.84,
		Reason:     datatypes.DecisionReason{Confidence: 0.84},
	})
	return rec
}

// escalatedRecord builds a record that escalated with the given final
// decision reason.
func escalatedRecord(reason datatypes.DecisionReason) *datatypes.PipelineRecord {
	rec := datatypes.NewPipelineRecord("req-2", "which figure is correct", "ws-1", 2)
	rec.Confidence = reason.Confidence
	rec.Escalate("needs human review")
	rec.DecisionLog = append(rec.DecisionLog, datatypes.DecisionLogEntry{
		Decision:   datatypes.StateEscalate,
		Confidence: reason.Confidence,
		RetryCount: 2,
		Reason:     reason,
	})
	return rec
}

// ============================================================================
// OnTrace Tests
// ============================================================================

func TestPipelineObserver_OnTrace_RecordsStageDuration(t *testing.T) {
	obs, m := newTestObserver(t)

	obs.OnTrace("req-1", datatypes.TraceEntry{Node: "retrieve", DurationMS: 250})
	obs.OnTrace("req-1", datatypes.TraceEntry{Node: "draft", DurationMS: 1800})

	count := testutil.CollectAndCount(m.StageDurationSeconds)
	if count != 2 {
		t.Errorf("Expected 2 stage series, got %d", count)
	}
}

// ============================================================================
// OnComplete Tests
// ============================================================================

func TestPipelineObserver_OnComplete_Finalized(t *testing.T) {
	obs, m := newTestObserver(t)

	obs.OnComplete("req-1", finalizedRecord())

	finalized := testutil.ToFloat64(m.SynthesesTotal.WithLabelValues("finalized"))
	if finalized != 1 {
		t.Errorf("SynthesesTotal[finalized] = %f, want 1", finalized)
	}

	escalated := testutil.ToFloat64(m.SynthesesTotal.WithLabelValues("escalated"))
	if escalated != 0 {
		t.Errorf("SynthesesTotal[escalated] = %f, want 0", escalated)
	}

	if count := testutil.CollectAndCount(m.AnswerScore); count == 0 {
		t.Error("Expected AnswerScore to be observed for evaluated record")
	}
}

func TestPipelineObserver_OnComplete_MirrorsRetryReasons(t *testing.T) {
	obs, m := newTestObserver(t)

	rec := finalizedRecord()
	rec.RetryCount = 2
	rec.Metrics.RetryReasons = []string{"conflict", "low_confidence"}

	obs.OnComplete("req-1", rec)

	conflict := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("conflict"))
	if conflict != 1 {
		t.Errorf("RetriesTotal[conflict] = %f, want 1", conflict)
	}
	lowConf := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("low_confidence"))
	if lowConf != 1 {
		t.Errorf("RetriesTotal[low_confidence] = %f, want 1", lowConf)
	}
}

func TestPipelineObserver_OnComplete_EscalatedConflict(t *testing.T) {
	obs, m := newTestObserver(t)

	rec := escalatedRecord(datatypes.DecisionReason{
		Confidence:     0.55,
		ConflictDriven: true,
		Detail:         "evidence conflict persisted to the retry ceiling",
	})
	obs.OnComplete("req-2", rec)

	escalated := testutil.ToFloat64(m.SynthesesTotal.WithLabelValues("escalated"))
	if escalated != 1 {
		t.Errorf("SynthesesTotal[escalated] = %f, want 1", escalated)
	}

	conflict := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("conflict"))
	if conflict != 1 {
		t.Errorf("EscalationsTotal[conflict] = %f, want 1", conflict)
	}
}

func TestPipelineObserver_OnComplete_EscalatedQuality(t *testing.T) {
	obs, m := newTestObserver(t)

	rec := escalatedRecord(datatypes.DecisionReason{
		Confidence:    0.42,
		CitationIssue: true,
		Detail:        "quality issue persisted to the retry ceiling",
	})
	obs.OnComplete("req-2", rec)

	quality := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("quality"))
	if quality != 1 {
		t.Errorf("EscalationsTotal[quality] = %f, want 1", quality)
	}
}

func TestPipelineObserver_OnComplete_EscalatedOperational(t *testing.T) {
	obs, m := newTestObserver(t)

	// A failure before any audited cycle leaves a zeroed reason.
	rec := escalatedRecord(datatypes.DecisionReason{
		Detail: "escalation flagged by an earlier stage",
	})
	obs.OnComplete("req-2", rec)

	operational := testutil.ToFloat64(m.EscalationsTotal.WithLabelValues("operational"))
	if operational != 1 {
		t.Errorf("EscalationsTotal[operational] = %f, want 1", operational)
	}
}

// ============================================================================
// escalationCause Tests
// ============================================================================

func TestEscalationCause_Classification(t *testing.T) {
	tests := []struct {
		name     string
		reason   datatypes.DecisionReason
		expected EscalationCause
	}{
		{
			name:     "conflict wins over other signals",
			reason:   datatypes.DecisionReason{Confidence: 0.3, CitationIssue: true, ConflictDriven: true},
			expected: EscalationCauseConflict,
		},
		{
			name:     "citation issue is quality",
			reason:   datatypes.DecisionReason{Confidence: 0.5, CitationIssue: true},
			expected: EscalationCauseQuality,
		},
		{
			name:     "hallucination is quality",
			reason:   datatypes.DecisionReason{Confidence: 0.5, Hallucination: true},
			expected: EscalationCauseQuality,
		},
		{
			name:     "low confidence alone is quality",
			reason:   datatypes.DecisionReason{Confidence: 0.38},
			expected: EscalationCauseQuality,
		},
		{
			name:     "zeroed reason is operational",
			reason:   datatypes.DecisionReason{},
			expected: EscalationCauseOperational,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := escalatedRecord(tt.reason)
			if got := escalationCause(rec); got != tt.expected {
				t.Errorf("escalationCause() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestEscalationCause_NoEscalateEntryIsOperational(t *testing.T) {
	rec := finalizedRecord()
	rec.Escalate("stage failure after finalize decision was logged")

	if got := escalationCause(rec); got != EscalationCauseOperational {
		t.Errorf("escalationCause() = %s, want %s", got, EscalationCauseOperational)
	}
}

func TestEscalationCause_UsesLastEscalateEntry(t *testing.T) {
	rec := escalatedRecord(datatypes.DecisionReason{Confidence: 0.4, ConflictDriven: true})
	// A later escalate entry without conflict should win.
	rec.DecisionLog = append(rec.DecisionLog, datatypes.DecisionLogEntry{
		Decision: datatypes.StateEscalate,
		Reason:   datatypes.DecisionReason{Confidence: 0.3},
	})

	if got := escalationCause(rec); got != EscalationCauseQuality {
		t.Errorf("escalationCause() = %s, want %s", got, EscalationCauseQuality)
	}
}
