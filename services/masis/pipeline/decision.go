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

// DefaultQualityThreshold is the fused-confidence level below which a
// cycle counts as a quality issue. It is calibrated against the audit
// penalty constants: a clean draft judged at 0.65 passes, a single invalid
// citation halves even a perfect judgment below it.
const DefaultQualityThreshold = 0.65

// DecisionPolicy is the routing authority. It owns every retry, finalize,
// and escalate decision, the retry ceiling, and all human-handoff
// messaging. Stages never route; they only record signals.
//
// The machine has five states. FIRST_RUN passes a fresh record into its
// first cycle without evaluating quality signals (judging signals against
// a draft that does not exist yet would burn a retry before the first real
// attempt). CYCLE_COMPLETE is the point at which Decide is invoked after
// each full cycle. RETRY loops back to retrieval with the same record.
// FINALIZE and ESCALATE are terminal.
type DecisionPolicy struct {
	// QualityThreshold is the minimum acceptable fused confidence.
	QualityThreshold float64
}

// NewDecisionPolicy returns a policy with the default threshold applied
// when the given one is not positive.
func NewDecisionPolicy(qualityThreshold float64) DecisionPolicy {
	if qualityThreshold <= 0 {
		qualityThreshold = DefaultQualityThreshold
	}
	return DecisionPolicy{QualityThreshold: qualityThreshold}
}

// Decide evaluates the record and returns the next state.
//
// # Description
//
// Decision order:
//
//  1. A sticky escalation flag set by any earlier stage terminates
//     immediately; its message is never overridden.
//  2. An unset draft means no cycle has run: pass through as FIRST_RUN.
//  3. A quality issue or evidence conflict below the retry ceiling
//     increments the retry count and loops.
//  4. A conflict that persisted to the ceiling escalates with a
//     pick-a-source message. Conflicts outrank generic quality issues
//     here because their remediation is different: no amount of
//     rephrasing fixes two documents that disagree.
//  5. A quality issue that persisted to the ceiling escalates with the
//     attempt count and residual confidence.
//  6. Otherwise the draft is good: FINALIZE.
//
// Terminal and retry decisions each append one decision-log entry;
// FIRST_RUN does not, because no cycle has produced signals to explain.
//
// # Limitations
//
//   - Decide mutates the record (retry count, decision log, escalation
//     message). Callers must not invoke it twice for the same cycle.
func (p DecisionPolicy) Decide(rec *datatypes.PipelineRecord) datatypes.PipelineState {
	if rec.RequiresEscalation {
		p.logDecision(rec, datatypes.StateEscalate, "escalation flagged by an earlier stage")
		return datatypes.StateEscalate
	}

	if rec.DraftAnswer == nil {
		return datatypes.StateFirstRun
	}

	quality := p.qualityIssue(rec)
	conflict := conflictDetected(rec)
	ceiling := rec.EffectiveRetryCeiling()

	if (quality || conflict) && rec.RetryCount < ceiling {
		rec.RetryCount++
		p.logDecision(rec, datatypes.StateRetry, retryDetail(rec, quality, conflict))
		rec.Metrics.RetryReasons = append(rec.Metrics.RetryReasons, retryReasonTag(rec, quality, conflict))
		return datatypes.StateRetry
	}

	if conflict {
		rec.Escalate(conflictEscalationMessage(rec))
		p.logDecision(rec, datatypes.StateEscalate, "evidence conflict persisted to the retry ceiling")
		return datatypes.StateEscalate
	}

	if quality {
		rec.Escalate(qualityEscalationMessage(rec))
		p.logDecision(rec, datatypes.StateEscalate, "quality issue persisted to the retry ceiling")
		return datatypes.StateEscalate
	}

	p.logDecision(rec, datatypes.StateFinalize, "quality signals acceptable")
	return datatypes.StateFinalize
}

// qualityIssue reports whether any quality signal from the last cycle
// flags the draft: fused confidence under threshold, a structural citation
// issue, the hallucination flag, or the auditor's explicit retry
// recommendation.
func (p DecisionPolicy) qualityIssue(rec *datatypes.PipelineRecord) bool {
	if rec.Audit == nil {
		return false
	}
	return rec.Confidence < p.QualityThreshold ||
		len(rec.Audit.InvalidCitationIDs) > 0 ||
		rec.Audit.HallucinationDetected ||
		rec.Audit.NeedsRetry
}

// conflictDetected reports whether the semantic layer found contradicting
// evidence. Conflicts are retried before escalating: against a narrow
// first-pass evidence set, a conflict may be a retrieval artifact that a
// broader pass disambiguates.
func conflictDetected(rec *datatypes.PipelineRecord) bool {
	return rec.Audit != nil && len(rec.Audit.ConflictingClaims) > 0
}

// logDecision appends one decision-log entry with the structured reason.
func (p DecisionPolicy) logDecision(rec *datatypes.PipelineRecord, decision datatypes.PipelineState, detail string) {
	reason := datatypes.DecisionReason{
		Confidence:     rec.Confidence,
		ConflictDriven: conflictDetected(rec),
		Detail:         detail,
	}
	if rec.Audit != nil {
		reason.CitationIssue = len(rec.Audit.InvalidCitationIDs) > 0
		reason.Hallucination = rec.Audit.HallucinationDetected
	}
	rec.DecisionLog = append(rec.DecisionLog, datatypes.DecisionLogEntry{
		Decision:   decision,
		Confidence: rec.Confidence,
		RetryCount: rec.RetryCount,
		Reason:     reason,
	})
}

// retryDetail summarizes why a retry was taken, for the decision log.
func retryDetail(rec *datatypes.PipelineRecord, quality, conflict bool) string {
	parts := make([]string, 0, 2)
	if quality {
		parts = append(parts, fmt.Sprintf("quality issue at confidence %.2f", rec.Confidence))
	}
	if conflict {
		parts = append(parts, "conflicting evidence")
	}
	return strings.Join(parts, "; ")
}

// retryReasonTag produces the compact retry-reason label mirrored into
// metrics.
func retryReasonTag(rec *datatypes.PipelineRecord, quality, conflict bool) string {
	switch {
	case conflict && !quality:
		return "conflict"
	case rec.Audit != nil && len(rec.Audit.InvalidCitationIDs) > 0:
		return "citation_issue"
	case rec.Audit != nil && rec.Audit.HallucinationDetected:
		return "hallucination"
	case rec.Confidence < DefaultQualityThreshold:
		return "low_confidence"
	default:
		return "audit_retry"
	}
}

// conflictEscalationMessage asks the human to arbitrate between
// contradicting sources. The pipeline deliberately never auto-resolves a
// conflict by picking the higher-scoring side: both sides may be correct
// for different contexts, such as different reporting periods.
func conflictEscalationMessage(rec *datatypes.PipelineRecord) string {
	var sb strings.Builder
	sb.WriteString("The retrieved documents contradict each other on points this answer depends on. " +
		"Please review the conflicting passages and indicate which source is authoritative.")
	if rec.Audit != nil && len(rec.Audit.ConflictingClaims) > 0 {
		sb.WriteString(" Conflicts found: ")
		sb.WriteString(strings.Join(rec.Audit.ConflictingClaims, "; "))
	}
	return sb.String()
}

// qualityEscalationMessage explains an exhausted refinement loop with
// attempt count and residual confidence.
func qualityEscalationMessage(rec *datatypes.PipelineRecord) string {
	attempts := rec.RetryCount + 1
	return fmt.Sprintf(
		"After %d attempts the answer reached only %.0f%% confidence. "+
			"The draft below is the best available; please review it or refine your question.",
		attempts, rec.Confidence*100)
}
