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
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// PipelineObserver mirrors pipeline progress into Prometheus. It satisfies
// the pipeline's trace-observer contract without the pipeline package
// importing this one.
//
// # Description
//
// Stage latencies are recorded as each trace entry is appended; quality
// outcomes, retry reasons, and escalation causes are recorded once per
// request at terminal state. All methods are cheap and non-blocking, so
// the observer can sit directly on the pipeline hot path.
//
// # Thread Safety
//
// Safe for concurrent use; all state lives in Prometheus collectors.
type PipelineObserver struct {
	metrics *ServiceMetrics
}

// NewPipelineObserver creates an observer that records into m.
func NewPipelineObserver(m *ServiceMetrics) *PipelineObserver {
	return &PipelineObserver{metrics: m}
}

// OnTrace records the latency of the stage the entry describes.
func (o *PipelineObserver) OnTrace(requestID string, entry datatypes.TraceEntry) {
	o.metrics.RecordStageDuration(entry.Node, float64(entry.DurationMS)/1000.0)
}

// OnDecision is a no-op; retry reasons are mirrored wholesale at
// completion from the record's accumulated metrics.
func (o *PipelineObserver) OnDecision(requestID string, entry datatypes.DecisionLogEntry) {}

// OnComplete records the terminal outcome of a synthesis request.
func (o *PipelineObserver) OnComplete(requestID string, rec *datatypes.PipelineRecord) {
	outcome := OutcomeFinalized
	if rec.RequiresEscalation {
		outcome = OutcomeEscalated
		o.metrics.RecordEscalation(escalationCause(rec))
	}
	o.metrics.RecordSynthesis(outcome, rec.Confidence, rec.RetryCount+1)
	if rec.Evaluation != nil {
		o.metrics.RecordAnswerScore(rec.Evaluation.OverallScore)
	}
	for _, reason := range rec.Metrics.RetryReasons {
		o.metrics.RecordRetry(reason)
	}
}

// escalationCause classifies an escalated record by the quality signals
// present on its final escalate decision. Conflicting evidence wins over
// other signals because it is the one cause the pipeline refuses to
// resolve on its own. A zeroed reason means no audited cycle produced the
// escalation, which points at infrastructure rather than answer quality.
func escalationCause(rec *datatypes.PipelineRecord) EscalationCause {
	for i := len(rec.DecisionLog) - 1; i >= 0; i-- {
		entry := rec.DecisionLog[i]
		if entry.Decision != datatypes.StateEscalate {
			continue
		}
		switch {
		case entry.Reason.ConflictDriven:
			return EscalationCauseConflict
		case entry.Reason.CitationIssue || entry.Reason.Hallucination:
			return EscalationCauseQuality
		case entry.Reason.Confidence > 0:
			return EscalationCauseQuality
		default:
			return EscalationCauseOperational
		}
	}
	return EscalationCauseOperational
}
