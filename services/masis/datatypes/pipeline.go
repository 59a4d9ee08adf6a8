// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the shared data structures for the MASIS
// synthesis service: the pipeline record threaded through one request,
// the audit and evaluation results produced per cycle, and the DTOs on
// the HTTP surface.
package datatypes

// =============================================================================
// Pipeline States
// =============================================================================

// PipelineState names one state of the synthesis decision machine.
//
// The machine has exactly five states. ESCALATE and FINALIZE are terminal;
// RETRY loops the cycle back to retrieval; FIRST_RUN is the pass-through
// taken when no draft exists yet; CYCLE_COMPLETE is the evaluation point
// reached after every full cycle.
type PipelineState string

const (
	StateFirstRun      PipelineState = "FIRST_RUN"
	StateCycleComplete PipelineState = "CYCLE_COMPLETE"
	StateRetry         PipelineState = "RETRY"
	StateFinalize      PipelineState = "FINALIZE"
	StateEscalate      PipelineState = "ESCALATE"
)

// DefaultRetryCeiling bounds the refinement loop when the caller does not
// supply a ceiling. A zero or negative ceiling on a record is replaced by
// this value at decision time; it is never treated as "unbounded".
const DefaultRetryCeiling = 2

// =============================================================================
// Evidence
// =============================================================================

// EvidenceChunk is one retrieved passage. Chunks are created fresh by the
// retriever each cycle and never mutated afterwards; the drafter and auditor
// of the same cycle are their only consumers.
type EvidenceChunk struct {
	// ID is the chunk's stable identifier, unique within a workspace corpus.
	// Draft citations reference this value in bracketed form.
	ID string `json:"id"`

	// Text is the passage content as stored at ingestion time.
	Text string `json:"text"`

	// Similarity is the search backend's similarity score in [0,1].
	Similarity float64 `json:"similarity"`

	// SourceDocumentID identifies the document the chunk was split from.
	SourceDocumentID string `json:"source_document_id"`

	// FileName is the original upload name, carried for display only.
	FileName string `json:"file_name,omitempty"`
}

// =============================================================================
// Audit & Evaluation Results
// =============================================================================

// AuditResult is the fused output of one audit: the semantic judgment of an
// independent model combined with deterministic citation checks.
//
// Invariant: HallucinationDetected is true whenever InvalidCitationIDs is
// non-empty, regardless of what the semantic judgment reported. The
// deterministic finding always wins.
type AuditResult struct {
	// Confidence is the post-penalty fused confidence in [0,1].
	Confidence float64 `json:"confidence"`

	HallucinationDetected bool     `json:"hallucination_detected"`
	UnsupportedClaims     []string `json:"unsupported_claims"`
	LogicalGaps           []string `json:"logical_gaps"`
	ConflictingClaims     []string `json:"conflicting_claims"`
	NeedsRetry            bool     `json:"needs_retry"`

	// InvalidCitationIDs lists bracketed references in the draft that match
	// no evidence chunk id from the same cycle.
	InvalidCitationIDs []string `json:"invalid_citation_ids"`

	// UncitedSentenceCount counts sentences carrying neither a bracketed
	// reference nor a recognized hedge phrase.
	UncitedSentenceCount int `json:"uncited_sentence_count"`
}

// StructuralAuditSummary is the compact, code-derived citation findings the
// auditor hands to the evaluator. It is the sole channel between the two
// stages' findings.
type StructuralAuditSummary struct {
	HallucinationDetected bool     `json:"hallucination_detected"`
	InvalidCitationIDs    []string `json:"invalid_citation_ids"`
	UncitedSentenceCount  int      `json:"uncited_sentence_count"`
}

// HasCitationIssue reports whether the deterministic layer found at least
// one invalid citation.
func (s StructuralAuditSummary) HasCitationIssue() bool {
	return len(s.InvalidCitationIDs) > 0
}

// EvaluationResult scores a finalized draft along four independent
// dimensions. It is pure measurement and never affects routing.
//
// OverallScore is always recomputed from the four dimensions after the
// audit-derived floors are applied; it is never taken from the judge
// verbatim.
type EvaluationResult struct {
	Faithfulness     float64 `json:"faithfulness"`
	Relevance        float64 `json:"relevance"`
	Completeness     float64 `json:"completeness"`
	ReasoningQuality float64 `json:"reasoning_quality"`
	OverallScore     float64 `json:"overall_score"`

	Suggestions []string `json:"suggestions,omitempty"`
}

// =============================================================================
// Trace & Decision Log
// =============================================================================

// TraceEntry records one stage execution. Entries are append-only; no stage
// may rewrite or remove a previous entry. Stage-specific fields are zero for
// stages that do not produce them.
type TraceEntry struct {
	Node       string `json:"node"`
	RetryCount int    `json:"retry_count"`
	DurationMS int64  `json:"duration_ms"`

	// Retrieval fields.
	Candidates     int     `json:"candidates,omitempty"`
	Survivors      int     `json:"survivors,omitempty"`
	Discarded      int     `json:"discarded,omitempty"`
	AvgSimilarity  float64 `json:"avg_similarity,omitempty"`
	AugmentedQuery bool    `json:"augmented_query,omitempty"`

	// Drafting fields.
	ContextChars     int     `json:"context_chars,omitempty"`
	CompressedChars  int     `json:"compressed_chars,omitempty"`
	CompressionRatio float64 `json:"compression_ratio,omitempty"`
	OverCompressed   bool    `json:"over_compressed,omitempty"`

	// Audit fields.
	Confidence       float64 `json:"confidence,omitempty"`
	InvalidCitations int     `json:"invalid_citations,omitempty"`
	UncitedSentences int     `json:"uncited_sentences,omitempty"`

	// Evaluation fields.
	OverallScore float64 `json:"overall_score,omitempty"`
}

// DecisionReason is the structured explanation attached to every routing
// decision after the first cycle.
type DecisionReason struct {
	Confidence     float64 `json:"confidence"`
	CitationIssue  bool    `json:"citation_issue"`
	Hallucination  bool    `json:"hallucination"`
	ConflictDriven bool    `json:"conflict_driven"`
	Detail         string  `json:"detail,omitempty"`
}

// DecisionLogEntry records one routing decision. The log is append-only and
// returned verbatim to the caller for audit purposes.
type DecisionLogEntry struct {
	Decision   PipelineState  `json:"decision"`
	Confidence float64        `json:"confidence"`
	RetryCount int            `json:"retry_count"`
	Reason     DecisionReason `json:"reason"`
}

// =============================================================================
// Pipeline Metrics
// =============================================================================

// PipelineMetrics accumulates per-request quality and cost signals. They are
// returned to the caller alongside the trace and mirrored into Prometheus by
// the observability layer.
type PipelineMetrics struct {
	NodeLatencyMS     map[string][]int64 `json:"node_latency_ms"`
	ConfidenceHistory []float64          `json:"confidence_history"`
	RetryReasons      []string           `json:"retry_reasons"`

	RetrievalScores   []float64 `json:"retrieval_scores"`
	AvgRetrievalScore float64   `json:"avg_retrieval_score"`

	OriginalContextChars   int     `json:"original_context_chars"`
	CompressedContextChars int     `json:"compressed_context_chars"`
	CompressionRatio       float64 `json:"compression_ratio"`
	OverCompressionFlag    bool    `json:"over_compression_flag"`
	CompressionLatencyMS   int64   `json:"compression_latency_ms"`

	CitationViolations int `json:"citation_violations"`
	CitationCount      int `json:"citation_count"`
	AnswerLength       int `json:"answer_length"`
}

// NewPipelineMetrics returns a metrics accumulator with initialized maps.
func NewPipelineMetrics() PipelineMetrics {
	return PipelineMetrics{
		NodeLatencyMS:     make(map[string][]int64),
		ConfidenceHistory: make([]float64, 0, 4),
		RetryReasons:      make([]string, 0, 2),
	}
}

// RecordLatency appends a stage latency sample.
func (m *PipelineMetrics) RecordLatency(node string, ms int64) {
	if m.NodeLatencyMS == nil {
		m.NodeLatencyMS = make(map[string][]int64)
	}
	m.NodeLatencyMS[node] = append(m.NodeLatencyMS[node], ms)
}

// =============================================================================
// Pipeline Record
// =============================================================================

// PipelineRecord is the single mutable record threaded through one synthesis
// request. The decision authority owns it for the request's lifetime; each
// stage receives it, updates its own output fields, and returns control.
// Records are never shared between concurrent requests.
//
// # Field Contracts
//
//   - UserQuery, TenantScope: immutable after creation. Every stage reads
//     these exact values, never a reformulated copy.
//   - Evidence: replaced wholesale by the retriever each cycle.
//   - DraftAnswer: replaced by the drafter each cycle. nil means the
//     pipeline has not completed a first cycle; the decision authority uses
//     this sentinel to distinguish first-run from post-cycle entry.
//   - FinalAnswer: the best draft so far, set by the auditor every cycle so
//     escalation paths always have a usable answer to surface.
//   - RequiresEscalation: once true, never unset within the request.
//   - AuditHistory, DecisionLog, EventTrace: append-only.
type PipelineRecord struct {
	RequestID   string `json:"request_id"`
	UserQuery   string `json:"user_query"`
	TenantScope string `json:"tenant_scope"`

	RetryCount   int `json:"retry_count"`
	RetryCeiling int `json:"retry_ceiling"`

	Evidence []EvidenceChunk `json:"evidence"`

	DraftAnswer *string `json:"draft_answer,omitempty"`
	FinalAnswer string  `json:"final_answer,omitempty"`

	Audit      *AuditResult      `json:"audit,omitempty"`
	Evaluation *EvaluationResult `json:"evaluation,omitempty"`

	// Confidence is the auditor's fused score and the primary routing
	// signal.
	Confidence float64 `json:"confidence"`

	RequiresEscalation bool   `json:"requires_escalation"`
	EscalationMessage  string `json:"escalation_message,omitempty"`

	AuditHistory []float64          `json:"audit_history"`
	DecisionLog  []DecisionLogEntry `json:"decision_log"`
	EventTrace   []TraceEntry       `json:"event_trace"`

	Metrics PipelineMetrics `json:"metrics"`

	// ForcedRetryNote carries the drafter's over-compression signal into
	// the audit-feedback channel ahead of the auditor's own judgment. Empty
	// when compression was healthy.
	ForcedRetryNote string `json:"-"`
}

// NewPipelineRecord creates the record for one synthesis request. A zero or
// negative retryCeiling falls back to DefaultRetryCeiling.
func NewPipelineRecord(requestID, userQuery, tenantScope string, retryCeiling int) *PipelineRecord {
	if retryCeiling < 1 {
		retryCeiling = DefaultRetryCeiling
	}
	return &PipelineRecord{
		RequestID:    requestID,
		UserQuery:    userQuery,
		TenantScope:  tenantScope,
		RetryCeiling: retryCeiling,
		AuditHistory: make([]float64, 0, retryCeiling+1),
		DecisionLog:  make([]DecisionLogEntry, 0, retryCeiling+1),
		EventTrace:   make([]TraceEntry, 0, 8),
		Metrics:      NewPipelineMetrics(),
	}
}

// EffectiveRetryCeiling returns the ceiling with the defensive default
// applied. Callers evaluating the retry predicate must use this accessor,
// never the raw field.
func (r *PipelineRecord) EffectiveRetryCeiling() int {
	if r.RetryCeiling < 1 {
		return DefaultRetryCeiling
	}
	return r.RetryCeiling
}

// Escalate sets the sticky escalation flag with a cause-specific message.
// The first message wins; later calls never override it.
func (r *PipelineRecord) Escalate(message string) {
	if r.RequiresEscalation {
		return
	}
	r.RequiresEscalation = true
	r.EscalationMessage = message
}

// AppendTrace appends one stage-execution entry and mirrors the latency into
// the metrics accumulator.
func (r *PipelineRecord) AppendTrace(entry TraceEntry) {
	r.EventTrace = append(r.EventTrace, entry)
	r.Metrics.RecordLatency(entry.Node, entry.DurationMS)
}

// EvidenceIDSet returns the set of valid citation targets for the current
// cycle.
func (r *PipelineRecord) EvidenceIDSet() map[string]struct{} {
	ids := make(map[string]struct{}, len(r.Evidence))
	for _, chunk := range r.Evidence {
		ids[chunk.ID] = struct{}{}
	}
	return ids
}
