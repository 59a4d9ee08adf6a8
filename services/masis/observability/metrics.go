// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the synthesis
// pipeline and the ingestion workers. Metrics include:
//   - Synthesis counters (by outcome, retry reason, escalation cause)
//   - Quality histograms (final confidence, judge score, cycles per request)
//   - Stage latency histograms
//   - Ingestion counters and durations
//
// It also provides observer adapters that mirror pipeline progress into
// Prometheus and InfluxDB without the pipeline importing either.
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "masis"

// Subsystem for synthesis pipeline metrics
const pipelineSubsystem = "pipeline"

// Subsystem for document ingestion metrics
const ingestSubsystem = "ingest"

// ServiceMetrics holds all Prometheus metrics for the synthesis pipeline
// and document ingestion.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring answer quality
// and pipeline throughput. Initialize once at startup via InitMetrics().
//
// # Fields
//
//   - SynthesesTotal: Counter of completed synthesis requests by outcome
//   - RetriesTotal: Counter of retry cycles by triggering reason
//   - EscalationsTotal: Counter of escalations by cause
//   - FinalConfidence: Histogram of fused confidence at terminal state
//   - AnswerScore: Histogram of the judge's overall score for final answers
//   - CyclesPerRequest: Histogram of pipeline cycles consumed per request
//   - StageDurationSeconds: Histogram of per-stage latency
//   - ActiveSyntheses: Gauge of currently running pipeline requests
//   - DocumentsIngestedTotal: Counter of ingested documents by final status
//   - ChunksIndexedTotal: Counter of chunks written to the vector index
//   - IngestDurationSeconds: Histogram of end-to-end ingestion duration
//
// # Thread Safety
//
// All operations are thread-safe.
type ServiceMetrics struct {
	// SynthesesTotal counts completed synthesis requests.
	// Labels: outcome (finalized, escalated)
	SynthesesTotal *prometheus.CounterVec

	// RetriesTotal counts retry cycles by the reason that triggered them.
	// Labels: reason (conflict, citation_issue, hallucination, low_confidence, audit_retry)
	RetriesTotal *prometheus.CounterVec

	// EscalationsTotal counts escalations by cause.
	// Labels: cause (conflict, quality, operational)
	EscalationsTotal *prometheus.CounterVec

	// FinalConfidence measures the fused confidence of terminal answers.
	FinalConfidence prometheus.Histogram

	// AnswerScore measures the judge's overall score of final answers.
	AnswerScore prometheus.Histogram

	// CyclesPerRequest measures how many pipeline cycles a request consumed.
	CyclesPerRequest prometheus.Histogram

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (retrieve, draft, audit, evaluate)
	StageDurationSeconds *prometheus.HistogramVec

	// ActiveSyntheses tracks currently running pipeline requests.
	ActiveSyntheses prometheus.Gauge

	// DocumentsIngestedTotal counts ingested documents by final status.
	// Labels: status (ready, failed)
	DocumentsIngestedTotal *prometheus.CounterVec

	// ChunksIndexedTotal counts chunks written to the vector index.
	ChunksIndexedTotal prometheus.Counter

	// IngestDurationSeconds measures end-to-end ingestion duration.
	IngestDurationSeconds prometheus.Histogram
}

// DefaultMetrics is the singleton instance of ServiceMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *ServiceMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup, after Prometheus registry is available.
//
// # Outputs
//
//   - *ServiceMetrics: The initialized metrics instance.
//
// # Examples
//
//	func main() {
//	    observability.InitMetrics()
//	    // ... start server ...
//	}
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
//
// # Assumptions
//
//   - Prometheus default registry is available.
func InitMetrics() *ServiceMetrics {
	DefaultMetrics = &ServiceMetrics{
		SynthesesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "syntheses_total",
				Help:      "Total completed synthesis requests by outcome",
			},
			[]string{"outcome"},
		),

		RetriesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "retries_total",
				Help:      "Total retry cycles by triggering reason",
			},
			[]string{"reason"},
		),

		EscalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "escalations_total",
				Help:      "Total escalations to human review by cause",
			},
			[]string{"cause"},
		),

		FinalConfidence: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "final_confidence",
				Help:      "Fused confidence of answers at terminal state",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		AnswerScore: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "answer_score",
				Help:      "Judge overall score of final answers",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
		),

		CyclesPerRequest: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "cycles_per_request",
				Help:      "Pipeline cycles consumed per synthesis request",
				Buckets:   []float64{1, 2, 3, 4, 5},
			},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Per-stage latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		ActiveSyntheses: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_syntheses",
				Help:      "Number of currently running synthesis requests",
			},
		),

		DocumentsIngestedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "documents_total",
				Help:      "Total ingested documents by final status",
			},
			[]string{"status"},
		),

		ChunksIndexedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "chunks_indexed_total",
				Help:      "Total chunks written to the vector index",
			},
		),

		IngestDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: ingestSubsystem,
				Name:      "duration_seconds",
				Help:      "End-to-end document ingestion duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Outcomes
// =============================================================================

// Outcome represents the terminal state of a synthesis request for
// metrics labeling.
type Outcome string

const (
	// OutcomeFinalized indicates the answer passed the quality gate.
	OutcomeFinalized Outcome = "finalized"

	// OutcomeEscalated indicates the request was handed to human review.
	OutcomeEscalated Outcome = "escalated"
)

// =============================================================================
// Escalation Causes
// =============================================================================

// EscalationCause represents a categorized escalation cause for metrics.
type EscalationCause string

const (
	// EscalationCauseConflict indicates contradictory evidence persisted
	// to the retry ceiling.
	EscalationCauseConflict EscalationCause = "conflict"

	// EscalationCauseQuality indicates a quality issue (low confidence,
	// citation problems, ungrounded claims) persisted to the retry ceiling.
	EscalationCauseQuality EscalationCause = "quality"

	// EscalationCauseOperational indicates an infrastructure failure or
	// empty evidence pool rather than a quality verdict.
	EscalationCauseOperational EscalationCause = "operational"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordSynthesis records a completed synthesis request.
//
// # Inputs
//
//   - outcome: The terminal state of the request.
//   - confidence: The fused confidence of the final answer.
//   - cycles: Number of pipeline cycles the request consumed.
func (m *ServiceMetrics) RecordSynthesis(outcome Outcome, confidence float64, cycles int) {
	m.SynthesesTotal.WithLabelValues(string(outcome)).Inc()
	m.FinalConfidence.Observe(confidence)
	m.CyclesPerRequest.Observe(float64(cycles))
}

// RecordAnswerScore records the judge's overall score for a final answer.
//
// # Inputs
//
//   - score: Weighted overall score in [0,1].
func (m *ServiceMetrics) RecordAnswerScore(score float64) {
	m.AnswerScore.Observe(score)
}

// RecordRetry records a retry cycle.
//
// # Inputs
//
//   - reason: The reason tag that triggered the retry.
func (m *ServiceMetrics) RecordRetry(reason string) {
	m.RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordEscalation records an escalation to human review.
//
// # Inputs
//
//   - cause: The categorized escalation cause.
func (m *ServiceMetrics) RecordEscalation(cause EscalationCause) {
	m.EscalationsTotal.WithLabelValues(string(cause)).Inc()
}

// RecordStageDuration records the latency of a single pipeline stage.
//
// # Inputs
//
//   - stage: The stage name (retrieve, draft, audit, evaluate).
//   - seconds: Stage duration in seconds.
func (m *ServiceMetrics) RecordStageDuration(stage string, seconds float64) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// SynthesisStarted increments the active syntheses gauge.
func (m *ServiceMetrics) SynthesisStarted() {
	m.ActiveSyntheses.Inc()
}

// SynthesisEnded decrements the active syntheses gauge.
func (m *ServiceMetrics) SynthesisEnded() {
	m.ActiveSyntheses.Dec()
}

// RecordIngest records a completed document ingestion.
//
// # Inputs
//
//   - success: Whether the document reached READY.
//   - chunks: Number of chunks written to the vector index.
//   - seconds: End-to-end ingestion duration in seconds.
func (m *ServiceMetrics) RecordIngest(success bool, chunks int, seconds float64) {
	status := "ready"
	if !success {
		status = "failed"
	}
	m.DocumentsIngestedTotal.WithLabelValues(status).Inc()
	if chunks > 0 {
		m.ChunksIndexedTotal.Add(float64(chunks))
	}
	m.IngestDurationSeconds.Observe(seconds)
}
