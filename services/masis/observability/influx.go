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
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// Measurement name for per-request quality points.
const qualityMeasurement = "synthesis_quality"

// Timeout for a single InfluxDB write.
const influxWriteTimeout = 5 * time.Second

// Pending points buffered before the sink starts dropping.
const qualitySinkQueueSize = 256

// QualitySink writes one InfluxDB point per completed synthesis request,
// carrying the quality signals that are too high-cardinality for
// Prometheus: per-request confidence, judge score, per-stage latency, and
// citation counts, tagged by workspace and outcome.
//
// # Description
//
// The sink satisfies the pipeline's trace-observer contract. OnComplete
// enqueues a point and returns immediately; a single background writer
// drains the queue so a slow or unreachable InfluxDB never stalls the
// pipeline. Points are dropped with a warning when the queue is full.
//
// # Lifecycle
//
// Create with NewQualitySink, attach to the pipeline runner, and call
// Close on shutdown to flush pending points.
type QualitySink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	points   chan *write.Point
	done     chan struct{}
}

// NewQualitySink connects to InfluxDB and starts the background writer.
func NewQualitySink(url, token, org, bucket string) *QualitySink {
	client := influxdb2.NewClient(url, token)
	s := newQualitySink(client.WriteAPIBlocking(org, bucket))
	s.client = client
	return s
}

// newQualitySink wires the sink around an existing write API.
func newQualitySink(writeAPI api.WriteAPIBlocking) *QualitySink {
	s := &QualitySink{
		writeAPI: writeAPI,
		points:   make(chan *write.Point, qualitySinkQueueSize),
		done:     make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// OnTrace is a no-op; per-stage latency reaches InfluxDB as fields on the
// completion point.
func (s *QualitySink) OnTrace(requestID string, entry datatypes.TraceEntry) {}

// OnDecision is a no-op.
func (s *QualitySink) OnDecision(requestID string, entry datatypes.DecisionLogEntry) {}

// OnComplete enqueues the quality point for the finished request. Never
// blocks; the point is dropped if the writer has fallen behind.
func (s *QualitySink) OnComplete(requestID string, rec *datatypes.PipelineRecord) {
	select {
	case s.points <- qualityPoint(rec):
	default:
		slog.Warn("quality sink queue full, dropping point", "request_id", requestID)
	}
}

// Close stops accepting points, drains the queue, and closes the client.
// The sink must not be used after Close.
func (s *QualitySink) Close() {
	close(s.points)
	<-s.done
	if s.client != nil {
		s.client.Close()
	}
}

func (s *QualitySink) writeLoop() {
	defer close(s.done)
	for point := range s.points {
		ctx, cancel := context.WithTimeout(context.Background(), influxWriteTimeout)
		err := s.writeAPI.WritePoint(ctx, point)
		cancel()
		if err != nil {
			slog.Warn("failed to write quality point", "error", err)
		}
	}
}

// qualityPoint flattens a terminal record into a single measurement point.
func qualityPoint(rec *datatypes.PipelineRecord) *write.Point {
	outcome := string(OutcomeFinalized)
	if rec.RequiresEscalation {
		outcome = string(OutcomeEscalated)
	}

	fields := map[string]interface{}{
		"request_id":          rec.RequestID,
		"confidence":          rec.Confidence,
		"retry_count":         rec.RetryCount,
		"citation_count":      rec.Metrics.CitationCount,
		"citation_violations": rec.Metrics.CitationViolations,
		"answer_length":       rec.Metrics.AnswerLength,
		"avg_retrieval_score": rec.Metrics.AvgRetrievalScore,
		"compression_ratio":   rec.Metrics.CompressionRatio,
	}
	if rec.Evaluation != nil {
		fields["overall_score"] = rec.Evaluation.OverallScore
	}
	for node, samples := range rec.Metrics.NodeLatencyMS {
		var total int64
		for _, ms := range samples {
			total += ms
		}
		fields[node+"_ms"] = total
	}

	return influxdb2.NewPoint(qualityMeasurement,
		map[string]string{
			"workspace_id": rec.TenantScope,
			"outcome":      outcome,
		},
		fields,
		time.Now(),
	)
}
