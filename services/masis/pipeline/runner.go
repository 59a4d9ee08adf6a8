// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the self-correcting synthesis cycle:
// retrieve evidence, draft a cited answer, audit it for hallucination and
// citation validity, score it, and decide whether to retry with broadened
// retrieval, finalize, or escalate to a human. Routing authority is
// centralized in DecisionPolicy; the stages are pure transformations over
// one pipeline record.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

var tracer = otel.Tracer("masis.pipeline")

// Collaborator-failure retry constants. These cover operational failures
// (backend unreachable, transient 5xx, malformed judge output) and are
// unrelated to the quality-driven retry loop.
const (
	// maxCollaboratorRetries is the maximum number of transparent retry
	// attempts per stage. Retries use exponential backoff.
	maxCollaboratorRetries = 3

	// initialCollaboratorDelay is the delay before the first retry.
	// Subsequent retries double this delay (1s, 2s, 4s).
	initialCollaboratorDelay = 1 * time.Second
)

// escalationCollaboratorFailure is shown when a backend stayed down
// through every transparent retry. Operational failures resolve to an
// escalation, never to an unhandled fault at the caller.
const escalationCollaboratorFailure = "A required backend service is temporarily unavailable. " +
	"Please try again in a few moments."

// TraceObserver receives pipeline progress as it happens. Implementations
// must be safe for concurrent use across requests and must not block;
// the websocket event stream and the Prometheus mirror both hang off this
// interface.
type TraceObserver interface {
	// OnTrace is called once per appended stage-trace entry.
	OnTrace(requestID string, entry datatypes.TraceEntry)

	// OnDecision is called once per appended decision-log entry.
	OnDecision(requestID string, entry datatypes.DecisionLogEntry)

	// OnComplete is called exactly once when the request reaches a
	// terminal state.
	OnComplete(requestID string, rec *datatypes.PipelineRecord)
}

// noopObserver keeps the hot path nil-check free.
type noopObserver struct{}

func (noopObserver) OnTrace(string, datatypes.TraceEntry)          {}
func (noopObserver) OnDecision(string, datatypes.DecisionLogEntry) {}
func (noopObserver) OnComplete(string, *datatypes.PipelineRecord)  {}

// Config collects the tunables of one pipeline instance.
type Config struct {
	Retrieval        RetrievalConfig
	Draft            DraftConfig
	QualityThreshold float64
}

// DefaultConfig returns the tuned defaults for every stage.
func DefaultConfig() Config {
	return Config{
		Retrieval:        DefaultRetrievalConfig(),
		Draft:            DefaultDraftConfig(),
		QualityThreshold: DefaultQualityThreshold,
	}
}

// Pipeline wires the four stages under one decision policy and drives
// whole requests to termination. One Pipeline serves all requests
// concurrently; per-request state lives entirely on the record.
type Pipeline struct {
	retriever *Retriever
	drafter   *Drafter
	auditor   *Auditor
	evaluator *Evaluator
	policy    DecisionPolicy
	observer  TraceObserver

	// Collaborator retry knobs, settable in tests.
	maxRetries int
	baseDelay  time.Duration
}

// New assembles a pipeline.
//
// # Inputs
//
//   - searcher: The workspace-scoped similarity search collaborator.
//   - generator: The drafting-tier model.
//   - compressor: The model used for deterministic tail compression; may
//     equal generator.
//   - auditJudge, evalJudge: Judgment models; both must be configured on a
//     strictly stronger tier than generator (validated at startup by the
//     model tier table).
//   - cfg: Stage tunables; zero values fall back to defaults.
//   - observer: Progress sink; nil disables observation.
func New(searcher EvidenceSearcher, generator, compressor, auditJudge, evalJudge llm.LLMClient,
	cfg Config, observer TraceObserver) *Pipeline {

	if cfg.Retrieval == (RetrievalConfig{}) {
		cfg.Retrieval = DefaultRetrievalConfig()
	}
	if cfg.Draft == (DraftConfig{}) {
		cfg.Draft = DefaultDraftConfig()
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Pipeline{
		retriever:  NewRetriever(searcher, cfg.Retrieval),
		drafter:    NewDrafter(generator, compressor, cfg.Draft),
		auditor:    NewAuditor(auditJudge),
		evaluator:  NewEvaluator(evalJudge),
		policy:     NewDecisionPolicy(cfg.QualityThreshold),
		observer:   observer,
		maxRetries: maxCollaboratorRetries,
		baseDelay:  initialCollaboratorDelay,
	}
}

// Run drives one request to a terminal state.
//
// # Description
//
// The cycle is strictly sequential: Retrieve, Draft, Audit, Evaluate, then
// one routing decision. The retriever's zero-coverage escalation
// short-circuits the rest of the cycle so no generation call is wasted on
// empty evidence. Collaborator failures are retried transparently with
// backoff; once exhausted they resolve to a "temporarily unavailable"
// escalation rather than an error, so callers always receive a usable
// record.
//
// # Outputs
//
//   - *datatypes.PipelineRecord: The same record, in a terminal state.
//   - error: Non-nil only when the caller's context was canceled; every
//     other failure is expressed on the record.
func (p *Pipeline) Run(ctx context.Context, rec *datatypes.PipelineRecord) (*datatypes.PipelineRecord, error) {
	ctx, span := tracer.Start(ctx, "SynthesisRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", rec.RequestID),
		attribute.String("workspace_id", rec.TenantScope),
		attribute.Int("retry_ceiling", rec.EffectiveRetryCeiling()),
	)

	decisionsEmitted := 0
	emitDecisions := func() {
		for ; decisionsEmitted < len(rec.DecisionLog); decisionsEmitted++ {
			p.observer.OnDecision(rec.RequestID, rec.DecisionLog[decisionsEmitted])
		}
	}

	state := p.policy.Decide(rec)
	emitDecisions()

	for state == datatypes.StateFirstRun || state == datatypes.StateRetry {
		if err := p.runCycle(ctx, rec); err != nil {
			if errors.Is(err, context.Canceled) {
				span.RecordError(err)
				span.SetStatus(codes.Error, "request canceled")
				return rec, err
			}
			slog.Error("Collaborator failed after all retries, escalating",
				"requestID", rec.RequestID,
				"error", err)
			span.RecordError(err)
			rec.Escalate(escalationCollaboratorFailure)
		}
		state = p.policy.Decide(rec)
		emitDecisions()
	}

	span.SetAttributes(
		attribute.String("terminal_state", string(state)),
		attribute.Float64("confidence", rec.Confidence),
		attribute.Int("retry_count", rec.RetryCount),
	)
	slog.Info("Synthesis complete",
		"requestID", rec.RequestID,
		"state", state,
		"confidence", rec.Confidence,
		"retries", rec.RetryCount,
		"escalated", rec.RequiresEscalation)

	p.observer.OnComplete(rec.RequestID, rec)
	return rec, nil
}

// runCycle executes one full stage sequence. The retriever's escalation
// flag cuts the cycle short before any model call.
func (p *Pipeline) runCycle(ctx context.Context, rec *datatypes.PipelineRecord) error {
	if err := p.runStage(ctx, rec, StageRetrieve, p.retriever.Run); err != nil {
		return err
	}
	if rec.RequiresEscalation {
		return nil
	}
	if err := p.runStage(ctx, rec, StageDraft, p.drafter.Run); err != nil {
		return err
	}
	if err := p.runStage(ctx, rec, StageAudit, p.auditor.Run); err != nil {
		return err
	}
	return p.runStage(ctx, rec, StageEvaluate, p.evaluator.Run)
}

// runStage invokes one stage with transparent collaborator retries, then
// streams any trace entries the stage appended.
func (p *Pipeline) runStage(ctx context.Context, rec *datatypes.PipelineRecord, stage Stage,
	fn func(context.Context, *datatypes.PipelineRecord) error) error {

	before := len(rec.EventTrace)

	var lastErr error
	retryDelay := p.baseDelay
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("Retrying stage after collaborator failure",
				"requestID", rec.RequestID,
				"stage", stage,
				"attempt", attempt,
				"delay", retryDelay,
				"lastError", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
		}

		lastErr = fn(ctx, rec)
		if lastErr == nil {
			for _, entry := range rec.EventTrace[before:] {
				p.observer.OnTrace(rec.RequestID, entry)
			}
			return nil
		}

		var collabErr *CollaboratorError
		if !errors.As(lastErr, &collabErr) || !collabErr.Retryable() {
			return lastErr
		}
	}
	return lastErr
}
