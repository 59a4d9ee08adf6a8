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
	"time"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// Dimension weights for the recomputed overall score.
const (
	weightFaithfulness = 0.35
	weightRelevance    = 0.25
	weightCompleteness = 0.25
	weightReasoning    = 0.15
)

// Faithfulness floors keyed to the structural audit findings. The tightest
// applicable floor wins.
const (
	floorOnHallucination = 0.4
	floorOnUncitedFive   = 0.5
	floorOnUncitedTen    = 0.3
)

// Evaluator scores the audited draft along four independent dimensions.
// It is pure measurement: nothing it produces affects routing.
//
// A judge can be talked into a high faithfulness score by a fluent draft;
// the deterministic audit findings cannot. The hard floors below keep the
// reported evaluation honest when the two disagree.
type Evaluator struct {
	judge llm.LLMClient
}

// NewEvaluator creates the evaluation stage. judge must be on a stronger
// tier than the drafting model, same as the audit judge.
func NewEvaluator(judge llm.LLMClient) *Evaluator {
	return &Evaluator{judge: judge}
}

// Run scores the current draft and stores the result on the record.
func (e *Evaluator) Run(ctx context.Context, rec *datatypes.PipelineRecord) error {
	ctx, span := tracer.Start(ctx, "Evaluate")
	defer span.End()
	start := time.Now()

	draft := ""
	if rec.DraftAnswer != nil {
		draft = *rec.DraftAnswer
	}
	var summary datatypes.StructuralAuditSummary
	if rec.Audit != nil {
		summary = datatypes.StructuralAuditSummary{
			HallucinationDetected: rec.Audit.HallucinationDetected,
			InvalidCitationIDs:    rec.Audit.InvalidCitationIDs,
			UncitedSentenceCount:  rec.Audit.UncitedSentenceCount,
		}
	}

	judgment, err := llm.GenerateStruct[evalJudgment](
		ctx, e.judge, buildEvalPrompt(rec.UserQuery, draft, rec.Evidence),
		llm.DeterministicParams(1024), evalRequiredFields...)
	if err != nil {
		return &CollaboratorError{Stage: StageEvaluate, Collaborator: "llm", Cause: err}
	}

	result := scoreEvaluation(judgment, summary)
	rec.Evaluation = &result

	rec.AppendTrace(datatypes.TraceEntry{
		Node:         string(StageEvaluate),
		RetryCount:   rec.RetryCount,
		DurationMS:   time.Since(start).Milliseconds(),
		OverallScore: result.OverallScore,
	})

	slog.Info("Evaluation complete",
		"requestID", rec.RequestID,
		"retryCount", rec.RetryCount,
		"faithfulness", result.Faithfulness,
		"relevance", result.Relevance,
		"completeness", result.Completeness,
		"reasoningQuality", result.ReasoningQuality,
		"overall", result.OverallScore)
	return nil
}

// scoreEvaluation normalizes the judge's dimensions, applies the
// audit-derived faithfulness floors, and recomputes the overall score.
// The overall score is never taken from the judge.
func scoreEvaluation(judgment *evalJudgment, summary datatypes.StructuralAuditSummary) datatypes.EvaluationResult {
	result := datatypes.EvaluationResult{
		Faithfulness:     normalizeScore(judgment.Faithfulness),
		Relevance:        normalizeScore(judgment.Relevance),
		Completeness:     normalizeScore(judgment.Completeness),
		ReasoningQuality: normalizeScore(judgment.ReasoningQuality),
		Suggestions:      judgment.Suggestions,
	}

	if summary.HallucinationDetected || summary.HasCitationIssue() {
		result.Faithfulness = capAt(result.Faithfulness, floorOnHallucination)
	}
	if summary.UncitedSentenceCount >= 5 {
		result.Faithfulness = capAt(result.Faithfulness, floorOnUncitedFive)
	}
	if summary.UncitedSentenceCount >= 10 {
		result.Faithfulness = capAt(result.Faithfulness, floorOnUncitedTen)
	}

	result.OverallScore = weightFaithfulness*result.Faithfulness +
		weightRelevance*result.Relevance +
		weightCompleteness*result.Completeness +
		weightReasoning*result.ReasoningQuality
	return result
}

// normalizeScore maps a judge-reported dimension into [0,1]. Values above
// 1 are assumed to be percentages.
func normalizeScore(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return clamp01(v)
}

// capAt bounds v from above. When multiple caps apply, repeated
// application leaves the tightest one standing.
func capAt(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	return v
}
