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
	"fmt"
	"strings"
	"sync"

	"github.com/Adnan-Haque/MASIS/services/llm"
	"github.com/Adnan-Haque/MASIS/services/masis/datatypes"
)

// fakeSearcher scripts the search collaborator. Responses are consumed in
// order; the last one repeats. A positive failCount makes that many leading
// calls fail with failErr.
type fakeSearcher struct {
	mu         sync.Mutex
	results    [][]datatypes.EvidenceChunk
	queries    []string
	workspaces []string
	limits     []int
	failCount  int
	failErr    error
}

func (f *fakeSearcher) Search(_ context.Context, workspaceID, query string, limit int) ([]datatypes.EvidenceChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.workspaces = append(f.workspaces, workspaceID)
	f.limits = append(f.limits, limit)
	if f.failCount > 0 {
		f.failCount--
		return nil, f.failErr
	}
	if len(f.results) == 0 {
		return nil, nil
	}
	out := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return out, nil
}

// fakeLLM scripts one model role. Replies are consumed in order; the last
// one repeats. A positive failCount makes that many leading calls fail
// with failErr.
type fakeLLM struct {
	mu        sync.Mutex
	replies   []string
	prompts   []string
	failCount int
	failErr   error
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.failCount > 0 {
		f.failCount--
		return "", f.failErr
	}
	if len(f.replies) == 0 {
		return "", fmt.Errorf("fakeLLM: no scripted reply")
	}
	out := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return out, nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

// chunk builds an evidence chunk with boilerplate text.
func chunk(id string, similarity float64) datatypes.EvidenceChunk {
	return datatypes.EvidenceChunk{
		ID:               id,
		Text:             "Passage " + id + " states a verifiable fact.",
		Similarity:       similarity,
		SourceDocumentID: "doc-1",
		FileName:         "notes.md",
	}
}

// auditReply builds a minimal well-formed audit judgment.
func auditReply(confidence float64, hallucination, needsRetry bool) string {
	return fmt.Sprintf(
		`{"confidence": %g, "hallucination_detected": %t, "unsupported_claims": [], "logical_gaps": [], "conflicting_claims": [], "needs_retry": %t}`,
		confidence, hallucination, needsRetry)
}

// auditReplyConflicts builds an audit judgment reporting conflicting
// claims.
func auditReplyConflicts(confidence float64, conflicts ...string) string {
	quoted := make([]string, len(conflicts))
	for i, c := range conflicts {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return fmt.Sprintf(
		`{"confidence": %g, "hallucination_detected": false, "unsupported_claims": [], "logical_gaps": [], "conflicting_claims": [%s], "needs_retry": false}`,
		confidence, strings.Join(quoted, ", "))
}

// evalReply builds a well-formed evaluation judgment.
func evalReply(faithfulness, relevance, completeness, reasoning float64) string {
	return fmt.Sprintf(
		`{"faithfulness": %g, "relevance": %g, "completeness": %g, "reasoning_quality": %g, "suggestions": []}`,
		faithfulness, relevance, completeness, reasoning)
}

// newTestRecord builds a fresh record the way the API layer does.
func newTestRecord(query string) *datatypes.PipelineRecord {
	return datatypes.NewPipelineRecord("req-test", query, "ws-test", datatypes.DefaultRetryCeiling)
}

// recordingObserver captures observer callbacks for assertions.
type recordingObserver struct {
	mu        sync.Mutex
	traces    []datatypes.TraceEntry
	decisions []datatypes.DecisionLogEntry
	completed []string
}

func (r *recordingObserver) OnTrace(_ string, entry datatypes.TraceEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traces = append(r.traces, entry)
}

func (r *recordingObserver) OnDecision(_ string, entry datatypes.DecisionLogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, entry)
}

func (r *recordingObserver) OnComplete(requestID string, _ *datatypes.PipelineRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, requestID)
}
