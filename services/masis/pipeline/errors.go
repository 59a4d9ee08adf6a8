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
	"errors"
	"fmt"

	"github.com/Adnan-Haque/MASIS/services/llm"
)

// =============================================================================
// Failure Taxonomy
// =============================================================================

// Stage names a pipeline stage for error attribution and tracing.
type Stage string

const (
	StageRetrieve Stage = "retrieve"
	StageDraft    Stage = "draft"
	StageCompress Stage = "compress"
	StageAudit    Stage = "audit"
	StageEvaluate Stage = "evaluate"
	StageDecide   Stage = "decide"
)

// CollaboratorError is an operational failure of an external collaborator
// (search backend, embedding service, or an LLM backend). It is distinct
// from the quality-driven retry mechanism: the runner retries it
// transparently with backoff and, once exhausted, resolves it to a
// "temporarily unavailable" escalation instead of propagating an unhandled
// fault to the caller.
type CollaboratorError struct {
	// Stage is where the failure occurred.
	Stage Stage

	// Collaborator names the failing dependency ("search", "embedding",
	// "llm").
	Collaborator string

	// Cause is the underlying error.
	Cause error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s stage: %s collaborator failed: %v", e.Stage, e.Collaborator, e.Cause)
}

func (e *CollaboratorError) Unwrap() error { return e.Cause }

// Retryable reports whether one more transparent attempt is worthwhile.
// Malformed structured output is retryable (the judge may produce valid
// JSON on a second attempt); a cancelled context never is.
func (e *CollaboratorError) Retryable() bool {
	if errors.Is(e.Cause, context.Canceled) || errors.Is(e.Cause, context.DeadlineExceeded) {
		return false
	}
	if llm.IsMalformedOutput(e.Cause) {
		return true
	}
	if llm.IsRetryableBackendError(e.Cause) {
		return true
	}
	// Backend answered with a definite non-retryable status: respect it.
	var statusErr *llm.BackendStatusError
	return !errors.As(e.Cause, &statusErr)
}

// IsCollaboratorError reports whether err is an operational collaborator
// failure.
func IsCollaboratorError(err error) bool {
	var ce *CollaboratorError
	return errors.As(err, &ce)
}
