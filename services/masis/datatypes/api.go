// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides the shared data structures of the MASIS
// service: the pipeline record and its signal types, the HTTP API request
// and response types, workspace and document models, and the Weaviate
// schema and query types.
//
// This file contains the request and response types for the synthesis and
// workspace endpoints.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/Adnan-Haque/MASIS/pkg/validation"
)

// =============================================================================
// Request Limits
// =============================================================================

const (
	// MaxQueryBytes is the maximum size of a synthesis query. Checked in
	// bytes, not runes, to bound memory regardless of encoding.
	MaxQueryBytes = 8 * 1024

	// MaxRetryCeiling is the largest per-request refinement budget a
	// caller may ask for.
	MaxRetryCeiling = 5
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator instance for API datatypes. Initialized in
// init() with custom validators.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("maxquerybytes", validateMaxQueryBytes)
	_ = apiValidate.RegisterValidation("workspacename", validateWorkspaceName)
}

// validateMaxQueryBytes enforces the query size limit in bytes.
func validateMaxQueryBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxQueryBytes
}

// validateWorkspaceName defers to the shared slug validator.
func validateWorkspaceName(fl validator.FieldLevel) bool {
	return validation.IsValidWorkspaceName(fl.Field().String())
}

// =============================================================================
// Synthesis Request
// =============================================================================

// SynthesisRequest is the body of POST /v1/synthesis.
//
// # Fields
//
//   - Query: Required. The user's question, at most 8 KB.
//   - WorkspaceID: Required. The tenant scope; every retrieval is
//     restricted to this workspace.
//   - RetryCeiling: Optional. Per-request refinement budget (0-5). Zero
//     means use the server default.
type SynthesisRequest struct {
	Query        string `json:"query" validate:"required,maxquerybytes"`
	WorkspaceID  string `json:"workspace_id" validate:"required,uuid4"`
	RetryCeiling int    `json:"retry_ceiling" validate:"gte=0,lte=5"`
}

// Validate validates the request after JSON binding.
func (r *SynthesisRequest) Validate() error {
	return apiValidate.Struct(r)
}

// =============================================================================
// Synthesis Response
// =============================================================================

// Synthesis response statuses.
const (
	StatusSuccess            = "success"
	StatusNeedsClarification = "needs_clarification"
)

// SynthesisResponse is the terminal result of one synthesis request.
//
// # Description
//
// On success the answer carries the finalized draft. On escalation the
// status flips to needs_clarification, ClarificationQuestion carries the
// cause-specific guidance, and Critique carries the last audit so the
// caller can see exactly what kept the answer from finalizing. Answer is
// still the best draft in that case; it is empty only when retrieval
// escalated before any drafting cycle ran.
type SynthesisResponse struct {
	RequestID  string  `json:"request_id"`
	Status     string  `json:"status"`
	Answer     string  `json:"answer"`
	Confidence float64 `json:"confidence"`

	ClarificationQuestion string       `json:"clarification_question,omitempty"`
	Critique              *AuditResult `json:"critique,omitempty"`

	Evaluation *EvaluationResult `json:"evaluation,omitempty"`

	RetryCount   int                `json:"retry_count"`
	AuditHistory []float64          `json:"audit_history"`
	DecisionLog  []DecisionLogEntry `json:"decision_log"`
	Trace        []TraceEntry       `json:"trace"`
	Metrics      PipelineMetrics    `json:"metrics"`
}

// NewSynthesisResponse flattens a terminal pipeline record into the wire
// response.
func NewSynthesisResponse(rec *PipelineRecord) SynthesisResponse {
	resp := SynthesisResponse{
		RequestID:    rec.RequestID,
		Status:       StatusSuccess,
		Answer:       rec.FinalAnswer,
		Confidence:   rec.Confidence,
		Evaluation:   rec.Evaluation,
		RetryCount:   rec.RetryCount,
		AuditHistory: rec.AuditHistory,
		DecisionLog:  rec.DecisionLog,
		Trace:        rec.EventTrace,
		Metrics:      rec.Metrics,
	}
	if rec.RequiresEscalation {
		resp.Status = StatusNeedsClarification
		resp.ClarificationQuestion = rec.EscalationMessage
		resp.Critique = rec.Audit
	}
	return resp
}

// =============================================================================
// Workspace Requests / Responses
// =============================================================================

// CreateWorkspaceRequest is the body of POST /v1/workspaces.
type CreateWorkspaceRequest struct {
	Name string `json:"name" validate:"required,workspacename"`
}

// Validate validates the request after JSON binding.
func (r *CreateWorkspaceRequest) Validate() error {
	return apiValidate.Struct(r)
}

// WorkspaceResponse is one workspace on the wire.
type WorkspaceResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	DocumentCount int       `json:"document_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewWorkspaceResponse builds the wire form of a workspace.
func NewWorkspaceResponse(ws *Workspace, documentCount int) WorkspaceResponse {
	return WorkspaceResponse{
		ID:            ws.ID,
		Name:          ws.Name,
		DocumentCount: documentCount,
		CreatedAt:     ws.CreatedAt,
	}
}

// =============================================================================
// Document Responses
// =============================================================================

// DocumentResponse is one document on the wire, including ingestion
// progress.
type DocumentResponse struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	FileName    string         `json:"file_name"`
	SizeBytes   int64          `json:"size_bytes"`
	ContentHash string         `json:"content_hash"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`

	ChunksTotal     int `json:"chunks_total"`
	ChunksProcessed int `json:"chunks_processed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewDocumentResponse builds the wire form of a document.
func NewDocumentResponse(doc *Document) DocumentResponse {
	return DocumentResponse{
		ID:              doc.ID,
		WorkspaceID:     doc.WorkspaceID,
		FileName:        doc.FileName,
		SizeBytes:       doc.SizeBytes,
		ContentHash:     doc.ContentHash,
		Status:          doc.Status,
		Error:           doc.Error,
		ChunksTotal:     doc.ChunksTotal,
		ChunksProcessed: doc.ChunksProcessed,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}
}

// =============================================================================
// Models Response
// =============================================================================

// ModelRole describes one configured model role and its tier.
type ModelRole struct {
	Role  string `json:"role"`
	Model string `json:"model"`
	Tier  int    `json:"tier"`
}

// ModelsResponse reports the drafting/judging configuration so operators
// can verify the tier asymmetry without reading server config.
type ModelsResponse struct {
	Backend string      `json:"backend"`
	Roles   []ModelRole `json:"roles"`
}

// =============================================================================
// Error Response
// =============================================================================

// ErrorResponse is the uniform error body for all endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
}

// generateUUID returns a new v4 UUID string.
func generateUUID() string {
	return uuid.NewString()
}
