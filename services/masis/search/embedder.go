// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search wraps the two retrieval collaborators: the HTTP embedding
// service that turns text into vectors, and the Weaviate vector store that
// holds the evidence corpus. Workspace isolation is enforced here, at the
// collaborator boundary, so no caller bug can widen a query across tenants.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("masis.search")

// EmbeddingProvider computes vectors for query and chunk text.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// maxEmbedChars caps the text sent per embedding call. Longer inputs are
// truncated rather than rejected; the tail of an over-long query carries
// little retrieval signal.
const maxEmbedChars = 8192

type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Id        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

type batchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbeddingResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// HTTPEmbedder talks to the embedding sidecar over HTTP. It is safe for
// concurrent use.
//
// # Endpoints
//
//   - POST {base}/embed        single text -> vector
//   - POST {base}/batch_embed  texts -> vectors, used by ingestion
type HTTPEmbedder struct {
	embedURL string
	batchURL string

	// client serves single-query embeds; batchClient carries a longer
	// timeout because ingestion batches can take minutes on CPU-only
	// deployments.
	client      *http.Client
	batchClient *http.Client
}

// NewHTTPEmbedder creates an embedder against the service at baseURL.
// baseURL may point at the service root or directly at the /embed endpoint;
// both forms are accepted because deployments have historically configured
// either.
func NewHTTPEmbedder(baseURL string) *HTTPEmbedder {
	base := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed")
	return &HTTPEmbedder{
		embedURL:    base + "/embed",
		batchURL:    base + "/batch_embed",
		client:      &http.Client{Timeout: 30 * time.Second},
		batchClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Embed returns the vector for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "Embed")
	defer span.End()

	if len(text) > maxEmbedChars {
		text = text[:maxEmbedChars]
	}

	body, err := json.Marshal(embeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.embedURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceStatusError{
			Service:    "embedding",
			StatusCode: resp.StatusCode,
			Body:       string(respBytes),
		}
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Vector) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return parsed.Vector, nil
}

// EmbedBatch returns one vector per input text, in order. The service must
// return exactly len(texts) vectors; a shorter response is an error rather
// than a silent truncation, because the caller pairs vectors with chunks by
// index.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "EmbedBatch")
	defer span.End()

	if len(texts) == 0 {
		return nil, nil
	}

	clipped := make([]string, len(texts))
	for i, t := range texts {
		if len(t) > maxEmbedChars {
			t = t[:maxEmbedChars]
		}
		clipped[i] = t
	}

	body, err := json.Marshal(batchEmbeddingRequest{Texts: clipped})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.batchURL, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build batch embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.batchClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding service unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServiceStatusError{
			Service:    "embedding",
			StatusCode: resp.StatusCode,
			Body:       string(respBytes),
		}
	}

	var parsed batchEmbeddingResponse
	if err := json.Unmarshal(respBytes, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse batch embed response: %w", err)
	}
	if len(parsed.Vectors) != len(texts) {
		return nil, fmt.Errorf("batch embed returned %d vectors for %d texts",
			len(parsed.Vectors), len(texts))
	}
	return parsed.Vectors, nil
}

// ServiceStatusError is a non-2xx reply from a retrieval collaborator.
type ServiceStatusError struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *ServiceStatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("%s service returned status %d: %s", e.Service, e.StatusCode, body)
}

// Retryable reports whether the status indicates a transient condition.
func (e *ServiceStatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
