// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides the language-model collaborators for the synthesis
// pipeline: free-form generation, deterministic compression, and structured
// judgment against an explicit schema. Backends are selected by
// configuration; the pipeline only sees the LLMClient interface.
package llm

import "context"

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// DeterministicParams returns zero-temperature settings for calls whose
// output must be reproducible, such as evidence compression.
func DeterministicParams(maxTokens int) GenerationParams {
	var temp float32
	topK := 1
	var topP float32 = 1.0
	return GenerationParams{
		Temperature: &temp,
		TopK:        &topK,
		TopP:        &topP,
		MaxTokens:   &maxTokens,
	}
}

// LLMClient defines the standard interface for any LLM backend.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Limiter is the admission-control contract satisfied by the process-wide
// sliding-window limiter. Every backend call acquires a slot first.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// limitedClient gates an inner backend behind a shared call-rate limiter.
type limitedClient struct {
	inner   LLMClient
	limiter Limiter
}

var _ LLMClient = (*limitedClient)(nil)

// WithLimiter wraps client so every Generate call blocks on the shared
// limiter before reaching the backend. A nil limiter returns the client
// unchanged.
func WithLimiter(client LLMClient, limiter Limiter) LLMClient {
	if limiter == nil {
		return client
	}
	return &limitedClient{inner: client, limiter: limiter}
}

func (l *limitedClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	if err := l.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	return l.inner.Generate(ctx, prompt, params)
}
