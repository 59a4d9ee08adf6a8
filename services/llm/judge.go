// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Structured Judgment
// =============================================================================

// MalformedOutputError reports a judgment response that failed to conform to
// its schema. Missing required fields are never silently defaulted: a
// hallucination flag defaulted to false would be unsafe, so the caller
// treats this error as a collaborator failure.
type MalformedOutputError struct {
	// Missing lists required fields absent from the response.
	Missing []string
	// Cause is the underlying parse error, if any.
	Cause error
}

func (e *MalformedOutputError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("judgment response missing required fields: %s",
			strings.Join(e.Missing, ", "))
	}
	if e.Cause != nil {
		return fmt.Sprintf("judgment response did not parse: %v", e.Cause)
	}
	return "judgment response malformed"
}

func (e *MalformedOutputError) Unwrap() error { return e.Cause }

// ExtractJSON pulls the first JSON object out of a model response, tolerant
// of markdown code fences and prose around the object. Models asked for
// bare JSON still wrap it often enough that rejecting fenced output would
// turn routine responses into collaborator failures.
func ExtractJSON(response string) (string, error) {
	cleaned := strings.TrimSpace(response)

	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	} else if idx := strings.Index(cleaned, "```"); idx >= 0 {
		cleaned = cleaned[idx+len("```"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return "", &MalformedOutputError{Cause: fmt.Errorf("no JSON object in response")}
	}
	return cleaned[start : end+1], nil
}

// DecodeStrict parses raw JSON into T after verifying every required
// top-level field is present. Partial objects are rejected rather than
// filled with zero values.
func DecodeStrict[T any](raw string, required ...string) (*T, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &fields); err != nil {
		return nil, &MalformedOutputError{Cause: err}
	}

	var missing []string
	for _, field := range required {
		if _, ok := fields[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return nil, &MalformedOutputError{Missing: missing}
	}

	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, &MalformedOutputError{Cause: err}
	}
	return &out, nil
}

// GenerateStruct runs a judgment call and decodes the response against the
// required-field schema. The prompt must describe the expected JSON shape;
// this helper only enforces it.
func GenerateStruct[T any](ctx context.Context, client LLMClient, prompt string,
	params GenerationParams, required ...string) (*T, error) {

	response, err := client.Generate(ctx, prompt, params)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(response)
	if err != nil {
		return nil, err
	}
	return DecodeStrict[T](raw, required...)
}

// IsMalformedOutput reports whether err is a schema violation from a
// judgment collaborator.
func IsMalformedOutput(err error) bool {
	var malformed *MalformedOutputError
	return errors.As(err, &malformed)
}
