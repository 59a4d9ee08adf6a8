// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for
// security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// database filters, file paths, or index names. Using these validators
// prevents injection and path traversal.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// workspaceNamePattern matches valid workspace names.
// Allows: lowercase letters, digits, hyphens; must start and end with an
// alphanumeric. Max length: 63 characters (DNS-label style).
var workspaceNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?$`)

// IsValidWorkspaceName reports whether name is a valid workspace slug.
func IsValidWorkspaceName(name string) bool {
	return workspaceNamePattern.MatchString(name)
}

// ValidateWorkspaceName validates a workspace name for use in storage keys
// and vector-store filters.
//
// Valid names:
//   - 1-63 characters
//   - Lowercase letters a-z, digits 0-9
//   - Hyphens (-) in the interior only
//
// Returns an error if the name is invalid.
//
// Example:
//
//	if err := validation.ValidateWorkspaceName(name); err != nil {
//	    return nil, fmt.Errorf("invalid workspace name: %w", err)
//	}
func ValidateWorkspaceName(name string) error {
	if name == "" {
		return fmt.Errorf("workspace name cannot be empty")
	}

	if !workspaceNamePattern.MatchString(name) {
		return fmt.Errorf("invalid workspace name: %q (must be 1-63 lowercase alphanumeric chars or interior hyphens)", name)
	}

	return nil
}

// pathSegmentPattern matches a single safe path segment: UUIDs, hashes,
// and similar server-generated ids. No separators, no traversal.
var pathSegmentPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]{0,127}$`)

// IsSafePathSegment reports whether s can be used as one path component
// under a storage root without escaping it.
func IsSafePathSegment(s string) bool {
	if s == "." || s == ".." || strings.Contains(s, "..") {
		return false
	}
	return pathSegmentPattern.MatchString(s)
}

// SanitizeWorkspaceName normalizes and validates a workspace name.
// Returns the lowercase name if valid, or an error if invalid.
//
// Use this when you need both validation and normalization:
//
//	safeName, err := validation.SanitizeWorkspaceName(userInput)
//	if err != nil {
//	    return err
//	}
//	// safeName is lowercase and validated
func SanitizeWorkspaceName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateWorkspaceName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
