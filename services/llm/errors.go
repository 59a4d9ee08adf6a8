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
	"errors"
	"fmt"
	"net/http"
)

// BackendStatusError is returned when a model backend answers with a
// non-success HTTP status. The status code lets the caller's retry layer
// distinguish transient saturation from permanent misconfiguration.
type BackendStatusError struct {
	Backend    string
	StatusCode int
	Body       string
}

func (e *BackendStatusError) Error() string {
	return fmt.Sprintf("%s backend failed with status %d: %s", e.Backend, e.StatusCode, e.Body)
}

// Retryable reports whether the status indicates a transient condition.
func (e *BackendStatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsRetryableBackendError reports whether err is a backend status error
// worth one more attempt.
func IsRetryableBackendError(err error) bool {
	var statusErr *BackendStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return false
}
