// Copyright (C) 2025 Adnan Haque
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file implements secure custody for provider API keys. Keys are held
// in mlocked memory to prevent swapping to disk, with a plain-memory
// fallback on systems whose mlock limit is too low.

package llm

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/sys/unix"
)

const (
	// MinMlockLimitKB is the minimum mlock limit required to hold provider
	// keys in locked memory.
	MinMlockLimitKB = 64
)

var (
	memguardInitOnce    sync.Once
	mlockSufficient     bool
	currentMlockLimitKB int64
)

// APIKey holds one provider credential. When the system permits, the value
// lives in a memguard enclave and is only materialized for the duration of
// a request; otherwise it degrades to a plain string with a logged warning.
type APIKey struct {
	enclave *memguard.Enclave
	plain   string
}

// LoadAPIKey resolves a credential from the environment variable envVar,
// falling back to the container secret at secretPath. An empty result
// returns nil; callers decide whether the backend requires a key.
func LoadAPIKey(envVar, secretPath string) *APIKey {
	value := os.Getenv(envVar)
	if value == "" && secretPath != "" {
		raw, err := os.ReadFile(secretPath)
		if err == nil {
			value = strings.TrimSpace(string(raw))
			slog.Info("Read API key from secret file", "path", secretPath)
		}
	}
	if value == "" {
		return nil
	}
	return NewAPIKey(value)
}

// NewAPIKey wraps a credential value in locked memory when available.
func NewAPIKey(value string) *APIKey {
	initMemguard()
	if !mlockSufficient {
		return &APIKey{plain: value}
	}
	return &APIKey{enclave: memguard.NewEnclave([]byte(value))}
}

// Reveal materializes the key for one use. The returned release func wipes
// the open buffer; callers must invoke it as soon as the request headers
// are built.
func (k *APIKey) Reveal() (string, func()) {
	if k.enclave == nil {
		return k.plain, func() {}
	}
	buf, err := k.enclave.Open()
	if err != nil {
		slog.Error("Failed to open key enclave, key unavailable", "error", err)
		return "", func() {}
	}
	return buf.String(), buf.Destroy
}

// Secure reports whether the key is held in mlocked memory.
func (k *APIKey) Secure() bool { return k.enclave != nil }

// initMemguard performs one-time secure memory setup: interrupt handling so
// buffers are wiped on SIGINT, and the mlock limit check that decides
// whether locked storage is usable at all.
func initMemguard() {
	memguardInitOnce.Do(func() {
		memguard.CatchInterrupt()
		mlockSufficient, currentMlockLimitKB = checkMlockLimit()
		if mlockSufficient {
			slog.Info("Secure key storage initialized",
				"mlock_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		} else {
			slog.Warn("mlock limit insufficient, provider keys held in plain memory",
				"current_limit_kb", currentMlockLimitKB,
				"required_kb", MinMlockLimitKB,
			)
		}
	})
}

// checkMlockLimit queries the kernel's mlock resource limit and compares it
// against the minimum required for key custody.
func checkMlockLimit() (bool, int64) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_MEMLOCK, &rlimit); err != nil {
		slog.Warn("Could not determine mlock limit", "error", err)
		return true, -1
	}
	if rlimit.Cur == unix.RLIM_INFINITY {
		return true, -1
	}
	limitKB := int64(rlimit.Cur / 1024)
	return limitKB >= MinMlockLimitKB, limitKB
}

// PurgeSecureMemory wipes all memguard-allocated buffers. Intended for
// shutdown paths.
func PurgeSecureMemory() {
	memguard.Purge()
}
