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
	"fmt"
	"log/slog"
)

// =============================================================================
// Model Tiers
// =============================================================================

// Role names one of the model duties in a synthesis cycle. Drafting and
// judging are deliberately not interchangeable: the audit judgment must not
// come from the same reasoning process that produced the draft, or their
// failure modes correlate.
type Role string

const (
	RoleDraft    Role = "draft"
	RoleAudit    Role = "audit"
	RoleEvaluate Role = "evaluate"
	RoleCompress Role = "compress"
)

// RoleConfig binds a role to a concrete model and a capability tier. Tier is
// an ordinal: higher means more capable. The numeric value only matters
// relative to the other roles in the same TierSet.
type RoleConfig struct {
	Model string `json:"model"`
	Tier  int    `json:"tier"`
}

// TierSet is the complete role-to-model assignment for one deployment.
//
// # Description
//
// The drafting model writes answers; the audit and evaluation models judge
// them. Validate enforces that both judging roles run on a strictly higher
// tier than drafting. Compression reuses the drafting tier since it only
// condenses text the drafter will consume anyway.
//
// # Examples
//
//	tiers := llm.TierSet{
//	    Draft:    llm.RoleConfig{Model: "llama3.1:8b", Tier: 1},
//	    Audit:    llm.RoleConfig{Model: "qwen2.5:32b", Tier: 2},
//	    Evaluate: llm.RoleConfig{Model: "qwen2.5:32b", Tier: 2},
//	    Compress: llm.RoleConfig{Model: "llama3.1:8b", Tier: 1},
//	}
//	if err := tiers.Validate(); err != nil {
//	    log.Fatal(err)
//	}
type TierSet struct {
	Draft    RoleConfig `json:"draft"`
	Audit    RoleConfig `json:"audit"`
	Evaluate RoleConfig `json:"evaluate"`
	Compress RoleConfig `json:"compress"`
}

// DefaultTierSet returns the stock assignment for the given backend type.
// Unknown backends get the local defaults, where tier separation is
// expressed through the judge service URL rather than model names.
func DefaultTierSet(backend string) TierSet {
	switch backend {
	case "openai":
		return TierSet{
			Draft:    RoleConfig{Model: "gpt-4o-mini", Tier: 1},
			Audit:    RoleConfig{Model: "gpt-4o", Tier: 2},
			Evaluate: RoleConfig{Model: "gpt-4o", Tier: 2},
			Compress: RoleConfig{Model: "gpt-4o-mini", Tier: 1},
		}
	case "claude":
		return TierSet{
			Draft:    RoleConfig{Model: "claude-3-5-haiku-latest", Tier: 1},
			Audit:    RoleConfig{Model: "claude-sonnet-4-5", Tier: 2},
			Evaluate: RoleConfig{Model: "claude-sonnet-4-5", Tier: 2},
			Compress: RoleConfig{Model: "claude-3-5-haiku-latest", Tier: 1},
		}
	case "ollama":
		return TierSet{
			Draft:    RoleConfig{Model: "llama3.1:8b", Tier: 1},
			Audit:    RoleConfig{Model: "qwen2.5:32b", Tier: 2},
			Evaluate: RoleConfig{Model: "qwen2.5:32b", Tier: 2},
			Compress: RoleConfig{Model: "llama3.1:8b", Tier: 1},
		}
	default:
		return TierSet{
			Draft:    RoleConfig{Model: "", Tier: 1},
			Audit:    RoleConfig{Model: "", Tier: 2},
			Evaluate: RoleConfig{Model: "", Tier: 2},
			Compress: RoleConfig{Model: "", Tier: 1},
		}
	}
}

// Validate rejects assignments where a judging role does not outrank the
// drafting role. This is checked once at startup so a misconfigured
// deployment fails fast instead of producing correlated audits.
func (t TierSet) Validate() error {
	if t.Audit.Tier <= t.Draft.Tier {
		return fmt.Errorf("audit tier (%d) must be strictly higher than draft tier (%d)",
			t.Audit.Tier, t.Draft.Tier)
	}
	if t.Evaluate.Tier <= t.Draft.Tier {
		return fmt.Errorf("evaluate tier (%d) must be strictly higher than draft tier (%d)",
			t.Evaluate.Tier, t.Draft.Tier)
	}
	if t.Compress.Tier > t.Draft.Tier {
		slog.Warn("Compression model outranks drafting model; this wastes judge capacity",
			"compress_tier", t.Compress.Tier,
			"draft_tier", t.Draft.Tier,
		)
	}
	return nil
}

// ForRole returns the role's configuration.
func (t TierSet) ForRole(role Role) RoleConfig {
	switch role {
	case RoleAudit:
		return t.Audit
	case RoleEvaluate:
		return t.Evaluate
	case RoleCompress:
		return t.Compress
	default:
		return t.Draft
	}
}
