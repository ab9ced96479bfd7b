// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Tiers
// =============================================================================

// Tier is the admission class of a principal. Ordering is
// anonymous < free < premium < enterprise.
type Tier string

const (
	TierAnonymous  Tier = "anonymous"
	TierFree       Tier = "free"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

var tierRank = map[Tier]int{
	TierAnonymous:  0,
	TierFree:       1,
	TierPremium:    2,
	TierEnterprise: 3,
}

// Valid reports whether t is a known tier tag.
func (t Tier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t meets the minimum tier min.
func (t Tier) AtLeast(min Tier) bool {
	return tierRank[t] >= tierRank[min]
}

// =============================================================================
// Tier Limits
// =============================================================================

// TierLimits holds the per-day admission caps for one tier.
type TierLimits struct {
	RequestsPerDay  int   `yaml:"requests_per_day"`
	TokensPerDay    int64 `yaml:"tokens_per_day"`
	MaxOutputTokens int   `yaml:"max_output_tokens"`
	IPPerMinute     int   `yaml:"ip_per_minute"`
}

// TierTable maps each tier to its limits. The set of tiers is closed; the
// table is data, not polymorphism.
type TierTable map[Tier]TierLimits

// DefaultTierTable returns the shipped limits.
func DefaultTierTable() TierTable {
	return TierTable{
		TierAnonymous:  {RequestsPerDay: 3, TokensPerDay: 10_000, MaxOutputTokens: 1_000, IPPerMinute: 10},
		TierFree:       {RequestsPerDay: 50, TokensPerDay: 100_000, MaxOutputTokens: 2_000, IPPerMinute: 10},
		TierPremium:    {RequestsPerDay: 500, TokensPerDay: 1_000_000, MaxOutputTokens: 4_000, IPPerMinute: 10},
		TierEnterprise: {RequestsPerDay: 10_000, TokensPerDay: 10_000_000, MaxOutputTokens: 8_000, IPPerMinute: 10},
	}
}

// For returns the limits for t, falling back to the anonymous row for
// unknown tags so a bad tier value can never widen access.
func (tt TierTable) For(t Tier) TierLimits {
	if l, ok := tt[t]; ok {
		return l
	}
	return tt[TierAnonymous]
}

// LoadTierTable reads a YAML override file and merges it over the defaults.
// Only tiers present in the file are replaced; zero-valued fields within an
// overridden tier keep their defaults.
//
// Example file:
//
//	free:
//	  requests_per_day: 100
//	  tokens_per_day: 200000
func LoadTierTable(path string) (TierTable, error) {
	table := DefaultTierTable()
	if path == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier table %s: %w", path, err)
	}
	var overrides map[Tier]TierLimits
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parsing tier table %s: %w", path, err)
	}
	for tier, o := range overrides {
		if !tier.Valid() {
			return nil, fmt.Errorf("tier table %s: unknown tier %q", path, tier)
		}
		base := table[tier]
		if o.RequestsPerDay > 0 {
			base.RequestsPerDay = o.RequestsPerDay
		}
		if o.TokensPerDay > 0 {
			base.TokensPerDay = o.TokensPerDay
		}
		if o.MaxOutputTokens > 0 {
			base.MaxOutputTokens = o.MaxOutputTokens
		}
		if o.IPPerMinute > 0 {
			base.IPPerMinute = o.IPPerMinute
		}
		table[tier] = base
	}
	return table, nil
}
