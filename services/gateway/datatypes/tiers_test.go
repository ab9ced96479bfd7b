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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Tier Ordering Tests
// =============================================================================

func TestTierAtLeast(t *testing.T) {
	assert.True(t, TierEnterprise.AtLeast(TierAnonymous))
	assert.True(t, TierPremium.AtLeast(TierPremium))
	assert.False(t, TierFree.AtLeast(TierPremium))
	assert.False(t, TierAnonymous.AtLeast(TierFree))

	// Unknown tiers rank as zero and never outrank a real tier.
	assert.False(t, Tier("gold").AtLeast(TierFree))
	assert.False(t, Tier("gold").Valid())
}

func TestTierTableFor_UnknownFallsBackToAnonymous(t *testing.T) {
	table := DefaultTierTable()
	assert.Equal(t, table[TierAnonymous], table.For(Tier("bogus")))
	assert.Equal(t, table[TierPremium], table.For(TierPremium))
}

// =============================================================================
// YAML Override Tests
// =============================================================================

func TestLoadTierTable_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"free:\n  requests_per_day: 100\npremium:\n  tokens_per_day: 2000000\n  max_output_tokens: 5000\n",
	), 0o644))

	table, err := LoadTierTable(path)
	require.NoError(t, err)

	free := table.For(TierFree)
	assert.Equal(t, 100, free.RequestsPerDay)
	assert.Equal(t, int64(100_000), free.TokensPerDay, "unset fields keep defaults")

	premium := table.For(TierPremium)
	assert.Equal(t, int64(2_000_000), premium.TokensPerDay)
	assert.Equal(t, 5000, premium.MaxOutputTokens)
	assert.Equal(t, 500, premium.RequestsPerDay)

	// Untouched tiers keep the shipped row entirely.
	assert.Equal(t, DefaultTierTable()[TierEnterprise], table.For(TierEnterprise))
}

func TestLoadTierTable_UnknownTierRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gold:\n  requests_per_day: 1\n"), 0o644))

	_, err := LoadTierTable(path)
	assert.ErrorContains(t, err, "unknown tier")
}

func TestLoadTierTable_EmptyPathUsesDefaults(t *testing.T) {
	table, err := LoadTierTable("")
	require.NoError(t, err)
	assert.Equal(t, DefaultTierTable(), table)
}

func TestLoadTierTable_MissingFile(t *testing.T) {
	_, err := LoadTierTable(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
