// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestAutoTitle(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{"short stays whole", "What is lifelink?", "What is lifelink?"},
		{"trimmed", "  What is lifelink?  \n", "What is lifelink?"},
		{"exactly fifty", strings.Repeat("a", 50), strings.Repeat("a", 50)},
		{"cut with ellipsis", strings.Repeat("a", 51), strings.Repeat("a", 50) + "…"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AutoTitle(tt.message))
		})
	}
}

func TestAutoTitle_CutsOnRunesNotBytes(t *testing.T) {
	title := AutoTitle(strings.Repeat("é", 60))
	assert.Equal(t, AutoTitleMaxRunes+1, utf8.RuneCountInString(title))
	assert.True(t, strings.HasSuffix(title, "…"))
	assert.True(t, utf8.ValidString(title))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("  short  "))

	long := preview(strings.Repeat("x", 100))
	assert.Equal(t, previewMaxRunes+1, utf8.RuneCountInString(long))
	assert.True(t, strings.HasSuffix(long, "…"))
}
