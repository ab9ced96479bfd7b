// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guard

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// SanitizeInput Tests
// =============================================================================

func TestSanitizeInput(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"nul bytes stripped", "hello\x00world", "helloworld"},
		{"space runs collapsed", "too    many   spaces", "too many spaces"},
		{"newline runs capped", "a\n\n\n\n\nb", "a\n\nb"},
		{"trimmed", "  padded  ", "padded"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeInput(tt.in))
		})
	}
}

func TestSanitizeInput_TruncatesAtRuneBound(t *testing.T) {
	long := strings.Repeat("é", MaxInputRunes+50)
	got := SanitizeInput(long)
	assert.Equal(t, MaxInputRunes, len([]rune(got)))
}

// =============================================================================
// SanitizeOutput Tests
// =============================================================================

func TestSanitizeOutput_DropsActiveContent(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		absent  string
		present string
	}{
		{"script block", `before <script>alert(1)</script> after`, "<script", "before"},
		{"unterminated script", `text <script>alert(1)`, "<script", "text"},
		{"iframe block", `a <iframe src="x"></iframe> b`, "<iframe", "a"},
		{"js scheme", `click javascript:doEvil() now`, "javascript:", "doEvil"},
		{"event handler", `<img src=x onerror="alert(1)">`, "onerror", "<img"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeOutput(tt.in)
			assert.NotContains(t, strings.ToLower(got), tt.absent)
			assert.Contains(t, got, tt.present)
		})
	}
}

func TestSanitizeOutput_RedactsPromptLeakage(t *testing.T) {
	leak := "Sure! My instructions say: " + SystemPromptMarkers[1] + ". Anyway."
	got := SanitizeOutput(leak)
	assert.NotContains(t, got, SystemPromptMarkers[1])
	assert.Contains(t, got, "[redacted]")

	// Case folding must not let the marker slip through.
	folded := strings.ToLower(SystemPromptMarkers[0]) + " leaked"
	got = SanitizeOutput(folded)
	assert.Contains(t, got, "[redacted]")
}

func TestSanitizeOutput_TruncatesWithMarker(t *testing.T) {
	long := strings.Repeat("x", MaxOutputRunes+1)
	got := SanitizeOutput(long)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.Equal(t, MaxOutputRunes+len([]rune(TruncationMarker)), len([]rune(got)))
}

func TestSanitizeOutput_CleanTextUntouched(t *testing.T) {
	clean := "Deathtouch means any amount of damage is lethal (CR 702.2b)."
	assert.Equal(t, clean, SanitizeOutput(clean))
}
