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
	"regexp"
	"strings"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxInputRunes bounds a sanitized user message.
	MaxInputRunes = 4000

	// MaxOutputRunes bounds a sanitized assistant response.
	MaxOutputRunes = 10000

	// TruncationMarker is appended whenever an output is cut.
	TruncationMarker = "\n[response truncated]"
)

// SystemPromptMarkers are distinctive phrases from the hard-coded system
// prompt. Any of them surfacing in model output is treated as prompt leakage
// and redacted. The chat package embeds these same phrases when composing
// the prompt.
var SystemPromptMarkers = []string{
	"GATEWATCH-DIRECTIVE",
	"You are Gatewatch, a Magic: The Gathering rules assistant",
}

const redactionMarker = "[redacted]"

// =============================================================================
// Patterns
// =============================================================================

var (
	whitespaceRun = regexp.MustCompile(`[ \t]{2,}`)
	newlineRun    = regexp.MustCompile(`\n{3,}`)

	scriptBlock  = regexp.MustCompile(`(?is)<script\b.*?(?:</script>|$)`)
	iframeBlock  = regexp.MustCompile(`(?is)<iframe\b.*?(?:</iframe>|$)`)
	jsScheme     = regexp.MustCompile(`(?i)javascript\s*:`)
	eventHandler = regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*(?:"[^"]*"|'[^']*'|[^\s>]+)`)
)

// =============================================================================
// Input
// =============================================================================

// SanitizeInput scrubs a user message before any prompt composition: strips
// NULs, collapses whitespace runs, truncates to MaxInputRunes code points.
func SanitizeInput(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = whitespaceRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > MaxInputRunes {
		s = string(runes[:MaxInputRunes])
	}
	return s
}

// =============================================================================
// Output
// =============================================================================

// SanitizeOutput scrubs model output before it reaches the client: drops
// script/iframe blocks, javascript: schemes, and event-handler attributes;
// redacts system-prompt leakage; truncates to MaxOutputRunes with an
// explicit marker.
func SanitizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = scriptBlock.ReplaceAllString(s, "")
	s = iframeBlock.ReplaceAllString(s, "")
	s = jsScheme.ReplaceAllString(s, "")
	s = eventHandler.ReplaceAllString(s, "")

	for _, marker := range SystemPromptMarkers {
		if marker == "" {
			continue
		}
		s = replaceFold(s, marker, redactionMarker)
	}

	runes := []rune(s)
	if len(runes) > MaxOutputRunes {
		s = string(runes[:MaxOutputRunes]) + TruncationMarker
	}
	return s
}

// replaceFold is a case-insensitive strings.ReplaceAll.
func replaceFold(s, old, new string) string {
	if old == "" {
		return s
	}
	var b strings.Builder
	lower, lowerOld := strings.ToLower(s), strings.ToLower(old)
	for {
		i := strings.Index(lower, lowerOld)
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(new)
		s = s[i+len(old):]
		lower = lower[i+len(lowerOld):]
	}
}
