// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guard provides the prompt-injection screen and the input/output
// sanitizers. Both are defense-in-depth; neither is ever the sole guard.
package guard

import (
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// Verdict
// =============================================================================

// Verdict is the result of screening a message. A rejecting verdict carries
// the matched family and pattern for server-side audit only; the user-facing
// message must stay generic.
type Verdict struct {
	OK             bool
	Family         string
	MatchedPattern string
}

// =============================================================================
// Pattern Catalog
// =============================================================================

// patternFamily groups related jailbreak shapes under one audit label.
type patternFamily struct {
	name     string
	patterns []*regexp.Regexp
}

// Family names recorded in the turn log on reject.
const (
	FamilyInstructionOverride = "instruction_override"
	FamilyRoleModification    = "role_modification"
	FamilyPromptExtraction    = "prompt_extraction"
	FamilyTopicBypass         = "topic_bypass"
	FamilyFormatCoercion      = "format_coercion"
	FamilyEncodedSmuggling    = "encoded_smuggling"
	FamilyFilterDisable       = "filter_disable"
)

// catalog is matched against the normalized message. Patterns are written
// for the normalized form: lowercase, single spaces, no zero-width runes.
var catalog = []patternFamily{
	{
		name: FamilyInstructionOverride,
		patterns: compile(
			`ignore (all |any |the )?(previous|prior|above|earlier) (instructions|prompts|rules|messages)`,
			`disregard (all |any |the )?(previous|prior|above|earlier|your) (instructions|prompts|rules|guidelines)`,
			`forget (everything|all|your) (you know|instructions|rules|training)`,
			`(new|updated|override) (instructions|system prompt) ?:`,
			`from now on,? (you|ignore)`,
		),
	},
	{
		name: FamilyRoleModification,
		patterns: compile(
			`pretend (to be|you are|you're)`,
			`act as (if you|though you|a|an|my)`,
			`you are (now|no longer) (a|an|the)?`,
			`roleplay as`,
			`simulate (a|an|being)`,
			`(enable|enter|activate) (dan|developer|god|jailbreak) mode`,
		),
	},
	{
		name: FamilyPromptExtraction,
		patterns: compile(
			`(repeat|print|show|reveal|display|output|echo) (me )?(your|the) (system )?(prompt|instructions)`,
			`what (is|are|were) your (system prompt|initial instructions|original instructions)`,
			`(verbatim|word for word).*(prompt|instructions)`,
			`(prompt|instructions).*(verbatim|word for word)`,
		),
	},
	{
		name: FamilyTopicBypass,
		patterns: compile(
			`(this|my question) (is not|isn't) about magic`,
			`(stop|quit) (talking|answering) about magic`,
			`answer (anything|everything|any question),? (not just|regardless of)`,
			`you can (talk|answer) about (anything|other topics)`,
			`(lift|remove|drop) (the|your) topic (restriction|limit)`,
		),
	},
	{
		name: FamilyFormatCoercion,
		patterns: compile(
			`respond (only|solely) (with|in) (raw|plain|unfiltered)`,
			`(answer|reply) without (any )?(warnings|disclaimers|caveats|safety)`,
			`do not (include|add) (any )?(warnings|disclaimers|safety)`,
			`output (only|just) the (answer|text|code),? (no|without)`,
		),
	},
	{
		name: FamilyEncodedSmuggling,
		patterns: compile(
			`(decode|execute|run|follow) (this|the) (base64|hex|rot13|encoded)`,
			`base64 ?: ?[a-z0-9+/]{16,}`,
			`(instructions|prompt) (are|is) (encoded|hidden) in`,
			`translate (from|the) (base64|hex|binary) (and|then) (do|follow|execute)`,
		),
	},
	{
		name: FamilyFilterDisable,
		patterns: compile(
			`(disable|turn off|bypass|remove|deactivate) (your |the |all )?(filters?|safety|guardrails?|restrictions?|censorship)`,
			`without (your |the |any )?(filters?|safety measures|guardrails?|restrictions?)`,
			`you (have|are under) no (restrictions|rules|limits)`,
			`unfiltered (mode|response|answer)`,
		),
	},
}

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(exprs))
	for _, e := range exprs {
		out = append(out, regexp.MustCompile(e))
	}
	return out
}

// =============================================================================
// Screen
// =============================================================================

// Screen classifies a user message as benign or a jailbreak attempt. Pure
// and deterministic: same input, same verdict, no I/O.
func Screen(message string) Verdict {
	normalized := normalize(message)
	for _, family := range catalog {
		for _, p := range family.patterns {
			if p.MatchString(normalized) {
				return Verdict{OK: false, Family: family.name, MatchedPattern: p.String()}
			}
		}
	}
	return Verdict{OK: true}
}

// normalize lowercases, strips zero-width and control runes, and collapses
// all Unicode whitespace runs to single spaces so spacing and casing tricks
// cannot dodge the catalog.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\u200b' || r == '\u200c' || r == '\u200d' || r == '\ufeff':
			// zero-width characters used to split keywords
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			continue
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimSpace(b.String())
}
