// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// ClaimedCitation is one (Author Year, p. N) marker parsed from generated
// text, with the quote or claim text it attaches to.
type ClaimedCitation struct {
	Author string
	Year   int
	Page   int

	// Quote is the quoted passage immediately preceding the marker, empty
	// when the claim is a paraphrase.
	Quote string

	// Context is the sentence the marker appears in, used as the match
	// target for paraphrased claims.
	Context string
}

// citationPattern matches the short citation form the generator is
// prompted to emit, e.g. (Thelen 2012, p. 14).
var citationPattern = regexp.MustCompile(`\(([A-Z][A-Za-z'-]+(?: et al\.)?) (\d{4}), p\.? ?(\d+)\)`)

// quotePattern captures a double-quoted passage.
var quotePattern = regexp.MustCompile(`[“"]([^”"]+)[”"]`)

// ParseCitations extracts every citation marker from generated text.
func ParseCitations(text string) []ClaimedCitation {
	matches := citationPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return nil
	}

	out := make([]ClaimedCitation, 0, len(matches))
	for _, m := range matches {
		year, err := strconv.Atoi(text[m[4]:m[5]])
		if err != nil {
			continue
		}
		page, err := strconv.Atoi(text[m[6]:m[7]])
		if err != nil {
			continue
		}
		claim := ClaimedCitation{
			Author: text[m[2]:m[3]],
			Year:   year,
			Page:   page,
		}

		before := text[:m[0]]
		claim.Context = lastSentence(before)
		if q := trailingQuote(before); q != "" {
			claim.Quote = q
		}
		out = append(out, claim)
	}
	return out
}

// lastSentence returns the trailing sentence of s, the text after the
// last terminator that is followed by whitespace.
func lastSentence(s string) string {
	s = strings.TrimSpace(s)
	cut := -1
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' || s[i+1] == '\t' {
				cut = i
			}
		}
	}
	if cut >= 0 {
		s = s[cut+1:]
	}
	return strings.TrimSpace(s)
}

// trailingQuote returns the quoted passage ending near the end of s, if
// the citation marker directly follows one.
func trailingQuote(s string) string {
	trimmed := strings.TrimRight(s, " \t\n")
	locs := quotePattern.FindAllStringSubmatchIndex(trimmed, -1)
	if len(locs) == 0 {
		return ""
	}
	last := locs[len(locs)-1]
	// Only attach the quote when the marker follows it immediately.
	if len(trimmed)-last[1] > 2 {
		return ""
	}
	return trimmed[last[2]:last[3]]
}
