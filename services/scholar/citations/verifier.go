// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package citations

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
)

// Verification is the outcome of checking one claimed citation.
//
// # Fields
//
//   - Exists: the quote was found on the cited page.
//   - MatchedExactly: the quote matched verbatim (after whitespace
//     normalization). False for fuzzy matches.
//   - Similarity: 1.0 for exact matches, otherwise the best window
//     similarity found on the page.
//   - Citation: canonical rendering of the resolved citation.
//   - Preview: the page passage that matched, or the closest passage when
//     the check failed.
//   - Reason: why Exists is false. Empty on success.
type Verification struct {
	Exists         bool    `json:"exists"`
	MatchedExactly bool    `json:"matched_exactly"`
	Similarity     float64 `json:"similarity"`
	Citation       string  `json:"citation,omitempty"`
	Preview        string  `json:"preview,omitempty"`
	Reason         string  `json:"reason,omitempty"`
}

// Verifier checks claimed citations against the registered page index.
//
// A failed check is always reported as-is. The verifier never substitutes
// a nearby page or a similar document to make a citation pass.
type Verifier struct {
	registry   *Registry
	fuzzyFloor float64
}

// NewVerifier builds a verifier. fuzzyFloor is the minimum window
// similarity accepted as a fuzzy match; values outside (0,1] fall back to
// 0.82.
func NewVerifier(registry *Registry, fuzzyFloor float64) *Verifier {
	if fuzzyFloor <= 0 || fuzzyFloor > 1 {
		fuzzyFloor = 0.82
	}
	return &Verifier{registry: registry, fuzzyFloor: fuzzyFloor}
}

// Verify checks a claimed citation, and its quote when one is supplied.
//
// # Description
//
// Resolution is strict: the (author, year) pair must identify exactly one
// registered document. Zero matches or an ambiguous match fails the check
// with a reason, as does a page the document does not have. With an empty
// quote the check is pure page existence: the citation verifies when the
// resolved document has the cited page. A supplied quote is first matched
// as an exact substring after whitespace normalization and case folding;
// failing that, a sliding window over the page is scored by normalized
// edit distance, and the best window must clear the fuzzy floor.
//
// # Inputs
//
//   - author: author name fragment, matched case-insensitively.
//   - year: publication year.
//   - page: 1-based page number.
//   - quote: the quoted text to locate. Optional.
//
// # Outputs
//
//   - *Verification: the check result. Never nil on a nil error.
//   - error: storage failures only. A failed check is not an error.
func (v *Verifier) Verify(author string, year, page int, quote string) (*Verification, error) {
	docs, err := v.registry.FindByAuthorYear(author, year)
	if err != nil {
		return nil, err
	}
	switch {
	case len(docs) == 0:
		return &Verification{
			Reason: fmt.Sprintf("no registered document matches author %q and year %d", author, year),
		}, nil
	case len(docs) > 1:
		return &Verification{
			Reason: fmt.Sprintf("citation is ambiguous: %d documents match author %q and year %d", len(docs), author, year),
		}, nil
	}
	doc := docs[0]
	citation := formatCitation(doc, page)

	pageText, ok, err := v.registry.PageText(doc.ID, page)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Verification{
			Citation: citation,
			Reason:   fmt.Sprintf("document %q has no page %d", doc.Metadata.Title, page),
		}, nil
	}

	normQuote := normalizeForMatch(quote)
	normPage := normalizeForMatch(pageText)

	if normQuote == "" {
		// No quote claimed: the page's existence is the whole check.
		return &Verification{
			Exists:         true,
			MatchedExactly: true,
			Similarity:     1.0,
			Citation:       citation,
			Preview:        preview(normPage, 0, 0),
		}, nil
	}

	if idx := strings.Index(normPage, normQuote); idx >= 0 {
		return &Verification{
			Exists:         true,
			MatchedExactly: true,
			Similarity:     1.0,
			Citation:       citation,
			Preview:        preview(normPage, idx, len(normQuote)),
		}, nil
	}

	best, window := bestWindowSimilarity(normPage, normQuote)
	if best >= v.fuzzyFloor {
		return &Verification{
			Exists:     true,
			Similarity: best,
			Citation:   citation,
			Preview:    window,
		}, nil
	}
	return &Verification{
		Similarity: best,
		Citation:   citation,
		Preview:    window,
		Reason:     fmt.Sprintf("quote not found on page %d (best similarity %.2f)", page, best),
	}, nil
}

var matchWhitespace = regexp.MustCompile(`\s+`)

func normalizeForMatch(s string) string {
	return strings.ToLower(strings.TrimSpace(matchWhitespace.ReplaceAllString(s, " ")))
}

// bestWindowSimilarity slides a quote-sized window across the page and
// returns the highest normalized edit-distance similarity and the window
// that produced it.
func bestWindowSimilarity(page, quote string) (float64, string) {
	pageRunes := []rune(page)
	quoteRunes := []rune(quote)
	if len(pageRunes) == 0 || len(quoteRunes) == 0 {
		return 0, ""
	}
	window := len(quoteRunes)
	if window >= len(pageRunes) {
		return similarity(page, quote), page
	}
	step := window / 8
	if step < 1 {
		step = 1
	}

	dmp := diffmatchpatch.New()
	best := 0.0
	bestWindow := ""
	for start := 0; start <= len(pageRunes)-window; start += step {
		candidate := string(pageRunes[start : start+window])
		diffs := dmp.DiffMain(candidate, quote, false)
		dist := dmp.DiffLevenshtein(diffs)
		sim := 1.0 - float64(dist)/float64(window)
		if sim > best {
			best = sim
			bestWindow = candidate
		}
	}
	return best, bestWindow
}

func similarity(a, b string) float64 {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	dist := dmp.DiffLevenshtein(diffs)
	longer := len([]rune(a))
	if l := len([]rune(b)); l > longer {
		longer = l
	}
	if longer == 0 {
		return 1.0
	}
	return 1.0 - float64(dist)/float64(longer)
}

// preview returns the matched span plus a little surrounding context,
// clamped to rune boundaries.
func preview(page string, idx, length int) string {
	const pad = 40
	start := idx - pad
	if start < 0 {
		start = 0
	}
	for start > 0 && !utf8.RuneStart(page[start]) {
		start--
	}
	end := idx + length + pad
	if end > len(page) {
		end = len(page)
	}
	for end < len(page) && !utf8.RuneStart(page[end]) {
		end++
	}
	return page[start:end]
}

// formatCitation renders the canonical short form, e.g. "(Thelen 2012, p. 14)".
func formatCitation(doc datatypes.Document, page int) string {
	surname := ""
	if authors := datatypes.SplitAuthors(doc.Metadata.Authors); len(authors) > 0 {
		parts := strings.Fields(authors[0])
		if len(parts) > 0 {
			surname = parts[len(parts)-1]
		}
	}
	year := 0
	if doc.Metadata.Year != nil {
		year = *doc.Metadata.Year
	}
	return fmt.Sprintf("(%s %d, p. %d)", surname, year, page)
}
