// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the shared data model for the scholar service:
// document metadata normalization, chunk records, Weaviate schemas, and
// GraphQL response parsing.
package datatypes

import (
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Metadata Normalization
// =============================================================================

// RawMetadata carries extracted document fields before canonicalization.
// Any field may be empty, inconsistently cased, or padded with whitespace;
// Year may be a non-numeric string.
type RawMetadata struct {
	Authors []string
	Year    string
	Title   string
	DOI     string
}

// DocumentMetadata is the canonical form produced by NormalizeMetadata.
//
// # Fields
//
//   - Authors: comma-joined, de-duplicated, trimmed, original order preserved
//   - Year: publication year, nil when the raw value could not be parsed
//   - Title: whitespace-collapsed title
//   - DOI: lower-cased DOI with any resolver URL prefix stripped
type DocumentMetadata struct {
	Authors string `json:"authors"`
	Year    *int   `json:"year"`
	Title   string `json:"title"`
	DOI     string `json:"doi"`
}

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// Resolver prefixes commonly found in front of a bare DOI.
	doiPrefixes = []string{
		"https://doi.org/",
		"http://doi.org/",
		"https://dx.doi.org/",
		"http://dx.doi.org/",
		"doi.org/",
		"doi:",
	}
)

// NormalizeMetadata canonicalizes raw extracted fields.
//
// # Description
//
// Pure transform with no side effects. Malformed input degrades to the
// zero value for the affected field rather than returning an error, so a
// single bad field never aborts an ingestion batch. The transform is
// idempotent: feeding a normalized result back through produces the same
// output.
//
// # Inputs
//
//   - raw: extracted fields, any of which may be empty or malformed.
//
// # Outputs
//
//   - DocumentMetadata: canonical fields, Year nil on parse failure.
func NormalizeMetadata(raw RawMetadata) DocumentMetadata {
	return DocumentMetadata{
		Authors: normalizeAuthors(raw.Authors),
		Year:    normalizeYear(raw.Year),
		Title:   collapseWhitespace(raw.Title),
		DOI:     normalizeDOI(raw.DOI),
	}
}

// SplitAuthors splits a canonical comma-joined author string back into its
// entries. Returns nil for an empty string.
func SplitAuthors(authors string) []string {
	if authors == "" {
		return nil
	}
	parts := strings.Split(authors, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeAuthors(authors []string) string {
	seen := make(map[string]bool, len(authors))
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		trimmed := collapseWhitespace(a)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
	}
	return strings.Join(out, ", ")
}

func normalizeYear(year string) *int {
	trimmed := strings.TrimSpace(year)
	if trimmed == "" {
		return nil
	}
	if v, err := strconv.Atoi(trimmed); err == nil {
		return &v
	}
	// Some extractors emit years as floats ("2012.0").
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		v := int(f)
		return &v
	}
	return nil
}

func normalizeDOI(doi string) string {
	lowered := strings.ToLower(strings.TrimSpace(doi))
	for _, prefix := range doiPrefixes {
		if strings.HasPrefix(lowered, prefix) {
			lowered = strings.TrimPrefix(lowered, prefix)
			break
		}
	}
	return lowered
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}
