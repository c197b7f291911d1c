// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package expansion rewrites a query into academic-term synonym variants
// before retrieval.
//
// Tables are scoped per collection and attached to the collection's
// configuration. A tenant that never configured a table gets no expansion:
// Expand returns exactly the original query, never a silently broadened
// set.
package expansion

import (
	"sort"
	"strings"
)

// Table maps a canonical concept to its synonym phrases. The canonical
// term itself participates in matching.
type Table map[string][]string

// Expander applies a synonym table to queries within a configured cap.
type Expander struct {
	enabled       bool
	maxExpansions int
}

// New returns an Expander. maxExpansions caps the returned variant list
// including the original query; values below 1 are raised to 1.
func New(enabled bool, maxExpansions int) *Expander {
	if maxExpansions < 1 {
		maxExpansions = 1
	}
	return &Expander{enabled: enabled, maxExpansions: maxExpansions}
}

// Expand returns the ordered query variants: the original query first,
// then one variant per synonym group matched in the query, capped at the
// configured maximum.
//
// # Description
//
// A group matches when its canonical term or any synonym occurs in the
// query (case-insensitive). The variant replaces the matched phrase with
// another phrase from the group, preferring the canonical term. Groups are
// visited in sorted canonical order so output is deterministic.
//
// With expansion disabled or an empty table the result is exactly
// [query].
func (e *Expander) Expand(query string, table Table) []string {
	variants := []string{query}
	if !e.enabled || len(table) == 0 || strings.TrimSpace(query) == "" {
		return variants
	}

	lowered := strings.ToLower(query)
	seen := map[string]bool{lowered: true}

	concepts := make([]string, 0, len(table))
	for concept := range table {
		concepts = append(concepts, concept)
	}
	sort.Strings(concepts)

	for _, concept := range concepts {
		if len(variants) >= e.maxExpansions {
			break
		}
		group := append([]string{concept}, table[concept]...)

		matched := ""
		for _, phrase := range group {
			if phrase != "" && strings.Contains(lowered, strings.ToLower(phrase)) {
				matched = phrase
				break
			}
		}
		if matched == "" {
			continue
		}

		replacement := pickReplacement(group, matched)
		if replacement == "" {
			continue
		}

		variant := replaceInsensitive(query, matched, replacement)
		key := strings.ToLower(variant)
		if seen[key] {
			continue
		}
		seen[key] = true
		variants = append(variants, variant)
	}
	return variants
}

// pickReplacement chooses the phrase to substitute for the matched one:
// the canonical term when something else matched, otherwise the first
// synonym that differs.
func pickReplacement(group []string, matched string) string {
	canonical := group[0]
	if !strings.EqualFold(matched, canonical) {
		return canonical
	}
	for _, phrase := range group[1:] {
		if !strings.EqualFold(phrase, matched) {
			return phrase
		}
	}
	return ""
}

// replaceInsensitive replaces the first case-insensitive occurrence of old
// with new, preserving the rest of the query untouched.
func replaceInsensitive(s, old, new string) string {
	idx := strings.Index(strings.ToLower(s), strings.ToLower(old))
	if idx < 0 {
		return s
	}
	return s[:idx] + new + s[idx+len(old):]
}
