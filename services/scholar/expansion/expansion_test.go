// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package expansion

import (
	"reflect"
	"testing"
)

func TestExpandEmptyTableReturnsOriginalOnly(t *testing.T) {
	e := New(true, 4)

	got := e.Expand("ruhrgebiet transition", Table{})
	want := []string{"ruhrgebiet transition"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expand = %v, want %v", got, want)
	}
}

func TestExpandDisabledReturnsOriginalOnly(t *testing.T) {
	e := New(false, 4)
	table := Table{"structural change": {"industrial transition"}}

	got := e.Expand("structural change in mining regions", table)
	if len(got) != 1 || got[0] != "structural change in mining regions" {
		t.Errorf("disabled expander must return only the original, got %v", got)
	}
}

func TestExpandProducesVariantPerMatchedGroup(t *testing.T) {
	e := New(true, 4)
	table := Table{
		"structural change": {"industrial transition"},
		"coal phase-out":    {"mine closures"},
	}

	got := e.Expand("structural change after the coal phase-out", table)
	if len(got) != 3 {
		t.Fatalf("got %d variants, want 3: %v", len(got), got)
	}
	if got[0] != "structural change after the coal phase-out" {
		t.Errorf("original query must come first, got %q", got[0])
	}

	rest := map[string]bool{got[1]: true, got[2]: true}
	if !rest["structural change after the mine closures"] {
		t.Errorf("missing coal phase-out variant in %v", got)
	}
	if !rest["industrial transition after the coal phase-out"] {
		t.Errorf("missing structural change variant in %v", got)
	}
}

func TestExpandMatchesSynonymAndSubstitutesCanonical(t *testing.T) {
	e := New(true, 4)
	table := Table{"varieties of capitalism": {"VoC", "comparative capitalism"}}

	got := e.Expand("the VoC literature on Germany", table)
	if len(got) != 2 {
		t.Fatalf("got %d variants, want 2: %v", len(got), got)
	}
	if got[1] != "the varieties of capitalism literature on Germany" {
		t.Errorf("variant = %q", got[1])
	}
}

func TestExpandRespectsCap(t *testing.T) {
	e := New(true, 2)
	table := Table{
		"alpha": {"one"},
		"beta":  {"two"},
		"gamma": {"three"},
	}

	got := e.Expand("alpha beta gamma", table)
	if len(got) != 2 {
		t.Errorf("cap not respected: got %d variants %v", len(got), got)
	}
}

func TestExpandUnmatchedGroupsIgnored(t *testing.T) {
	e := New(true, 4)
	table := Table{"labor markets": {"employment systems"}}

	got := e.Expand("ruhrgebiet transition", table)
	if len(got) != 1 {
		t.Errorf("unmatched table must not add variants, got %v", got)
	}
}
