// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chunker splits a document's page text into hierarchical,
// overlapping chunks at three size tiers.
//
// # Description
//
// All three tiers are persisted and independently searchable: coarse chunks
// serve broad-context questions, fine chunks serve precise fact lookup.
// That multiplies the index size by roughly the tier count versus indexing
// only the finest tier; the recall across query styles is worth it and the
// policy must not be quietly narrowed to one tier.
//
// Splitting is hierarchical: the full text is split into coarse chunks,
// each coarse chunk into medium chunks, each medium chunk into fine chunks.
// Every fine chunk's text is therefore a contiguous substring of its parent
// medium chunk. Character spans are tracked against the concatenated page
// text so each chunk maps back to an exact page range, and sibling spans
// are stitched to cover their parent span without gaps, which makes the
// original text exactly reconstructable from any single tier.
package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
)

// pageSeparator joins consecutive page texts in the concatenated document
// text. Chunk spans may cross it; page attribution uses the recorded page
// boundaries, not the separator.
const pageSeparator = "\n\n"

// proseSeparators is the split preference order for academic prose.
var proseSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Page is one page of extracted document text. Number is 1-based.
type Page struct {
	Number int
	Text   string
}

// Config sets the tier sizes in characters and the overlap fraction
// applied to every tier.
type Config struct {
	CoarseSize int
	MediumSize int
	FineSize   int
	Overlap    float64
}

// Chunker produces hierarchical chunks for one configuration. Safe for
// concurrent use; it holds no mutable state.
type Chunker struct {
	cfg Config
}

// New validates the tier ordering and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.CoarseSize <= 0 || cfg.MediumSize <= 0 || cfg.FineSize <= 0 {
		return nil, fmt.Errorf("chunk tier sizes must be positive: %+v", cfg)
	}
	if cfg.FineSize > cfg.MediumSize || cfg.MediumSize > cfg.CoarseSize {
		return nil, fmt.Errorf("chunk tiers must be ordered fine <= medium <= coarse: %+v", cfg)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= 1 {
		return nil, fmt.Errorf("overlap fraction must be in [0,1): %v", cfg.Overlap)
	}
	return &Chunker{cfg: cfg}, nil
}

// span is a located chunk candidate before conversion to the domain type.
type span struct {
	start  int
	end    int
	parent string
}

// Chunk splits the document's pages into chunks at every tier.
//
// # Description
//
// Pages with no extractable text contribute nothing but never abort the
// rest of the document. A document shorter than one coarse chunk yields
// exactly one chunk per tier holding the full text.
//
// # Inputs
//
//   - doc: the owning document; its metadata is stamped onto every chunk.
//   - pages: per-page extracted text in page order.
//
// # Outputs
//
//   - []datatypes.Chunk: all tiers, coarse first, each tier in span order.
//   - error: non-nil only when the underlying splitter fails.
func (c *Chunker) Chunk(doc datatypes.Document, pages []Page) ([]datatypes.Chunk, error) {
	full, bounds := concatenatePages(pages)
	if strings.TrimSpace(full) == "" {
		return nil, nil
	}

	year := 0
	if doc.Metadata.Year != nil {
		year = *doc.Metadata.Year
	}

	coarse, err := c.splitSpan(full, span{start: 0, end: len(full)}, c.cfg.CoarseSize)
	if err != nil {
		return nil, fmt.Errorf("coarse split failed for %s: %w", doc.ID, err)
	}

	var out []datatypes.Chunk
	emit := func(tier datatypes.ChunkTier, spans []span) []string {
		ids := make([]string, len(spans))
		for i, s := range spans {
			id := datatypes.ChunkID(doc.Collection, doc.ID, tier, i)
			ids[i] = id
			out = append(out, datatypes.Chunk{
				ID:         id,
				DocumentID: doc.ID,
				Collection: doc.Collection,
				Tier:       tier,
				Index:      i,
				ParentID:   s.parent,
				Content:    full[s.start:s.end],
				PageStart:  pageAt(bounds, s.start),
				PageEnd:    pageAt(bounds, s.end-1),
				CharStart:  s.start,
				CharEnd:    s.end,
				Authors:    doc.Metadata.Authors,
				Year:       year,
				Title:      doc.Metadata.Title,
				Source:     doc.Source,
			})
		}
		return ids
	}

	coarseIDs := emit(datatypes.TierCoarse, coarse)

	var medium []span
	for i, parent := range coarse {
		children, err := c.splitSpan(full, parent, c.cfg.MediumSize)
		if err != nil {
			return nil, fmt.Errorf("medium split failed for %s: %w", doc.ID, err)
		}
		for _, child := range children {
			child.parent = coarseIDs[i]
			medium = append(medium, child)
		}
	}
	mediumIDs := emit(datatypes.TierMedium, medium)

	var fine []span
	for i, parent := range medium {
		children, err := c.splitSpan(full, parent, c.cfg.FineSize)
		if err != nil {
			return nil, fmt.Errorf("fine split failed for %s: %w", doc.ID, err)
		}
		for _, child := range children {
			child.parent = mediumIDs[i]
			fine = append(fine, child)
		}
	}
	emit(datatypes.TierFine, fine)

	return out, nil
}

// splitSpan splits full[parent.start:parent.end] at the given tier size and
// returns child spans stitched to cover the parent span exactly.
func (c *Chunker) splitSpan(full string, parent span, size int) ([]span, error) {
	text := full[parent.start:parent.end]
	if len(text) <= size {
		return []span{{start: parent.start, end: parent.end}}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(int(float64(size)*c.cfg.Overlap)),
		textsplitter.WithSeparators(proseSeparators),
	)
	pieces, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	spans := locate(text, pieces)
	if len(spans) == 0 {
		return []span{{start: parent.start, end: parent.end}}, nil
	}

	// Stitch: trimmed separators between siblings are folded back into the
	// preceding span so the children cover the parent without gaps.
	spans[0].start = 0
	for i := 0; i < len(spans)-1; i++ {
		if spans[i].end < spans[i+1].start {
			spans[i].end = spans[i+1].start
		}
	}
	spans[len(spans)-1].end = len(text)

	for i := range spans {
		spans[i].start += parent.start
		spans[i].end += parent.start
	}
	return spans, nil
}

// locate finds each piece's character offsets by scanning forward through
// the source text. Pieces arrive in order; the scan position backs up by
// one tier of overlap at most, which a fresh Index from the previous start
// handles.
func locate(text string, pieces []string) []span {
	spans := make([]span, 0, len(pieces))
	searchFrom := 0
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		idx := strings.Index(text[searchFrom:], piece)
		if idx < 0 {
			// Overlapping piece may begin before the previous start.
			idx = strings.Index(text, piece)
			if idx < 0 {
				continue
			}
			spans = append(spans, span{start: idx, end: idx + len(piece)})
			continue
		}
		start := searchFrom + idx
		spans = append(spans, span{start: start, end: start + len(piece)})
		searchFrom = start + 1
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	return spans
}

// pageBound records where one page's text sits in the concatenated string.
type pageBound struct {
	number int
	start  int
	end    int
}

func concatenatePages(pages []Page) (string, []pageBound) {
	var sb strings.Builder
	var bounds []pageBound
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(pageSeparator)
		}
		start := sb.Len()
		sb.WriteString(p.Text)
		bounds = append(bounds, pageBound{number: p.Number, start: start, end: sb.Len()})
	}
	return sb.String(), bounds
}

// pageAt maps a character offset to its 1-based page number. Offsets inside
// a page separator attribute to the preceding page.
func pageAt(bounds []pageBound, offset int) int {
	if len(bounds) == 0 {
		return 0
	}
	for _, b := range bounds {
		if offset < b.start {
			break
		}
		if offset < b.end {
			return b.number
		}
	}
	// Separator gap or trailing offset: closest preceding page.
	last := bounds[0].number
	for _, b := range bounds {
		if offset >= b.start {
			last = b.number
		}
	}
	return last
}
