// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"
)

// DefaultCollection is the shared corpus every deployment starts with.
// Job-scoped collections are created on demand, one per tenant.
const DefaultCollection = "default"

// ChunkTier identifies one of the hierarchical chunk granularities.
type ChunkTier string

const (
	// TierCoarse holds broad-context spans (~2048 chars by default).
	TierCoarse ChunkTier = "coarse"

	// TierMedium holds section-sized spans (~1024 chars by default).
	TierMedium ChunkTier = "medium"

	// TierFine holds fact-lookup spans (~512 chars by default).
	TierFine ChunkTier = "fine"
)

// AllTiers lists the hierarchy tiers from coarsest to finest. Every tier is
// persisted and independently searchable; indexing only the finest tier
// would shrink the index but costs recall on broad-context questions.
var AllTiers = []ChunkTier{TierCoarse, TierMedium, TierFine}

// Document is an ingested source document scoped to one collection.
//
// Created at ingestion, immutable afterwards except for metadata
// normalization. Deleting a document cascades to all of its chunks.
type Document struct {
	ID         string           `json:"id"`
	Collection string           `json:"collection"`
	Metadata   DocumentMetadata `json:"metadata"`
	Source     string           `json:"source"`
	PageCount  int              `json:"page_count"`
	StorageKey string           `json:"storage_key,omitempty"`
}

// Chunk is a contiguous text span of a document at one hierarchy tier.
//
// # Fields
//
//   - ID: deterministic UUID derived from (collection, document, tier, index)
//   - ParentID: chunk at the next-coarser tier containing this span,
//     empty at the coarsest tier
//   - PageStart/PageEnd: 1-based page range the span was drawn from
//   - CharStart/CharEnd: character offsets into the concatenated page text
//
// Chunks are immutable once embedded; re-ingestion deletes the old
// generation and writes a new one.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Collection string    `json:"collection"`
	Tier       ChunkTier `json:"tier"`
	Index      int       `json:"chunk_index"`
	ParentID   string    `json:"parent_id,omitempty"`
	Content    string    `json:"content"`
	PageStart  int       `json:"page_start"`
	PageEnd    int       `json:"page_end"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	Authors    string    `json:"authors,omitempty"`
	Year       int       `json:"year,omitempty"`
	Title      string    `json:"title,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Source     string    `json:"source,omitempty"`
	Vector     []float32 `json:"-"`
}

// ChunkID derives the deterministic UUID for a chunk position. Re-ingesting
// the same document overwrites the same object IDs instead of accumulating
// duplicates.
func ChunkID(collection, documentID string, tier ChunkTier, index int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", collection, documentID, tier, index)))
	id, err := uuid.FromBytes(sum[:16])
	if err != nil {
		// uuid.FromBytes only fails on wrong slice length.
		panic(fmt.Sprintf("ChunkID: %v", err))
	}
	return id.String()
}

// ScoredChunk pairs a retrieved chunk with its ranking score. Score is a
// similarity in [0,1] (vector certainty, or a cross-encoder score after
// reranking).
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// =============================================================================
// Query Filters
// =============================================================================

// FilterOp is a comparison operator for a metadata filter condition.
type FilterOp string

const (
	FilterEq  FilterOp = "eq"
	FilterGte FilterOp = "gte"
	FilterLte FilterOp = "lte"
)

// FilterCondition constrains one chunk metadata field. Conditions in a
// filter set are combined with AND semantics; an unmatched value yields an
// empty result, not an error.
type FilterCondition struct {
	Field string   `json:"field"`
	Op    FilterOp `json:"op"`
	Value any      `json:"value"`
}
