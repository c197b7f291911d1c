// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval implements multi-level retrieval: term expansion,
// per-variant vector search, candidate merging, and optional cross-encoder
// reranking, all scoped to one tenant collection.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/expansion"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
)

var tracer = otel.Tracer("scholar/retrieval")

// RetrievalError is a typed failure from the retrieval pipeline.
//
// # Fields
//
//   - StatusCode: HTTP-style code for the handler layer.
//   - Message: human-readable description.
//   - Retryable: whether the caller may retry the operation.
type RetrievalError struct {
	StatusCode int
	Message    string
	Retryable  bool
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval error (status %d, retryable %v): %s", e.StatusCode, e.Retryable, e.Message)
}

// IsRetrievalError reports whether err is a RetrievalError, returning it
// for inspection.
func IsRetrievalError(err error) (*RetrievalError, bool) {
	re, ok := err.(*RetrievalError)
	return re, ok
}

// Config tunes the engine. CandidateK is the per-variant candidate pool
// fetched when reranking is enabled.
type Config struct {
	DefaultK      int
	RerankEnabled bool
	CandidateK    int
}

// Result is a ranked retrieval outcome. Degraded is set when a dependency
// failure forced a fallback (reranker down, or some query variants
// skipped); the chunks are still usable.
type Result struct {
	Chunks   []datatypes.ScoredChunk
	Variants []string
	Degraded bool
}

// Engine executes searches against a collection store.
//
// # Thread Safety
//
// Safe for concurrent use; the engine holds only immutable configuration
// and stateless clients.
type Engine struct {
	store    store.CollectionStore
	embedder llm.Embedder
	reranker llm.Reranker
	expander *expansion.Expander
	cfg      Config
}

// NewEngine wires the retrieval dependencies. reranker may be nil when
// reranking is disabled deployment-wide.
func NewEngine(s store.CollectionStore, embedder llm.Embedder, reranker llm.Reranker, expander *expansion.Expander, cfg Config) (*Engine, error) {
	if s == nil || embedder == nil || expander == nil {
		return nil, fmt.Errorf("store, embedder, and expander are required")
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	if cfg.CandidateK < cfg.DefaultK {
		cfg.CandidateK = cfg.DefaultK
	}
	return &Engine{store: s, embedder: embedder, reranker: reranker, expander: expander, cfg: cfg}, nil
}

// Search runs the full retrieval pipeline for one question.
//
// # Description
//
// Expands the question into variants, embeds each variant and queries the
// collection, merges candidates de-duplicated by chunk identity in
// first-variant-then-insertion order, and ranks: by cross-encoder score
// when rerank is requested and the reranker is healthy, otherwise by
// vector certainty. Reranking is the only step permitted to reorder
// candidates relative to the vector ranking.
//
// # Inputs
//
//   - h: tenant collection handle.
//   - question: the natural-language query.
//   - k: result count; 0 falls back to the configured default.
//   - filter: AND-combined metadata conditions.
//   - rerank: request cross-encoder reranking for this call.
//   - table: the collection's term expansion table (nil for none).
//
// # Outputs
//
//   - *Result: ranked chunks, the variants used, and the degraded flag.
//   - error: *RetrievalError when nothing could be retrieved at all.
func (e *Engine) Search(ctx context.Context, h store.Handle, question string, k int, filter []datatypes.FilterCondition, rerank bool, table expansion.Table) (*Result, error) {
	ctx, span := tracer.Start(ctx, "retrieval.Search")
	defer span.End()

	if k <= 0 {
		k = e.cfg.DefaultK
	}
	rerank = rerank && e.cfg.RerankEnabled && e.reranker != nil

	fetchK := k
	if rerank && e.cfg.CandidateK > k {
		fetchK = e.cfg.CandidateK
	}

	variants := e.expander.Expand(question, table)
	span.SetAttributes(
		attribute.String("collection", h.Collection),
		attribute.Int("k", k),
		attribute.Int("variants", len(variants)),
		attribute.Bool("rerank", rerank),
	)

	candidates, degraded, err := e.gatherCandidates(ctx, h, variants, fetchK, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if rerank {
		reranked, err := e.rerankCandidates(ctx, question, candidates)
		if err != nil {
			slog.Warn("Reranker unavailable, degrading to vector-only ranking",
				"collection", h.Collection, "error", err)
			degraded = true
		} else {
			candidates = reranked
		}
	}
	if !rerank || degraded {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Score > candidates[j].Score
		})
	}

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	span.SetAttributes(attribute.Int("results", len(candidates)), attribute.Bool("degraded", degraded))
	return &Result{Chunks: candidates, Variants: variants, Degraded: degraded}, nil
}

// gatherCandidates embeds each variant and merges the per-variant result
// sets, de-duplicating by chunk ID. A variant whose embedding fails is
// skipped (degraded mode); only a fully empty pipeline is an error.
func (e *Engine) gatherCandidates(ctx context.Context, h store.Handle, variants []string, fetchK int, filter []datatypes.FilterCondition) ([]datatypes.ScoredChunk, bool, error) {
	var merged []datatypes.ScoredChunk
	seen := make(map[string]bool)
	degraded := false
	failures := 0

	for _, variant := range variants {
		vector, err := e.embedder.Embed(ctx, variant)
		if err != nil {
			slog.Warn("Embedding failed for query variant, skipping", "variant", variant, "error", err)
			degraded = true
			failures++
			continue
		}

		results, err := e.store.Query(ctx, h, vector, fetchK, filter)
		if err != nil {
			slog.Warn("Collection query failed for variant, skipping", "variant", variant, "error", err)
			degraded = true
			failures++
			continue
		}
		for _, r := range results {
			if seen[r.Chunk.ID] {
				continue
			}
			seen[r.Chunk.ID] = true
			merged = append(merged, r)
		}
	}

	if failures == len(variants) {
		return nil, true, &RetrievalError{
			StatusCode: 503,
			Message:    "all query variants failed: embedding service or collection store unavailable",
			Retryable:  true,
		}
	}
	return merged, degraded, nil
}

func (e *Engine) rerankCandidates(ctx context.Context, question string, candidates []datatypes.ScoredChunk) ([]datatypes.ScoredChunk, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Content
	}

	scores, err := e.reranker.Rerank(ctx, question, texts)
	if err != nil {
		return nil, err
	}

	reranked := make([]datatypes.ScoredChunk, len(candidates))
	for i, c := range candidates {
		reranked[i] = datatypes.ScoredChunk{Chunk: c.Chunk, Score: scores[i]}
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})
	return reranked, nil
}
