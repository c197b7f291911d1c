// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/expansion"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
)

// mockEmbedder routes both single and batch calls through fn.
type mockEmbedder struct {
	fn    func(text string) ([]float32, error)
	calls int
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls++
	return m.fn(text)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type mockReranker struct {
	fn    func(query string, texts []string) ([]float64, error)
	calls int
}

func (m *mockReranker) Rerank(_ context.Context, query string, texts []string) ([]float64, error) {
	m.calls++
	return m.fn(query, texts)
}

// bagOfWords embeds text as hashed token counts so lexical overlap shows
// up as vector similarity.
func bagOfWords(text string) ([]float32, error) {
	vec := make([]float32, 32)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,!?")))
		vec[h.Sum32()%32]++
	}
	return vec, nil
}

func seedStore(t *testing.T) (store.CollectionStore, store.Handle) {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	h, err := s.CreateCollection(ctx, "thesis-1")
	if err != nil {
		t.Fatal(err)
	}

	pageTexts := map[string]struct {
		text string
		page int
	}{
		"chunk-p1": {"Varieties of capitalism shape regional adjustment.", 1},
		"chunk-p2": {"Institutional complementarities matter.", 2},
	}
	for id, entry := range pageTexts {
		vec, _ := bagOfWords(entry.text)
		chunk := datatypes.Chunk{
			ID:         id,
			DocumentID: "doc-thelen",
			Collection: h.Collection,
			Tier:       datatypes.TierFine,
			Content:    entry.text,
			PageStart:  entry.page,
			PageEnd:    entry.page,
			Authors:    "Kathleen Thelen",
			Year:       2012,
			Vector:     vec,
		}
		if err := s.Upsert(ctx, h, []datatypes.Chunk{chunk}); err != nil {
			t.Fatal(err)
		}
	}
	return s, h
}

func newTestEngine(t *testing.T, s store.CollectionStore, embedder *mockEmbedder, reranker *mockReranker, cfg Config) *Engine {
	t.Helper()
	var rr llm.Reranker
	if reranker != nil {
		rr = reranker
	}
	e, err := NewEngine(s, embedder, rr, expansion.New(true, 4), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestSearchRanksLexicallyCloserChunkFirst(t *testing.T) {
	s, h := seedStore(t)
	embedder := &mockEmbedder{fn: bagOfWords}
	e := newTestEngine(t, s, embedder, nil, Config{DefaultK: 5})

	result, err := e.Search(context.Background(), h, "regional adjustment", 5, nil, false, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("no chunks returned")
	}
	if result.Chunks[0].Chunk.PageStart != 1 {
		t.Errorf("page 1 chunk should rank first, got page %d", result.Chunks[0].Chunk.PageStart)
	}
	if result.Degraded {
		t.Error("healthy pipeline must not report degraded mode")
	}
}

func TestSearchDeduplicatesAcrossVariants(t *testing.T) {
	s, h := seedStore(t)
	embedder := &mockEmbedder{fn: bagOfWords}
	e := newTestEngine(t, s, embedder, nil, Config{DefaultK: 5})

	table := expansion.Table{"regional adjustment": {"territorial adaptation"}}
	result, err := e.Search(context.Background(), h, "regional adjustment", 5, nil, false, table)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Variants) != 2 {
		t.Fatalf("expected 2 variants, got %v", result.Variants)
	}

	seen := make(map[string]int)
	for _, c := range result.Chunks {
		seen[c.Chunk.ID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Errorf("chunk %s returned %d times", id, n)
		}
	}
	if embedder.calls != 2 {
		t.Errorf("embedder called %d times, want once per variant", embedder.calls)
	}
}

func TestSearchRerankReorders(t *testing.T) {
	s, h := seedStore(t)
	embedder := &mockEmbedder{fn: bagOfWords}
	reranker := &mockReranker{fn: func(_ string, texts []string) ([]float64, error) {
		// Invert the vector ranking: favor the institutions chunk.
		scores := make([]float64, len(texts))
		for i, text := range texts {
			if strings.Contains(text, "Institutional") {
				scores[i] = 0.95
			} else {
				scores[i] = 0.10
			}
		}
		return scores, nil
	}}
	e := newTestEngine(t, s, embedder, reranker, Config{DefaultK: 5, RerankEnabled: true, CandidateK: 10})

	result, err := e.Search(context.Background(), h, "regional adjustment", 2, nil, true, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if reranker.calls != 1 {
		t.Fatalf("reranker called %d times, want 1", reranker.calls)
	}
	if !strings.Contains(result.Chunks[0].Chunk.Content, "Institutional") {
		t.Errorf("rerank should promote the institutions chunk, got %q", result.Chunks[0].Chunk.Content)
	}
	if result.Chunks[0].Score != 0.95 {
		t.Errorf("rerank score not applied: %v", result.Chunks[0].Score)
	}
}

func TestSearchDegradesWhenRerankerFails(t *testing.T) {
	s, h := seedStore(t)
	embedder := &mockEmbedder{fn: bagOfWords}
	reranker := &mockReranker{fn: func(string, []string) ([]float64, error) {
		return nil, errors.New("model not loaded")
	}}
	e := newTestEngine(t, s, embedder, reranker, Config{DefaultK: 5, RerankEnabled: true, CandidateK: 10})

	result, err := e.Search(context.Background(), h, "regional adjustment", 2, nil, true, nil)
	if err != nil {
		t.Fatalf("Search must not fail when the reranker is down: %v", err)
	}
	if !result.Degraded {
		t.Error("degraded flag should be set")
	}
	if result.Chunks[0].Chunk.PageStart != 1 {
		t.Errorf("vector ranking should hold in degraded mode, got page %d", result.Chunks[0].Chunk.PageStart)
	}
}

func TestSearchSkipsVariantsWhoseEmbeddingFails(t *testing.T) {
	s, h := seedStore(t)
	failFirst := true
	embedder := &mockEmbedder{fn: func(text string) ([]float32, error) {
		if failFirst {
			failFirst = false
			return nil, errors.New("embedding service unavailable")
		}
		return bagOfWords(text)
	}}
	e := newTestEngine(t, s, embedder, nil, Config{DefaultK: 5})

	table := expansion.Table{"regional adjustment": {"territorial adaptation"}}
	result, err := e.Search(context.Background(), h, "regional adjustment", 5, nil, false, table)
	if err != nil {
		t.Fatalf("partial embedding failure must not fail the search: %v", err)
	}
	if !result.Degraded {
		t.Error("degraded flag should be set when a variant is skipped")
	}
	if len(result.Chunks) == 0 {
		t.Error("surviving variant should still return chunks")
	}
}

func TestSearchFailsWhenAllVariantsFail(t *testing.T) {
	s, h := seedStore(t)
	embedder := &mockEmbedder{fn: func(string) ([]float32, error) {
		return nil, errors.New("embedding service unavailable")
	}}
	e := newTestEngine(t, s, embedder, nil, Config{DefaultK: 5})

	_, err := e.Search(context.Background(), h, "regional adjustment", 5, nil, false, nil)
	if err == nil {
		t.Fatal("expected error when every variant fails")
	}
	re, ok := IsRetrievalError(err)
	if !ok {
		t.Fatalf("expected RetrievalError, got %T", err)
	}
	if !re.Retryable {
		t.Error("total dependency failure should be retryable")
	}
}

func TestSearchRespectsFilter(t *testing.T) {
	s, h := seedStore(t)
	embedder := &mockEmbedder{fn: bagOfWords}
	e := newTestEngine(t, s, embedder, nil, Config{DefaultK: 5})

	filter := []datatypes.FilterCondition{{Field: "page_start", Op: datatypes.FilterEq, Value: 2}}
	result, err := e.Search(context.Background(), h, "capitalism", 5, filter, false, nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	for _, c := range result.Chunks {
		if c.Chunk.PageStart != 2 {
			t.Errorf("filter violated: page %d", c.Chunk.PageStart)
		}
	}
}
