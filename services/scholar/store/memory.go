// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
)

// MemoryStore is a brute-force cosine-similarity CollectionStore used in
// tests and lightweight deployments without a Weaviate instance.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]memoryEntry // collection -> document -> entries
	locks       *docLocks
}

type memoryEntry struct {
	chunk  datatypes.Chunk
	vector []float32
	seq    int
}

var _ CollectionStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]memoryEntry),
		locks:       newDocLocks(),
	}
}

func (s *MemoryStore) CreateCollection(_ context.Context, tenantID string) (Handle, error) {
	h := Default()
	if strings.TrimSpace(tenantID) != "" && tenantID != datatypes.DefaultCollection {
		h = ForJob(tenantID)
	}
	s.mu.Lock()
	if _, ok := s.collections[h.Collection]; !ok {
		s.collections[h.Collection] = make(map[string][]memoryEntry)
	}
	s.mu.Unlock()
	return h, nil
}

func (s *MemoryStore) Upsert(_ context.Context, h Handle, chunks []datatypes.Chunk) error {
	if err := validateChunks(h, chunks); err != nil {
		return err
	}
	byDoc := make(map[string][]datatypes.Chunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for docID, docChunks := range byDoc {
		unlock := s.locks.lock(h, docID)
		s.upsertLocked(h, docID, docChunks, false)
		unlock()
	}
	return nil
}

func (s *MemoryStore) upsertLocked(h Handle, docID string, chunks []datatypes.Chunk, replace bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[h.Collection]
	if !ok {
		docs = make(map[string][]memoryEntry)
		s.collections[h.Collection] = docs
	}

	entries := docs[docID]
	if replace {
		entries = nil
	}
	seq := len(entries)
	for _, c := range chunks {
		replaced := false
		for i := range entries {
			if entries[i].chunk.ID == c.ID {
				entries[i].chunk = c
				entries[i].vector = c.Vector
				replaced = true
				break
			}
		}
		if !replaced {
			entries = append(entries, memoryEntry{chunk: c, vector: c.Vector, seq: seq})
			seq++
		}
	}
	docs[docID] = entries
}

func (s *MemoryStore) Query(_ context.Context, h Handle, vector []float32, k int, filter []datatypes.FilterCondition) ([]datatypes.ScoredChunk, error) {
	if k <= 0 {
		k = 1
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[h.Collection]
	type scored struct {
		entry memoryEntry
		score float64
	}
	var candidates []scored
	for _, entries := range docs {
		for _, e := range entries {
			if !matchesFilter(e.chunk, filter) {
				continue
			}
			candidates = append(candidates, scored{entry: e, score: cosineCertainty(vector, e.vector)})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.seq < candidates[j].entry.seq
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]datatypes.ScoredChunk, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, datatypes.ScoredChunk{Chunk: c.entry.chunk, Score: c.score})
	}
	return out, nil
}

func (s *MemoryStore) DeleteDocument(_ context.Context, h Handle, documentID string) error {
	unlock := s.locks.lock(h, documentID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if docs, ok := s.collections[h.Collection]; ok {
		delete(docs, documentID)
	}
	return nil
}

func (s *MemoryStore) ReplaceDocument(_ context.Context, h Handle, documentID string, chunks []datatypes.Chunk) error {
	if err := validateChunks(h, chunks); err != nil {
		return err
	}
	unlock := s.locks.lock(h, documentID)
	defer unlock()
	s.upsertLocked(h, documentID, chunks, true)
	return nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, h.Collection)
	return nil
}

func matchesFilter(c datatypes.Chunk, filter []datatypes.FilterCondition) bool {
	for _, cond := range filter {
		if !matchesCondition(c, cond) {
			return false
		}
	}
	return true
}

func matchesCondition(c datatypes.Chunk, cond datatypes.FilterCondition) bool {
	switch cond.Field {
	case "document_id", "tier", "authors", "title", "topic", "source":
		want, ok := cond.Value.(string)
		if !ok || cond.Op != datatypes.FilterEq {
			return false
		}
		return stringField(c, cond.Field) == want
	case "year", "page_start", "page_end":
		want, ok := numericValue(cond.Value)
		if !ok {
			return false
		}
		have := float64(intField(c, cond.Field))
		switch cond.Op {
		case datatypes.FilterEq:
			return have == want
		case datatypes.FilterGte:
			return have >= want
		case datatypes.FilterLte:
			return have <= want
		}
	}
	return false
}

func stringField(c datatypes.Chunk, field string) string {
	switch field {
	case "document_id":
		return c.DocumentID
	case "tier":
		return string(c.Tier)
	case "authors":
		return c.Authors
	case "title":
		return c.Title
	case "topic":
		return c.Topic
	case "source":
		return c.Source
	}
	return ""
}

func intField(c datatypes.Chunk, field string) int {
	switch field {
	case "year":
		return c.Year
	case "page_start":
		return c.PageStart
	case "page_end":
		return c.PageEnd
	}
	return 0
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// cosineCertainty mirrors Weaviate's certainty: cosine similarity rescaled
// from [-1,1] into [0,1].
func cosineCertainty(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return (cos + 1) / 2
}
