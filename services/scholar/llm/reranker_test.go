// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPRerankerScoresDocuments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req rerankRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Query != "regional adjustment" || len(req.Documents) != 2 {
			t.Errorf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.9, 0.2}})
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, "BAAI/bge-reranker-base")
	scores, err := r.Rerank(context.Background(), "regional adjustment", []string{"a", "b"})
	if err != nil {
		t.Fatalf("Rerank failed: %v", err)
	}
	if len(scores) != 2 || scores[0] != 0.9 || scores[1] != 0.2 {
		t.Errorf("scores = %v", scores)
	}
}

func TestHTTPRerankerScoreCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(rerankResponse{Scores: []float64{0.5}})
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, "")
	if _, err := r.Rerank(context.Background(), "q", []string{"a", "b"}); err == nil {
		t.Error("expected error on score count mismatch")
	}
}

func TestHTTPRerankerServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewHTTPReranker(server.URL, "")
	if _, err := r.Rerank(context.Background(), "q", []string{"a"}); err == nil {
		t.Error("expected error on 503 response")
	}
}

func TestHTTPRerankerEmptyInput(t *testing.T) {
	r := NewHTTPReranker("http://unused", "")
	scores, err := r.Rerank(context.Background(), "q", nil)
	if err != nil || scores != nil {
		t.Errorf("empty input should be a no-op, got %v, %v", scores, err)
	}
}
