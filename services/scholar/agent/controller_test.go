// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianScholar/services/scholar/chunker"
	"github.com/AleutianAI/AleutianScholar/services/scholar/citations"
	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/expansion"
	"github.com/AleutianAI/AleutianScholar/services/scholar/kvstore"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/retrieval"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
)

const thelenQuote = "Varieties of capitalism shape regional adjustment."

// fixedEmbedder returns the same vector for every input, so stored chunks
// with that vector score a certainty of 1.0 and orthogonal chunks 0.5.
type fixedEmbedder struct {
	vec []float32
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, nil
}

func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

// scriptedLLM replays canned responses and records the prompts and token
// budgets it saw. The first `failures` calls error before any response is
// served.
type scriptedLLM struct {
	responses []string
	failures  int
	prompts   []string
	maxTokens []int
}

func (s *scriptedLLM) Generate(_ context.Context, prompt string, params llm.GenerationParams) (string, error) {
	s.prompts = append(s.prompts, prompt)
	if params.MaxTokens != nil {
		s.maxTokens = append(s.maxTokens, *params.MaxTokens)
	}
	if len(s.prompts) <= s.failures {
		return "", errors.New("model temporarily unavailable")
	}
	i := len(s.prompts) - 1 - s.failures
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type fixture struct {
	controller *Controller
	handle     store.Handle
	llm        *scriptedLLM
}

// newFixture seeds one Thelen chunk. aligned controls whether the stored
// vector matches the query embedding (sufficient grounding) or is
// orthogonal to it (insufficient).
func newFixture(t *testing.T, cfg Config, aligned bool, responses ...string) *fixture {
	t.Helper()
	ctx := context.Background()

	queryVec := []float32{1, 0, 0}
	chunkVec := queryVec
	if !aligned {
		chunkVec = []float32{0, 1, 0}
	}

	s := store.NewMemoryStore()
	h, err := s.CreateCollection(ctx, "thesis-1")
	if err != nil {
		t.Fatal(err)
	}
	chunk := datatypes.Chunk{
		ID:         "chunk-1",
		DocumentID: "doc-thelen",
		Collection: h.Collection,
		Tier:       datatypes.TierFine,
		Content:    thelenQuote,
		PageStart:  1,
		PageEnd:    1,
		Authors:    "Kathleen Thelen",
		Year:       2012,
		Vector:     chunkVec,
	}
	if err := s.Upsert(ctx, h, []datatypes.Chunk{chunk}); err != nil {
		t.Fatal(err)
	}

	kv, err := kvstore.OpenInMemory()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	registry := citations.NewRegistry(kv)
	year := 2012
	doc := datatypes.Document{
		ID:         "doc-thelen",
		Collection: h.Collection,
		Metadata:   datatypes.DocumentMetadata{Authors: "Kathleen Thelen", Year: &year, Title: "Varieties of Capitalism"},
	}
	if err := registry.Register(doc, []chunker.Page{{Number: 1, Text: thelenQuote}}); err != nil {
		t.Fatal(err)
	}

	engine, err := retrieval.NewEngine(s, &fixedEmbedder{vec: queryVec}, nil, expansion.New(true, 4), retrieval.Config{DefaultK: 5})
	if err != nil {
		t.Fatal(err)
	}

	client := &scriptedLLM{responses: responses}
	controller, err := NewController(engine, client, citations.NewVerifier(registry, 0.82), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{controller: controller, handle: h, llm: client}
}

func countState(transitions []State, s State) int {
	n := 0
	for _, t := range transitions {
		if t == s {
			n++
		}
	}
	return n
}

func TestAskConfidentAnswer(t *testing.T) {
	goodAnswer := `Thelen argues that "Varieties of capitalism shape regional adjustment." (Thelen 2012, p. 1)`
	f := newFixture(t, Config{MaxRetrievalRetries: 1, MaxGenerationRetries: 1}, true, goodAnswer)

	answer, err := f.controller.Ask(context.Background(), f.handle, "How do varieties of capitalism shape adjustment?", nil)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !answer.Confident {
		t.Errorf("answer should be confident: %+v", answer.Stats)
	}
	if len(answer.Citations) != 1 || !answer.Citations[0].Verified {
		t.Errorf("citations = %+v", answer.Citations)
	}
	if len(answer.Sources) == 0 {
		t.Error("sources missing")
	}
	last := answer.Stats.Transitions[len(answer.Stats.Transitions)-1]
	if last != StateDone {
		t.Errorf("final state = %s, want done", last)
	}
	if answer.Stats.RetrievalAttempts != 1 || answer.Stats.GenerationAttempts != 1 {
		t.Errorf("stats = %+v", answer.Stats)
	}
	if len(f.llm.maxTokens) != 1 || f.llm.maxTokens[0] != simpleMaxTokens {
		t.Errorf("token budgets = %v, want [%d]", f.llm.maxTokens, simpleMaxTokens)
	}
}

func TestAskRetriesRetrievalExactlyOnceOnWeakGrounding(t *testing.T) {
	// Orthogonal vectors hold the top score at 0.5, below the 0.6 floor,
	// no matter how wide the search gets. With a budget of one the loop
	// must retry retrieval exactly once and then settle.
	f := newFixture(t, Config{MaxRetrievalRetries: 1, MaxGenerationRetries: 1}, false,
		"The evidence does not support a confident answer.")

	answer, err := f.controller.Ask(context.Background(), f.handle, "How do varieties of capitalism shape adjustment?", nil)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if answer.Confident {
		t.Error("weakly grounded answer must not be confident")
	}
	if n := countState(answer.Stats.Transitions, StateRetryRetrieve); n != 1 {
		t.Errorf("retry_retrieve count = %d, want 1", n)
	}
	if answer.Stats.RetrievalAttempts != 2 {
		t.Errorf("retrieval attempts = %d, want 2", answer.Stats.RetrievalAttempts)
	}
	last := answer.Stats.Transitions[len(answer.Stats.Transitions)-1]
	if last != StateFail {
		t.Errorf("final state = %s, want fail", last)
	}
	if answer.Text == "" {
		t.Error("best-effort text must still be returned")
	}
}

func TestAskRegeneratesOnFailedCitations(t *testing.T) {
	badAnswer := `Thelen shows this clearly (Thelen 2012, p. 99).`
	goodAnswer := `Thelen argues that "Varieties of capitalism shape regional adjustment." (Thelen 2012, p. 1)`
	f := newFixture(t, Config{MaxRetrievalRetries: 1, MaxGenerationRetries: 1}, true, badAnswer, goodAnswer)

	answer, err := f.controller.Ask(context.Background(), f.handle, "How do varieties of capitalism shape adjustment?", nil)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !answer.Confident {
		t.Errorf("corrected answer should be confident: %+v", answer.Stats)
	}
	if answer.Stats.GenerationAttempts != 2 {
		t.Errorf("generation attempts = %d, want 2", answer.Stats.GenerationAttempts)
	}
	if n := countState(answer.Stats.Transitions, StateRetryGenerate); n != 1 {
		t.Errorf("retry_generate count = %d, want 1", n)
	}
	if len(f.llm.prompts) != 2 || !strings.Contains(f.llm.prompts[1], "citation problems") {
		t.Error("regeneration prompt should carry the citation feedback")
	}
}

func TestAskFailsAfterGenerationBudget(t *testing.T) {
	badAnswer := `Thelen shows this clearly (Thelen 2012, p. 99).`
	f := newFixture(t, Config{MaxRetrievalRetries: 1, MaxGenerationRetries: 1}, true, badAnswer)

	answer, err := f.controller.Ask(context.Background(), f.handle, "How do varieties of capitalism shape adjustment?", nil)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if answer.Confident {
		t.Error("answer with unverifiable citations must not be confident")
	}
	if answer.Stats.GenerationAttempts != 2 {
		t.Errorf("generation attempts = %d, want 2", answer.Stats.GenerationAttempts)
	}
	if answer.Text == "" {
		t.Error("best-effort text must still be returned")
	}
}

func TestAskRetriesGenerationAfterModelError(t *testing.T) {
	goodAnswer := `Thelen argues that "Varieties of capitalism shape regional adjustment." (Thelen 2012, p. 1)`
	f := newFixture(t, Config{MaxRetrievalRetries: 1, MaxGenerationRetries: 1}, true, goodAnswer)
	f.llm.failures = 1

	answer, err := f.controller.Ask(context.Background(), f.handle, "How do varieties of capitalism shape adjustment?", nil)
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if !answer.Confident {
		t.Errorf("answer after a transient model failure should be confident: %+v", answer.Stats)
	}
	if answer.Stats.GenerationAttempts != 2 {
		t.Errorf("generation attempts = %d, want 2", answer.Stats.GenerationAttempts)
	}
	if n := countState(answer.Stats.Transitions, StateRetryGenerate); n != 1 {
		t.Errorf("retry_generate count = %d, want 1", n)
	}
}

func TestAskReturnsLowConfidenceWhenModelKeepsFailing(t *testing.T) {
	f := newFixture(t, Config{MaxRetrievalRetries: 1, MaxGenerationRetries: 1}, true, "unused")
	f.llm.failures = 10

	answer, err := f.controller.Ask(context.Background(), f.handle, "How do varieties of capitalism shape adjustment?", nil)
	if err != nil {
		t.Fatalf("a failing model must yield a structured answer, got error: %v", err)
	}
	if answer.Confident {
		t.Error("answer must not be confident when every generation failed")
	}
	if answer.Stats.GenerationAttempts != 2 {
		t.Errorf("generation attempts = %d, want 2", answer.Stats.GenerationAttempts)
	}
	last := answer.Stats.Transitions[len(answer.Stats.Transitions)-1]
	if last != StateFail {
		t.Errorf("final state = %s, want fail", last)
	}
}

func TestClassify(t *testing.T) {
	c := &Controller{cfg: Config{SimpleMaxLen: 120, MediumMaxLen: 240, ComplexMinTopics: 3}}

	tests := []struct {
		name     string
		question string
		want     Complexity
	}{
		{"short factual", "What year did Thelen publish?", ComplexitySimple},
		{"medium length", strings.Repeat("How do coordinated market economies respond? ", 4), ComplexityMedium},
		{"two topics", "Compare dualization in Germany, liberalization in the US", ComplexityMedium},
		{"long question", strings.Repeat("How do coordinated market economies respond? ", 6), ComplexityComplex},
		{"multi topic", "Compare dualization in Germany, liberalization in the US, and embedded flexibilization in Denmark", ComplexityComplex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.classify(tt.question); got != tt.want {
				t.Errorf("classify(%q) = %s, want %s", tt.question, got, tt.want)
			}
		})
	}
}

func TestGenerationBudgetFollowsComplexity(t *testing.T) {
	tests := []struct {
		cx   Complexity
		want int
	}{
		{ComplexitySimple, simpleMaxTokens},
		{ComplexityMedium, mediumMaxTokens},
		{ComplexityComplex, complexMaxTokens},
	}
	for _, tt := range tests {
		if got := generationBudget(tt.cx); got != tt.want {
			t.Errorf("generationBudget(%s) = %d, want %d", tt.cx, got, tt.want)
		}
	}
}

func TestParseCitations(t *testing.T) {
	text := `Thelen argues that "institutions evolve gradually" (Thelen 2012, p. 14). ` +
		`Later work extends this to service economies (Thelen 2014, p. 3).`

	claims := ParseCitations(text)
	if len(claims) != 2 {
		t.Fatalf("len = %d, want 2", len(claims))
	}
	first := claims[0]
	if first.Author != "Thelen" || first.Year != 2012 || first.Page != 14 {
		t.Errorf("first claim = %+v", first)
	}
	if first.Quote != "institutions evolve gradually" {
		t.Errorf("quote = %q", first.Quote)
	}
	second := claims[1]
	if second.Quote != "" {
		t.Errorf("paraphrase must not carry a quote, got %q", second.Quote)
	}
	if !strings.Contains(second.Context, "service economies") {
		t.Errorf("context = %q", second.Context)
	}
}

func TestParseCitationsNone(t *testing.T) {
	if claims := ParseCitations("No citations here."); claims != nil {
		t.Errorf("claims = %+v", claims)
	}
}
