// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs the synthesis loop: classify the question, retrieve
// evidence, generate a cited answer, evaluate it, and retry within fixed
// budgets before returning a best-effort result.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianScholar/services/scholar/citations"
	"github.com/AleutianAI/AleutianScholar/services/scholar/datatypes"
	"github.com/AleutianAI/AleutianScholar/services/scholar/expansion"
	"github.com/AleutianAI/AleutianScholar/services/scholar/llm"
	"github.com/AleutianAI/AleutianScholar/services/scholar/retrieval"
	"github.com/AleutianAI/AleutianScholar/services/scholar/store"
)

var tracer = otel.Tracer("scholar/agent")

// State names one step of the synthesis loop. Exposed so callers can
// count transitions.
type State string

const (
	StateClassify      State = "classify"
	StateRetrieve      State = "retrieve"
	StateGenerate      State = "generate"
	StateEvaluate      State = "evaluate"
	StateRetryRetrieve State = "retry_retrieve"
	StateRetryGenerate State = "retry_generate"
	StateDone          State = "done"
	StateFail          State = "fail"
)

// Complexity is the classifier's verdict on a question. It selects the
// initial retrieval depth and the generation token budget.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// Generation token budgets per complexity class.
const (
	simpleMaxTokens  = 512
	mediumMaxTokens  = 1024
	complexMaxTokens = 2048
)

// Config bounds the loop. Retry budgets are hard limits: once spent, the
// loop terminates with whatever it has.
type Config struct {
	MaxRetrievalRetries  int
	MaxGenerationRetries int

	// SufficiencyScore is the minimum top-candidate similarity for the
	// retrieved evidence to count as sufficient grounding.
	SufficiencyScore float64

	// CitationAccuracyMin is the minimum fraction of claimed citations
	// that must verify for the answer to be accepted.
	CitationAccuracyMin float64

	// SimpleMaxLen is the question length (runes) above which a question
	// is at least medium. MediumMaxLen is the length above which it is
	// complex.
	SimpleMaxLen int
	MediumMaxLen int

	// ComplexMinTopics is the clause count at which a question is
	// classified complex regardless of length. Questions with more than
	// one clause but fewer than this are at least medium.
	ComplexMinTopics int

	// DefaultK and ComplexK are the retrieval depths per complexity class.
	DefaultK int
	ComplexK int
}

// Answer is the loop's final product. Failed answers are still returned
// with their evidence so the caller can show a low-confidence result
// instead of nothing.
type Answer struct {
	Text       string                  `json:"text"`
	Sources    []datatypes.ScoredChunk `json:"sources"`
	Citations  []CitationCheck         `json:"citations"`
	Complexity Complexity              `json:"complexity"`
	Confident  bool                    `json:"confident"`
	Degraded   bool                    `json:"degraded"`
	Stats      Stats                   `json:"stats"`
}

// CitationCheck is one claimed citation and its verification outcome.
type CitationCheck struct {
	Author   string `json:"author"`
	Year     int    `json:"year"`
	Page     int    `json:"page"`
	Quote    string `json:"quote,omitempty"`
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// Stats records how the loop ran.
type Stats struct {
	Transitions        []State `json:"transitions"`
	RetrievalAttempts  int     `json:"retrieval_attempts"`
	GenerationAttempts int     `json:"generation_attempts"`
}

// Controller drives the synthesis loop. Safe for concurrent use.
type Controller struct {
	engine   *retrieval.Engine
	client   llm.LLMClient
	verifier *citations.Verifier
	cfg      Config
}

// NewController wires the loop's dependencies.
func NewController(engine *retrieval.Engine, client llm.LLMClient, verifier *citations.Verifier, cfg Config) (*Controller, error) {
	if engine == nil || client == nil || verifier == nil {
		return nil, fmt.Errorf("engine, client, and verifier are required")
	}
	if cfg.SufficiencyScore <= 0 {
		cfg.SufficiencyScore = 0.6
	}
	if cfg.CitationAccuracyMin <= 0 {
		cfg.CitationAccuracyMin = 0.7
	}
	if cfg.SimpleMaxLen <= 0 {
		cfg.SimpleMaxLen = 120
	}
	if cfg.MediumMaxLen <= cfg.SimpleMaxLen {
		cfg.MediumMaxLen = cfg.SimpleMaxLen * 2
	}
	if cfg.ComplexMinTopics <= 0 {
		cfg.ComplexMinTopics = 3
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	if cfg.ComplexK <= cfg.DefaultK {
		cfg.ComplexK = cfg.DefaultK * 2
	}
	return &Controller{engine: engine, client: client, verifier: verifier, cfg: cfg}, nil
}

// Ask runs the loop for one question.
//
// # Description
//
// Classify picks the retrieval depth. Retrieve gathers evidence; when the
// top candidate scores below the sufficiency floor the loop widens the
// search, at most MaxRetrievalRetries times. Generate produces a cited
// answer from the evidence. Evaluate verifies every claimed citation; an
// answer below the citation accuracy floor is regenerated with the failed
// citations listed as feedback, at most MaxGenerationRetries times. When
// a budget runs out the best answer so far is returned with Confident set
// to false.
//
// # Outputs
//
//   - *Answer: always populated on a nil error, even when not confident.
//   - error: retrieval failed entirely, or the context was cancelled.
func (c *Controller) Ask(ctx context.Context, h store.Handle, question string, table expansion.Table) (*Answer, error) {
	ctx, span := tracer.Start(ctx, "agent.Ask")
	defer span.End()

	answer := &Answer{}
	record := func(s State) {
		answer.Stats.Transitions = append(answer.Stats.Transitions, s)
	}

	record(StateClassify)
	answer.Complexity = c.classify(question)
	k := c.cfg.DefaultK
	rerank := false
	switch answer.Complexity {
	case ComplexityMedium:
		k = c.cfg.ComplexK
	case ComplexityComplex:
		k = c.cfg.ComplexK
		rerank = true
	}
	span.SetAttributes(
		attribute.String("collection", h.Collection),
		attribute.String("complexity", string(answer.Complexity)),
	)

	// Retrieval phase. Widen k on insufficient grounding until the budget
	// is spent; the last result is used either way.
	var evidence *retrieval.Result
	for {
		record(StateRetrieve)
		answer.Stats.RetrievalAttempts++
		result, err := c.engine.Search(ctx, h, question, k, nil, rerank, table)
		if err != nil {
			record(StateFail)
			span.RecordError(err)
			return nil, err
		}
		evidence = result
		answer.Degraded = answer.Degraded || result.Degraded

		if c.sufficient(result) {
			break
		}
		if answer.Stats.RetrievalAttempts > c.cfg.MaxRetrievalRetries {
			slog.Warn("Retrieval budget exhausted with insufficient grounding",
				"collection", h.Collection, "attempts", answer.Stats.RetrievalAttempts)
			break
		}
		record(StateRetryRetrieve)
		k *= 2
		rerank = true
	}
	answer.Sources = evidence.Chunks

	// Generation phase. Regenerate with feedback while citation accuracy
	// is below the floor and budget remains. A transient model failure
	// consumes a retry like a bad draft does.
	feedback := ""
	for {
		record(StateGenerate)
		answer.Stats.GenerationAttempts++
		text, err := c.generate(ctx, question, evidence.Chunks, feedback, answer.Complexity)
		if err != nil {
			span.RecordError(err)
			if ctx.Err() != nil {
				record(StateFail)
				return nil, fmt.Errorf("generation failed: %w", err)
			}
			if answer.Stats.GenerationAttempts > c.cfg.MaxGenerationRetries {
				break
			}
			record(StateRetryGenerate)
			slog.Warn("Generation failed, retrying",
				"collection", h.Collection,
				"attempt", answer.Stats.GenerationAttempts,
				"error", err)
			continue
		}
		answer.Text = text

		record(StateEvaluate)
		answer.Citations = c.checkCitations(ctx, text, evidence.Chunks)
		accuracy := citationAccuracy(answer.Citations)

		if c.sufficient(evidence) && accuracy >= c.cfg.CitationAccuracyMin {
			record(StateDone)
			answer.Confident = true
			span.SetAttributes(attribute.Float64("citation_accuracy", accuracy))
			return answer, nil
		}
		if answer.Stats.GenerationAttempts > c.cfg.MaxGenerationRetries {
			break
		}
		if accuracy < c.cfg.CitationAccuracyMin && len(answer.Citations) > 0 {
			record(StateRetryGenerate)
			feedback = citationFeedback(answer.Citations)
			continue
		}
		break
	}

	// Budgets spent. Return what we have, flagged.
	record(StateFail)
	answer.Confident = false
	slog.Info("Synthesis finished without a confident answer",
		"collection", h.Collection,
		"retrieval_attempts", answer.Stats.RetrievalAttempts,
		"generation_attempts", answer.Stats.GenerationAttempts)
	return answer, nil
}

// classify buckets a question by length and clause count.
func (c *Controller) classify(question string) Complexity {
	length := len([]rune(question))
	clauses := countClauses(question)
	switch {
	case length > c.cfg.MediumMaxLen || clauses >= c.cfg.ComplexMinTopics:
		return ComplexityComplex
	case length > c.cfg.SimpleMaxLen || clauses > 1:
		return ComplexityMedium
	default:
		return ComplexitySimple
	}
}

// generationBudget is the output token cap per complexity class.
func generationBudget(cx Complexity) int {
	switch cx {
	case ComplexityComplex:
		return complexMaxTokens
	case ComplexityMedium:
		return mediumMaxTokens
	default:
		return simpleMaxTokens
	}
}

// countClauses approximates how many distinct asks a question contains by
// splitting on coordinating punctuation and conjunctions.
func countClauses(question string) int {
	lowered := strings.ToLower(question)
	for _, sep := range []string{";", ",", " and ", " versus ", " vs ", " compare "} {
		lowered = strings.ReplaceAll(lowered, sep, "\x00")
	}
	count := 0
	for _, part := range strings.Split(lowered, "\x00") {
		if len(strings.Fields(part)) >= 2 {
			count++
		}
	}
	if count == 0 {
		count = 1
	}
	return count
}

// sufficient reports whether the retrieved evidence grounds an answer.
func (c *Controller) sufficient(result *retrieval.Result) bool {
	return len(result.Chunks) > 0 && result.Chunks[0].Score >= c.cfg.SufficiencyScore
}

func (c *Controller) generate(ctx context.Context, question string, evidence []datatypes.ScoredChunk, feedback string, cx Complexity) (string, error) {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered excerpts below. ")
	b.WriteString("Cite every claim as (Author Year, p. N) using the excerpt metadata. ")
	b.WriteString("If the excerpts do not support an answer, say so.\n\n")
	for i, sc := range evidence {
		fmt.Fprintf(&b, "[%d] (%s %d, p. %d) %s\n\n",
			i+1, sc.Chunk.Authors, sc.Chunk.Year, sc.Chunk.PageStart, sc.Chunk.Content)
	}
	if feedback != "" {
		b.WriteString("Your previous draft had citation problems:\n")
		b.WriteString(feedback)
		b.WriteString("\nRewrite the answer keeping only citations supported by the excerpts.\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)

	maxTokens := generationBudget(cx)
	return c.client.Generate(ctx, b.String(), llm.GenerationParams{MaxTokens: &maxTokens})
}

// checkCitations parses claimed citations out of the answer and verifies
// each one. A citation must both verify against the page index and point
// at a document present in the retrieved evidence.
func (c *Controller) checkCitations(ctx context.Context, text string, evidence []datatypes.ScoredChunk) []CitationCheck {
	claims := ParseCitations(text)
	if len(claims) == 0 {
		return nil
	}

	retrieved := make(map[string]bool, len(evidence))
	for _, sc := range evidence {
		retrieved[provenanceKey(sc.Chunk.Authors, sc.Chunk.Year)] = true
	}

	out := make([]CitationCheck, 0, len(claims))
	for _, claim := range claims {
		check := CitationCheck{Author: claim.Author, Year: claim.Year, Page: claim.Page, Quote: claim.Quote}

		if !retrieved[provenanceKey(claim.Author, claim.Year)] {
			check.Reason = "cited source was not among the retrieved evidence"
			out = append(out, check)
			continue
		}

		// Paraphrases carry no quote; the verifier then checks that the
		// cited page exists.
		result, err := c.verifier.Verify(claim.Author, claim.Year, claim.Page, claim.Quote)
		if err != nil {
			check.Reason = fmt.Sprintf("verification error: %v", err)
			out = append(out, check)
			continue
		}
		if ctx.Err() != nil {
			check.Reason = "verification cancelled"
			out = append(out, check)
			continue
		}
		check.Verified = result.Exists
		check.Reason = result.Reason
		out = append(out, check)
	}
	return out
}

func provenanceKey(authors string, year int) string {
	surname := ""
	if parts := datatypes.SplitAuthors(authors); len(parts) > 0 {
		fields := strings.Fields(parts[0])
		if len(fields) > 0 {
			surname = fields[len(fields)-1]
		}
	}
	return strings.ToLower(surname) + "|" + fmt.Sprint(year)
}

// citationAccuracy is the verified fraction. No citations at all counts
// as zero: an answer built from evidence must cite it.
func citationAccuracy(checks []CitationCheck) float64 {
	if len(checks) == 0 {
		return 0
	}
	verified := 0
	for _, c := range checks {
		if c.Verified {
			verified++
		}
	}
	return float64(verified) / float64(len(checks))
}

func citationFeedback(checks []CitationCheck) string {
	var b strings.Builder
	for _, c := range checks {
		if c.Verified {
			continue
		}
		fmt.Fprintf(&b, "- (%s %d, p. %d): %s\n", c.Author, c.Year, c.Page, c.Reason)
	}
	return b.String()
}
