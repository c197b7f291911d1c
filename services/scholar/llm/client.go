// Package llm holds the external model clients: chat completion for answer
// synthesis, embeddings for retrieval, and the cross-encoder reranker.
// All three are remote, rate-limited, occasionally-failing dependencies;
// callers are expected to tolerate transient errors rather than crash.
package llm

import "context"

// GenerationParams carries optional sampling parameters. Nil fields leave
// the provider default in place.
type GenerationParams struct {
	Temperature *float32
	TopP        *float32
	MaxTokens   *int
	Stop        []string
}

// LLMClient generates text from a prompt.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Embedder converts text into embedding vectors. Implementations are
// stateless and shared read-only across concurrent requests.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Reranker scores (query, passage) pairs with a cross-encoder. Scores are
// comparable within one call only.
type Reranker interface {
	Rerank(ctx context.Context, query string, texts []string) ([]float64, error)
}
