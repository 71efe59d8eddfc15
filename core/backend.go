package core

import "context"

// PromptRequest is the opaque payload handed to a model backend. Prompt
// construction details live in the orchestrator; backends only need the
// final strings plus basic generation controls.
type PromptRequest struct {
	Role        string  // "junior" or "senior", for logging and model routing
	System      string  // system / instruction block
	Prompt      string  // user-visible prompt body
	Temperature float64 // 0 means backend default
	MaxTokens   int     // 0 means backend default
}

// ModelBackend is the narrow contract with an inference provider: prompt in,
// raw text out. Calls may fail with a timeout or backend error; callers own
// retries and output parsing.
type ModelBackend interface {
	Invoke(ctx context.Context, req PromptRequest) (string, error)
}

// Embedder turns text into a similarity-search vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher performs nearest-neighbour lookup over one retention tier.
type Searcher interface {
	Search(ctx context.Context, tier Tier, vector []float32, k int) ([]RetrievalHit, error)
}

// Reranker reorders candidate hits by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RetrievalHit) ([]RetrievalHit, error)
}
