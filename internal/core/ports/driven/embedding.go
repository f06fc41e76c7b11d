package driven

import "context"

// EmbeddingProvider generates vector embeddings from text.
// It wraps a remote embedding API and is deterministic for identical (model, text) pairs.
//
// Implementations may include:
//   - OpenAI and compatible APIs (text-embedding-3-small, bge-m3 behind vLLM)
//   - Ollama (nomic-embed-text, mxbai-embed-large)
//
// Errors must distinguish domain.ErrProviderAuth from domain.ErrProviderTransient
// and domain.ErrRateLimited so the retry policy can tell them apart.
type EmbeddingProvider interface {
	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size, or 0 when unknown until the first call.
	Dimensions() int

	// ModelName returns the name of the embedding model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// EmbeddingCache stores computed vectors keyed by a hash of (model, normalised text).
// Entries are write-once: Put never replaces an existing key.
// Implementations must be safe for concurrent use.
type EmbeddingCache interface {
	// GetMany returns the cached vectors for the keys that are present.
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)

	// PutMany stores the entries atomically. Existing keys are left untouched.
	PutMany(ctx context.Context, entries map[string][]float32) error

	// Len returns the number of cached vectors.
	Len(ctx context.Context) (int, error)
}

// Throttle paces calls to a rate-limited provider.
type Throttle interface {
	// Wait blocks until a call may be made or ctx is done.
	Wait(ctx context.Context) error

	// Backoff pauses all callers, after the provider rejected a call with a rate limit.
	Backoff(retryAfterSeconds int)
}
