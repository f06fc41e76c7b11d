package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// DefaultBatchSize is the number of texts sent in one provider call.
const DefaultBatchSize = 32

// batchErrorTextLen bounds each text quoted in a BatchError.
const batchErrorTextLen = 40

// NormalizeText is the form of text that cache keys and provider calls use:
// Unicode NFKC, trimmed, with internal whitespace runs collapsed to one space.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(norm.NFKC.String(text)), " ")
}

// CacheKey returns the embedding cache key of text under model.
func CacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + NormalizeText(text)))
	return hex.EncodeToString(sum[:])
}

// CachedEmbedder embeds texts through a write-once cache.
// Hits never reach the provider; misses are deduplicated, batched, paced and retried.
type CachedEmbedder struct {
	provider  driven.EmbeddingProvider
	cache     driven.EmbeddingCache
	throttle  driven.Throttle
	retry     *RetryPolicy
	batchSize int
}

// EmbedderOption configures a CachedEmbedder.
type EmbedderOption func(*CachedEmbedder)

// WithThrottle paces provider calls.
func WithThrottle(t driven.Throttle) EmbedderOption {
	return func(e *CachedEmbedder) {
		e.throttle = t
	}
}

// WithRetryPolicy sets the retry policy for provider calls.
func WithRetryPolicy(p *RetryPolicy) EmbedderOption {
	return func(e *CachedEmbedder) {
		if p != nil {
			e.retry = p
		}
	}
}

// WithBatchSize bounds the texts sent per provider call.
func WithBatchSize(n int) EmbedderOption {
	return func(e *CachedEmbedder) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// NewCachedEmbedder creates an embedder over provider and cache.
func NewCachedEmbedder(provider driven.EmbeddingProvider, cache driven.EmbeddingCache, opts ...EmbedderOption) *CachedEmbedder {
	e := &CachedEmbedder{
		provider:  provider,
		cache:     cache,
		retry:     NewRetryPolicy(domain.DefaultAppSettings().Retry),
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Model returns the provider's model name.
func (e *CachedEmbedder) Model() string {
	return e.provider.ModelName()
}

// Dimensions returns the provider's vector size, or 0 when not yet known.
func (e *CachedEmbedder) Dimensions() int {
	return e.provider.Dimensions()
}

// CacheLen returns the number of cached vectors.
func (e *CachedEmbedder) CacheLen(ctx context.Context) (int, error) {
	return e.cache.Len(ctx)
}

// EmbedMany returns one vector per text, in input order.
// When a batch fails after all retries the error is a *domain.BatchError
// naming that batch's texts, and nothing from that batch is cached.
func (e *CachedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	model := e.provider.ModelName()
	keys := make([]string, len(texts))
	normalized := make(map[string]string, len(texts))
	var unique []string
	for i, t := range texts {
		n := NormalizeText(t)
		if n == "" {
			return nil, fmt.Errorf("%w: text %d is empty", domain.ErrInvalidArgument, i)
		}
		keys[i] = CacheKey(model, t)
		if _, seen := normalized[keys[i]]; !seen {
			normalized[keys[i]] = n
			unique = append(unique, keys[i])
		}
	}

	vectors, err := e.cache.GetMany(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("read embedding cache: %w", err)
	}
	if vectors == nil {
		vectors = make(map[string][]float32, len(unique))
	}

	var misses []string
	for _, k := range unique {
		if _, ok := vectors[k]; !ok {
			misses = append(misses, k)
		}
	}
	logger.Debug("Embedding %d text(s): %d unique, %d cache miss(es)", len(texts), len(unique), len(misses))

	for start := 0; start < len(misses); start += e.batchSize {
		end := min(start+e.batchSize, len(misses))
		batchKeys := misses[start:end]
		batch := make([]string, len(batchKeys))
		for i, k := range batchKeys {
			batch[i] = normalized[k]
		}

		got, err := e.embedBatch(ctx, batch)
		if err != nil {
			return nil, err
		}

		entries := make(map[string][]float32, len(batchKeys))
		for i, k := range batchKeys {
			entries[k] = got[i]
			vectors[k] = got[i]
		}
		if err := e.cache.PutMany(ctx, entries); err != nil {
			logger.Warn("Failed to cache %d embedding(s): %v", len(entries), err)
		}
	}

	out := make([][]float32, len(texts))
	for i, k := range keys {
		out[i] = vectors[k]
	}
	return out, nil
}

// embedBatch sends one batch through the throttle and retry policy.
func (e *CachedEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	defer logger.Timed(fmt.Sprintf("embed batch of %d", len(batch)))()

	var out [][]float32
	attempts, err := e.retry.Do(ctx, "embed batch", func(ctx context.Context) error {
		if e.throttle != nil {
			if err := e.throttle.Wait(ctx); err != nil {
				return err
			}
		}

		vecs, err := e.provider.EmbedBatch(ctx, batch)
		if err != nil {
			if e.throttle != nil && errors.Is(err, domain.ErrRateLimited) {
				e.throttle.Backoff(retryAfterSeconds(err))
			}
			return err
		}
		if err := e.validate(batch, vecs); err != nil {
			return err
		}
		out = vecs
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		texts := make([]string, len(batch))
		for i, t := range batch {
			texts[i] = domain.Truncate(t, batchErrorTextLen)
		}
		return nil, &domain.BatchError{Texts: texts, Attempts: attempts, Err: err}
	}
	return out, nil
}

func (e *CachedEmbedder) validate(batch []string, vecs [][]float32) error {
	if len(vecs) != len(batch) {
		return fmt.Errorf("%w: got %d vectors for %d texts", domain.ErrMalformedResponse, len(vecs), len(batch))
	}

	dim := e.provider.Dimensions()
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: empty vector at %d", domain.ErrMalformedResponse, i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d", domain.ErrMalformedResponse, i, len(v), dim)
		}
	}
	return nil
}

func retryAfterSeconds(err error) int {
	var hint *domain.RetryHint
	if errors.As(err, &hint) {
		return int(math.Ceil(hint.After.Seconds()))
	}
	return 0
}
