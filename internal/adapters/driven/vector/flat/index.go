// Package flat provides an exact, in-memory cosine similarity index.
//
// Vectors are L2-normalised once at build time, so a query costs one dot
// product per chunk. The index is immutable after Build and safe for
// concurrent searches.
package flat

import (
	"fmt"
	"math"
	"sort"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Builder implements the interface.
var _ driven.IndexBuilder = Builder{}

// Ensure Index implements the interface.
var _ domain.Searcher = (*Index)(nil)

// Builder builds flat indexes.
type Builder struct{}

// Build implements driven.IndexBuilder.
func (Builder) Build(chunks []domain.Chunk) (domain.Searcher, error) {
	return Build(chunks)
}

// Index is a brute-force cosine similarity index over one plan's chunks.
type Index struct {
	chunks  []domain.Chunk
	vectors [][]float32
	dim     int
}

// Build creates an index from chunks in O(n). Every chunk must carry an
// embedding and all embeddings must share one dimension.
func Build(chunks []domain.Chunk) (*Index, error) {
	idx := &Index{
		chunks:  make([]domain.Chunk, len(chunks)),
		vectors: make([][]float32, len(chunks)),
	}
	copy(idx.chunks, chunks)

	for i := range chunks {
		v := chunks[i].Embedding
		if len(v) == 0 {
			return nil, fmt.Errorf("%w: chunk %d has no embedding", domain.ErrInvalidArgument, chunks[i].Index)
		}
		if idx.dim == 0 {
			idx.dim = len(v)
		} else if len(v) != idx.dim {
			return nil, fmt.Errorf("%w: chunk %d has dimension %d, want %d",
				domain.ErrInvalidArgument, chunks[i].Index, len(v), idx.dim)
		}
		idx.vectors[i] = NormalizeL2(v)
	}

	return idx, nil
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int {
	return len(idx.chunks)
}

// Dimensions returns the vector size, or 0 for an empty index.
func (idx *Index) Dimensions() int {
	return idx.dim
}

// Search returns the min(topK, Len()) chunks most similar to query, by
// non-increasing cosine similarity. Ties keep chunk order.
func (idx *Index) Search(query []float32, topK int) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidArgument, topK)
	}
	if len(idx.chunks) == 0 {
		return []domain.RetrievalResult{}, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d",
			domain.ErrInvalidArgument, len(query), idx.dim)
	}

	q := NormalizeL2(query)
	results := make([]domain.RetrievalResult, len(idx.vectors))
	for i, v := range idx.vectors {
		results[i] = domain.RetrievalResult{
			Chunk:      idx.chunks[i],
			Similarity: dot(q, v),
		}
	}

	sortResults(results)

	if topK < len(results) {
		results = results[:topK]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// sortResults orders by similarity descending, then by chunk index ascending.
func sortResults(results []domain.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity == results[j].Similarity {
			return results[i].Chunk.Index < results[j].Chunk.Index
		}
		return results[i].Similarity > results[j].Similarity
	})
}

// NormalizeL2 returns a unit-length copy of v. A zero vector is copied unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	n := math.Sqrt(sum)
	if n == 0 {
		copy(out, v)
		return out
	}
	inv := 1.0 / n
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}

// Cosine returns the cosine similarity of a and b, or 0 if either is a zero vector.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: vector length mismatch %d != %d", domain.ErrInvalidArgument, len(a), len(b))
	}
	return dot(NormalizeL2(a), NormalizeL2(b)), nil
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
