package driven

import "github.com/custodia-labs/planaudit/internal/core/domain"

// IndexBuilder builds an immutable similarity index over one plan's chunks.
// Every chunk must carry an embedding of the same dimension.
type IndexBuilder interface {
	Build(chunks []domain.Chunk) (domain.Searcher, error)
}
