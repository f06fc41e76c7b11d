package driven

import "github.com/custodia-labs/planaudit/internal/core/domain"

// Chunker splits extracted plan text into ordered, overlapping spans.
// Implementations are deterministic: the same text always yields the same spans.
type Chunker interface {
	// Name returns the chunker name for logging.
	Name() string

	// Chunk returns the spans of text. Empty text yields none.
	Chunk(text string) []domain.Span
}
