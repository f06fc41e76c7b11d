// Package chunker splits extracted plan text into boundary-aligned, overlapping spans.
package chunker

import (
	"unicode"
	"unicode/utf8"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Processor implements the interface.
var _ driven.Chunker = (*Processor)(nil)

// DefaultChunkSize is the default number of runes per chunk.
const DefaultChunkSize = 300

// DefaultChunkOverlap is the default number of overlapping runes.
const DefaultChunkOverlap = 50

// boundary ranks, best last.
const (
	noBoundary = iota
	spaceBoundary
	sentenceBoundary
	lineBoundary
	paragraphBoundary
)

// Processor splits text into chunks sized in runes.
// Spans are exact substrings of the input, so they can be mapped back to the source.
type Processor struct {
	chunkSize int
	overlap   int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithChunkSize sets the maximum chunk size in runes.
func WithChunkSize(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.chunkSize = size
		}
	}
}

// WithOverlap sets how many runes of the previous chunk's tail the next chunk repeats.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Overlap must stay below the chunk size
	if p.overlap >= p.chunkSize {
		p.overlap = p.chunkSize / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// ChunkSize returns the maximum chunk size in runes.
func (p *Processor) ChunkSize() int {
	return p.chunkSize
}

// Overlap returns the overlap in runes.
func (p *Processor) Overlap() int {
	return p.overlap
}

// Chunk splits text into ordered spans. Each span ends on the best boundary
// available in its window: paragraph, then line, then sentence, then whitespace.
// Empty text yields no spans; text within the chunk size yields one.
// Each invalid UTF-8 byte counts as one rune and is kept as is.
func (p *Processor) Chunk(text string) []domain.Span {
	if text == "" {
		return nil
	}

	runes, offsets := decode(text)
	n := len(runes)
	if n <= p.chunkSize {
		return []domain.Span{{Text: text, Offset: 0}}
	}

	spans := make([]domain.Span, 0, n/(p.chunkSize-p.overlap)+1)

	start := 0
	for {
		end := start + p.chunkSize
		if end >= n {
			end = n
		} else {
			end = breakPoint(runes, start, end)
		}

		spans = append(spans, domain.Span{
			Text:   text[offsets[start]:offsets[end]],
			Offset: offsets[start],
		})

		if end == n {
			break
		}
		start = p.nextStart(runes, start, end)
	}

	return spans
}

// nextStart picks where the chunk after [start, end) begins.
// It backs up by the overlap, then moves forward to the first boundary in the overlap window.
func (p *Processor) nextStart(runes []rune, start, end int) int {
	if p.overlap == 0 {
		return end
	}

	candidate := end - p.overlap
	if candidate <= start {
		candidate = start + (end-start)/2
		if candidate <= start {
			candidate = start + 1
		}
	}

	firstSpace := -1
	for pos := candidate; pos < end; pos++ {
		switch rank := boundaryRank(runes, start, pos); {
		case rank >= sentenceBoundary:
			return pos
		case rank == spaceBoundary && firstSpace < 0:
			firstSpace = pos
		}
	}
	if firstSpace > 0 {
		return firstSpace
	}
	return candidate
}

// breakPoint returns the end of a chunk starting at start and at most limit.
// Only the second half of the window is searched so chunks stay reasonably full.
func breakPoint(runes []rune, start, limit int) int {
	minEnd := start + (limit-start)/2
	if minEnd <= start {
		minEnd = start + 1
	}

	best, bestRank := limit, noBoundary
	for pos := limit; pos >= minEnd; pos-- {
		rank := boundaryRank(runes, start, pos)
		if rank > bestRank {
			best, bestRank = pos, rank
			if rank == paragraphBoundary {
				break
			}
		}
	}
	return best
}

// boundaryRank classifies the position pos, which sits right after runes[pos-1].
func boundaryRank(runes []rune, start, pos int) int {
	prev := runes[pos-1]
	switch {
	case prev == '\n' && pos-2 >= start && runes[pos-2] == '\n':
		return paragraphBoundary
	case prev == '\n':
		return lineBoundary
	case isSentenceEnd(prev):
		return sentenceBoundary
	case unicode.IsSpace(prev):
		return spaceBoundary
	default:
		return noBoundary
	}
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '。', '！', '？', '；', '.', '!', '?', ';':
		return true
	default:
		return false
	}
}

// decode splits text into runes and the byte offset of each; the extra last
// offset is len(text). Offsets follow the input bytes, so invalid sequences
// advance by the one byte they occupy.
func decode(text string) ([]rune, []int) {
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for pos := 0; pos < len(text); {
		r, size := utf8.DecodeRuneInString(text[pos:])
		runes = append(runes, r)
		offsets = append(offsets, pos)
		pos += size
	}
	return runes, append(offsets, len(text))
}
