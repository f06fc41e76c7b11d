package normalisers

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/normalisers/docx"
	"github.com/custodia-labs/planaudit/internal/normalisers/html"
	"github.com/custodia-labs/planaudit/internal/normalisers/markdown"
	"github.com/custodia-labs/planaudit/internal/normalisers/plaintext"
)

// Ensure Registry implements the interface.
var _ driven.TextExtractor = (*Registry)(nil)

// Registry dispatches extraction to the extractor registered for a file type.
type Registry struct {
	byType map[string]driven.TextExtractor
}

// NewRegistry creates a registry. Later extractors win for shared types.
func NewRegistry(extractors ...driven.TextExtractor) *Registry {
	r := &Registry{byType: make(map[string]driven.TextExtractor)}
	for _, e := range extractors {
		r.Register(e)
	}
	return r
}

// Default returns a registry with every built-in extractor.
func Default() *Registry {
	return NewRegistry(
		plaintext.New(),
		markdown.New(),
		html.New(),
		docx.New(),
	)
}

// Register adds e for each of its supported types.
func (r *Registry) Register(e driven.TextExtractor) {
	for _, t := range e.SupportedTypes() {
		r.byType[NormaliseType(t)] = e
	}
}

// SupportedTypes returns every registered file type, sorted.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.byType))
	for t := range r.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Extract returns the text of data. fileType may be an extension or a file name.
// Invalid UTF-8 is replaced and an empty result is an extraction error.
func (r *Registry) Extract(ctx context.Context, data []byte, fileType string) (string, error) {
	t := NormaliseType(fileType)
	e, ok := r.byType[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, fileType)
	}

	text, err := e.Extract(ctx, data, t)
	if err != nil {
		return "", err
	}

	text = strings.TrimSpace(strings.ToValidUTF8(text, "�"))
	if text == "" {
		return "", fmt.Errorf("%w: document has no text", domain.ErrExtraction)
	}
	return text, nil
}

// NormaliseType maps "Plan.DOCX", ".docx" and "docx" to "docx".
func NormaliseType(fileType string) string {
	t := strings.ToLower(strings.TrimSpace(fileType))
	if ext := filepath.Ext(t); ext != "" {
		t = ext
	}
	return strings.TrimPrefix(t, ".")
}
