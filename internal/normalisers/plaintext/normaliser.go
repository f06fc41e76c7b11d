// Package plaintext extracts text from plain text files.
package plaintext

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.TextExtractor = (*Extractor)(nil)

// utf8BOM is stripped from the start of a file.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Extractor handles plain text files.
type Extractor struct{}

// New creates a new plain text extractor.
func New() *Extractor {
	return &Extractor{}
}

// SupportedTypes returns the file types this extractor handles.
func (e *Extractor) SupportedTypes() []string {
	return []string{"txt", "text"}
}

// Extract returns the file content with line endings normalised to \n.
// Content that is not valid UTF-8 is decoded as GB18030, the common legacy
// encoding of Chinese plan documents.
func (e *Extractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	text := string(data)
	if !utf8.Valid(data) {
		if decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(data); err == nil {
			text = string(decoded)
		}
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text, nil
}
