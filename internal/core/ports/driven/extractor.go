package driven

import "context"

// TextExtractor turns uploaded file bytes into plain text.
// Failures wrap domain.ErrUnsupportedFormat or domain.ErrCorruptFile.
type TextExtractor interface {
	// Extract returns the document text for data of the given file type
	// (an extension such as "docx" or ".txt").
	Extract(ctx context.Context, data []byte, fileType string) (string, error)

	// SupportedTypes returns the file types this extractor handles.
	SupportedTypes() []string
}
