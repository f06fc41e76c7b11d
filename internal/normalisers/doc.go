// Package normalisers turns uploaded plan files into plain text.
// Each sub-package extracts text from one family of file types; the
// Registry picks the extractor by file type.
package normalisers
