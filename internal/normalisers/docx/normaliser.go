// Package docx extracts text from Word (.docx) documents.
package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.TextExtractor = (*Extractor)(nil)

// documentPart is the main body of a DOCX package.
const documentPart = "word/document.xml"

// Extractor handles DOCX documents.
type Extractor struct{}

// New creates a new DOCX extractor.
func New() *Extractor {
	return &Extractor{}
}

// SupportedTypes returns the file types this extractor handles.
func (e *Extractor) SupportedTypes() []string {
	return []string{"docx"}
}

// Extract returns body paragraphs followed by table cell texts, one per line.
func (e *Extractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: not a docx package: %v", domain.ErrCorruptFile, err)
	}

	content, err := readPart(reader, documentPart)
	if err != nil {
		return "", err
	}

	paragraphs, cells, err := parseDocumentXML(content)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", domain.ErrCorruptFile, documentPart, err)
	}

	return strings.Join(append(paragraphs, cells...), "\n"), nil
}

func readPart(reader *zip.Reader, name string) ([]byte, error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: opening %s: %v", domain.ErrCorruptFile, name, err)
		}
		defer rc.Close()

		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrCorruptFile, name, err)
		}
		return content, nil
	}
	return nil, fmt.Errorf("%w: missing %s", domain.ErrCorruptFile, name)
}

// parseDocumentXML walks word/document.xml. Paragraphs outside tables are
// returned in order; paragraphs inside a table cell are joined into that cell.
// Blank paragraphs and cells are dropped.
func parseDocumentXML(content []byte) (paragraphs, cells []string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(content))

	var (
		para      strings.Builder
		cell      []string
		inText    bool
		tableDeep int
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				tableDeep++
			case "p":
				para.Reset()
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br", "cr":
				para.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				tableDeep--
			case "t":
				inText = false
			case "p":
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if tableDeep > 0 {
					cell = append(cell, text)
				} else {
					paragraphs = append(paragraphs, text)
				}
			case "tc":
				if text := strings.TrimSpace(strings.Join(cell, "\n")); text != "" {
					cells = append(cells, text)
				}
				cell = nil
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}

	return paragraphs, cells, nil
}
