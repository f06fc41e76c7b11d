// Package markdown extracts text from Markdown files by walking the goldmark AST.
package markdown

import (
	"bytes"
	"context"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Extractor implements the interface.
var _ driven.TextExtractor = (*Extractor)(nil)

// Extractor handles Markdown documents.
type Extractor struct {
	md goldmark.Markdown
}

// New creates a new Markdown extractor.
func New() *Extractor {
	return &Extractor{md: goldmark.New()}
}

// SupportedTypes returns the file types this extractor handles.
func (e *Extractor) SupportedTypes() []string {
	return []string{"md", "markdown"}
}

// Extract returns the document text with markup removed.
// Block elements are separated by blank lines; fenced code is dropped.
func (e *Extractor) Extract(_ context.Context, data []byte, _ string) (string, error) {
	doc := e.md.Parser().Parse(text.NewReader(data))

	var blocks []string
	var cur bytes.Buffer

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			blocks = append(blocks, s)
		}
		cur.Reset()
	}

	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.Image:
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			if entering {
				cur.Write(node.Segment.Value(data))
				if node.HardLineBreak() || node.SoftLineBreak() {
					cur.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				cur.Write(node.Value)
			}
		case *ast.CodeSpan:
			if entering {
				for c := node.FirstChild(); c != nil; c = c.NextSibling() {
					if t, ok := c.(*ast.Text); ok {
						cur.Write(t.Segment.Value(data))
					}
				}
				return ast.WalkSkipChildren, nil
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				flush()
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	flush()

	return strings.Join(blocks, "\n\n"), nil
}
