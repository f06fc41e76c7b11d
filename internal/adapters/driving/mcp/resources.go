package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

const (
	// URIScheme is the custom URI scheme for planaudit resources.
	uriScheme = "planaudit://"
)

// ruleInfo is the resource form of a catalog rule.
type ruleInfo struct {
	Category string `json:"category"`
	Sequence string `json:"sequence"`
	Scenario string `json:"scenario"`
	Severity string `json:"severity,omitempty"`
}

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	// Static resource for the whole catalog.
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "catalog",
		Name:        "catalog",
		Description: "Defect catalog used by full_audit",
		MIMEType:    "application/json",
	}, s.handleCatalogResource)

	// Template for one category of the catalog.
	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "catalog/{category}",
		Name:        "catalog-category",
		Description: "Defect rules of one catalog category",
		MIMEType:    "application/json",
	}, s.handleCategoryResource)
}

// handleCatalogResource returns every catalog rule.
func (s *Server) handleCatalogResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	return catalogResult(req.Params.URI, s.ports.Audit.Catalog().Rules())
}

// handleCategoryResource returns the rules of one category.
func (s *Server) handleCategoryResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	category := extractCategory(req.Params.URI)
	if category == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	rules := s.ports.Audit.Catalog().Filter([]string{category})
	if len(rules) == 0 {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return catalogResult(req.Params.URI, rules)
}

func catalogResult(uri string, rules []domain.DefectRule) (*mcp.ReadResourceResult, error) {
	infos := make([]ruleInfo, len(rules))
	for i, r := range rules {
		infos[i] = ruleInfo{
			Category: r.Category,
			Sequence: r.Sequence,
			Scenario: r.Scenario,
			Severity: string(r.Severity),
		}
	}

	data, err := json.MarshalIndent(infos, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling catalog: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractCategory extracts the category from a URI like planaudit://catalog/{category}.
// Categories are often Chinese, so the segment is percent-decoded.
func extractCategory(uri string) string {
	const prefix = uriScheme + "catalog/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	segment := strings.TrimPrefix(uri, prefix)
	category, err := url.PathUnescape(segment)
	if err != nil {
		return ""
	}
	return category
}
