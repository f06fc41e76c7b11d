package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

func testCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.DefectRule{
		{Category: "脚手架", Sequence: "1", Scenario: "未设置连墙件", Severity: domain.SeverityHigh},
		{Category: "基坑", Sequence: "1", Scenario: "未设置降水措施"},
		{Category: "脚手架", Sequence: "2", Scenario: "未进行承载力验算"},
	})
}

func TestExtractCategory(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "plain category",
			uri:      "planaudit://catalog/scaffolding",
			expected: "scaffolding",
		},
		{
			name:     "percent-encoded category",
			uri:      "planaudit://catalog/%E8%84%9A%E6%89%8B%E6%9E%B6",
			expected: "脚手架",
		},
		{
			name:     "invalid prefix",
			uri:      "file://catalog/scaffolding",
			expected: "",
		},
		{
			name:     "bad escape",
			uri:      "planaudit://catalog/%zz",
			expected: "",
		},
		{
			name:     "empty URI",
			uri:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractCategory(tt.uri))
		})
	}
}

func TestServer_handleCatalogResource(t *testing.T) {
	server := newTestServer(&mockPlanService{}, &mockAuditService{catalog: testCatalog()})

	req := &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "planaudit://catalog"}}
	result, err := server.handleCatalogResource(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, result.Contents, 1)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var rules []ruleInfo
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &rules))
	require.Len(t, rules, 3)
	assert.Equal(t, "high", rules[0].Severity)
	assert.Equal(t, "基坑", rules[1].Category)
}

func TestServer_handleCategoryResource(t *testing.T) {
	server := newTestServer(&mockPlanService{}, &mockAuditService{catalog: testCatalog()})
	ctx := context.Background()

	t.Run("known category", func(t *testing.T) {
		req := &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "planaudit://catalog/脚手架"}}
		result, err := server.handleCategoryResource(ctx, req)
		require.NoError(t, err)

		var rules []ruleInfo
		require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &rules))
		require.Len(t, rules, 2)
		assert.Equal(t, "2", rules[1].Sequence)
	})

	t.Run("unknown category", func(t *testing.T) {
		req := &mcp.ReadResourceRequest{Params: &mcp.ReadResourceParams{URI: "planaudit://catalog/demolition"}}
		_, err := server.handleCategoryResource(ctx, req)
		assert.Error(t, err)
	})
}
