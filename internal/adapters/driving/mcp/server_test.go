package mcp

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	t.Run("nil plan service returns error", func(t *testing.T) {
		server, err := NewServer(&Ports{Audit: &mockAuditService{}})
		require.Error(t, err)
		assert.Nil(t, server)
		assert.ErrorIs(t, err, ErrMissingPlanService)
	})

	t.Run("valid ports creates server", func(t *testing.T) {
		server, err := NewServer(&Ports{Plans: &mockPlanService{}, Audit: &mockAuditService{}})
		require.NoError(t, err)
		assert.NotNil(t, server)
	})
}

func TestPorts_Validate(t *testing.T) {
	tests := []struct {
		name  string
		ports *Ports
		err   error
	}{
		{"empty ports", &Ports{}, ErrMissingPlanService},
		{"audit service required", &Ports{Plans: &mockPlanService{}}, ErrMissingAuditService},
		{"all ports", &Ports{Plans: &mockPlanService{}, Audit: &mockAuditService{}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ports.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.err)
			}
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	server, err := NewServer(&Ports{Plans: &mockPlanService{}, Audit: &mockAuditService{}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestServer_ListsTools(t *testing.T) {
	server, err := NewServer(&Ports{Plans: &mockPlanService{}, Audit: &mockAuditService{catalog: testCatalog()}})
	require.NoError(t, err)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := server.server.Connect(t.Context(), serverTransport, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(t.Context(), clientTransport, nil)
	require.NoError(t, err)
	defer cs.Close()

	res, err := cs.ListTools(t.Context(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"ask_plan", "check_category", "clear_plans", "evict_plan", "full_audit",
		"list_plans", "query_plan", "status", "upload_plan",
	}, names)

	assert.Contains(t, cs.InitializeResult().Instructions, "upload_plan")
}
