package openai

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

type embedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions"`
}

func newTestProvider(t *testing.T, handler http.HandlerFunc, model string) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(Config{APIKey: "sk-test", BaseURL: srv.URL, Model: model})
	require.NoError(t, err)
	return p
}

func writeEmbeddings(t *testing.T, w http.ResponseWriter, vectors map[int][]float32) {
	t.Helper()
	data := make([]map[string]any, 0, len(vectors))
	// Reverse order to check that results are placed by index.
	for i := len(vectors) - 1; i >= 0; i-- {
		data = append(data, map[string]any{"object": "embedding", "index": i, "embedding": vectors[i]})
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{
		"object": "list",
		"data":   data,
		"model":  "text-embedding-3-small",
	}))
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrProviderAuth)
}

func TestNew_Defaults(t *testing.T) {
	p, err := New(Config{APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.ModelName())
	assert.Equal(t, 1536, p.Dimensions())
	assert.NoError(t, p.Close())
}

func TestNew_UnknownModelHasNoDimensions(t *testing.T) {
	p, err := New(Config{APIKey: "sk-test", Model: "bge-m3-custom"})
	require.NoError(t, err)
	assert.Equal(t, 0, p.Dimensions())
}

func TestEmbedBatch_OrdersByIndex(t *testing.T) {
	var got embedRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEmbeddings(t, w, map[int][]float32{0: {1, 0}, 1: {0, 1}})
	}, "text-embedding-3-small")

	vectors, err := p.EmbedBatch(t.Context(), []string{"脚手架", "基坑"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.Equal(t, []string{"脚手架", "基坑"}, got.Input)
	assert.Equal(t, 1536, got.Dimensions)
}

func TestEmbedBatch_NoDimensionsForLegacyModels(t *testing.T) {
	var got embedRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeEmbeddings(t, w, map[int][]float32{0: {1}})
	}, "text-embedding-ada-002")

	_, err := p.EmbedBatch(t.Context(), []string{"a"})
	require.NoError(t, err)
	assert.Zero(t, got.Dimensions)
}

func TestEmbedBatch_Empty(t *testing.T) {
	p, err := New(Config{APIKey: "sk-test"})
	require.NoError(t, err)

	vectors, err := p.EmbedBatch(t.Context(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestEmbedBatch_CountMismatchIsMalformed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		writeEmbeddings(t, w, map[int][]float32{0: {1}})
	}, "text-embedding-3-small")

	_, err := p.EmbedBatch(t.Context(), []string{"a", "b"})
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestEmbedBatch_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ErrProviderAuth},
		{"rate limited", http.StatusTooManyRequests, domain.ErrRateLimited},
		{"server error", http.StatusInternalServerError, domain.ErrProviderTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"test"}}`))
			}, "text-embedding-3-small")

			_, err := p.EmbedBatch(t.Context(), []string{"a"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPing(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/models", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
		}, "")
		assert.NoError(t, p.Ping(t.Context()))
	})

	t.Run("bad key", func(t *testing.T) {
		p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
		}, "")
		assert.ErrorIs(t, p.Ping(t.Context()), domain.ErrProviderAuth)
	})
}
