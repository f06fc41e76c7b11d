// Package ollama provides an embedding provider backed by a local Ollama instance.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/custodia-labs/planaudit/internal/adapters/driven/ai/providererr"
	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// Ensure Provider implements the interface.
var _ driven.EmbeddingProvider = (*Provider)(nil)

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultModel   = "nomic-embed-text"
	DefaultTimeout = 60 * time.Second
)

const providerName = "ollama"

// Config holds configuration for the Ollama embedding provider.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout is the request timeout (default: 60s).
	Timeout time.Duration

	// Dimensions is the embedding vector size. Zero looks the model up,
	// and an unknown model learns it from the first response.
	Dimensions int
}

// Provider generates embeddings using the Ollama /api/embed endpoint.
type Provider struct {
	client     *http.Client
	baseURL    string
	model      string
	dimensions atomic.Int64
}

// embedRequest is the Ollama /api/embed request format.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the Ollama /api/embed response format.
type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// New creates a new Ollama embedding provider.
func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	p := &Provider{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = domain.EmbeddingDimensions()[cfg.Model]
	}
	p.dimensions.Store(int64(dimensions))

	return p
}

// EmbedBatch generates one embedding per text, in input order.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(embedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, providererr.FromTransport(providerName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, providererr.FromTransport(providerName, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, providererr.FromStatus(providerName, resp.StatusCode, string(body), resp.Header.Get("Retry-After"))
	}

	var embedResp embedResponse
	if err := json.Unmarshal(body, &embedResp); err != nil {
		return nil, providererr.Malformed(providerName, "decode response: %v", err)
	}

	if len(embedResp.Embeddings) != len(texts) {
		return nil, providererr.Malformed(providerName, "got %d embeddings for %d texts", len(embedResp.Embeddings), len(texts))
	}
	for i, v := range embedResp.Embeddings {
		if len(v) == 0 {
			return nil, providererr.Malformed(providerName, "empty embedding at index %d", i)
		}
	}

	p.dimensions.CompareAndSwap(0, int64(len(embedResp.Embeddings[0])))

	return embedResp.Embeddings, nil
}

// Dimensions returns the embedding vector size, or 0 when unknown until the first call.
func (p *Provider) Dimensions() int {
	return int(p.dimensions.Load())
}

// ModelName returns the name of the embedding model being used.
func (p *Provider) ModelName() string {
	return p.model
}

// Ping checks that Ollama answers on /api/tags and, when it lists models,
// that the embedding model is among them.
func (p *Provider) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", http.NoBody)
	if err != nil {
		return fmt.Errorf("ollama: failed to create ping request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return providererr.FromTransport(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return providererr.FromStatus(providerName, resp.StatusCode, string(body), "")
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return providererr.Malformed(providerName, "decode tags: %v", err)
	}
	if len(tags.Models) == 0 {
		return nil
	}
	for _, m := range tags.Models {
		if m.Name == p.model || m.Name == p.model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("%w: ollama model %s is not pulled. Run 'ollama pull %s'",
		domain.ErrProviderUnavailable, p.model, p.model)
}

// Close releases resources.
func (p *Provider) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}
