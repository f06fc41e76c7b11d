// Package ollama provides the chat model behind the judge, served by a local Ollama.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/planaudit/internal/adapters/driven/ai/providererr"
	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultLLMModel   = "qwen2.5:7b"
	DefaultLLMTimeout = 120 * time.Second
	DefaultKeepAlive  = "10m"
)

const providerName = "ollama"

// LLMConfig holds configuration for the Ollama chat service.
type LLMConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration

	// KeepAlive is how long Ollama keeps the model loaded between judge calls.
	KeepAlive string

	// Seed fixes sampling so repeated audits of one plan agree. Zero leaves it unset.
	Seed int
}

// LLMService sends judge prompts to Ollama's /api/chat endpoint.
type LLMService struct {
	client    *http.Client
	baseURL   string
	model     string
	keepAlive string
	seed      int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	NumPredict  int     `json:"num_predict,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Seed        int     `json:"seed,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	KeepAlive string        `json:"keep_alive,omitempty"`
	Options   *chatOptions  `json:"options,omitempty"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewLLMService creates an Ollama chat service, filling in defaults.
func NewLLMService(cfg LLMConfig) *LLMService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultLLMTimeout
	}
	if cfg.KeepAlive == "" {
		cfg.KeepAlive = DefaultKeepAlive
	}

	return &LLMService{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		keepAlive: cfg.KeepAlive,
		seed:      cfg.Seed,
	}
}

// Chat sends the conversation without streaming and returns the reply text.
func (s *LLMService) Chat(ctx context.Context, messages []driven.ChatMessage, opts driven.ChatOptions) (string, error) {
	req := chatRequest{
		Model:     s.model,
		Messages:  make([]chatMessage, 0, len(messages)),
		KeepAlive: s.keepAlive,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	if opts.MaxTokens > 0 || opts.Temperature > 0 || s.seed != 0 {
		req.Options = &chatOptions{
			NumPredict:  opts.MaxTokens,
			Temperature: opts.Temperature,
			Seed:        s.seed,
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var resp chatResponse
	if err := s.call(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body), &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", providererr.Malformed(providerName, "%s", resp.Error)
	}
	return resp.Message.Content, nil
}

// ModelName returns the chat model name.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping lists the local models. When Ollama reports any, the configured
// model must be among them, since a missing model fails every judge call.
func (s *LLMService) Ping(ctx context.Context) error {
	var tags tagsResponse
	if err := s.call(ctx, http.MethodGet, "/api/tags", http.NoBody, &tags); err != nil {
		return err
	}
	if len(tags.Models) == 0 {
		return nil
	}
	for _, m := range tags.Models {
		if m.Name == s.model || m.Name == s.model+":latest" {
			return nil
		}
	}
	return fmt.Errorf("%w: ollama model %s is not pulled. Run 'ollama pull %s'",
		domain.ErrProviderUnavailable, s.model, s.model)
}

// Close is a no-op.
func (s *LLMService) Close() error {
	return nil
}

// call performs one request and decodes a 200 response into out.
func (s *LLMService) call(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return providererr.FromTransport(providerName, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return providererr.FromTransport(providerName, err)
	}
	if resp.StatusCode != http.StatusOK {
		return providererr.FromStatus(providerName, resp.StatusCode, string(data), resp.Header.Get("Retry-After"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return providererr.Malformed(providerName, "decode %s: %v", path, err)
	}
	return nil
}
