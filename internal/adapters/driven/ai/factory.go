// Package ai provides factory functions for creating AI service adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	ollamaembed "github.com/custodia-labs/planaudit/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/planaudit/internal/adapters/driven/embedding/openai"
	ollamallm "github.com/custodia-labs/planaudit/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/planaudit/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/planaudit/internal/adapters/driven/ratelimit"
	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// judgeSeed fixes local model sampling so repeated audits of a plan agree.
const judgeSeed = 42

// InitResult contains the result of AI service initialisation.
type InitResult struct {
	Embedding driven.EmbeddingProvider
	Throttle  *ratelimit.Limiter
	LLM       driven.LLMService // Nil when llm.provider is not configured.
	Warnings  []string          // Non-fatal issues found while pinging.
}

// Close releases all resources held by InitResult.
func (r *InitResult) Close() {
	if r.Embedding != nil {
		r.Embedding.Close()
	}
	if r.LLM != nil {
		r.LLM.Close()
	}
}

// Init creates the services an audit needs.
// A configured chat model is created for every judge so plans can be asked about.
// The embedding provider is required and must answer a ping.
// An unreachable chat model is only a warning: its rules end up uncertain.
func Init(ctx context.Context, settings *domain.AppSettings) (*InitResult, error) {
	embedding, err := CreateAndValidateEmbeddingProvider(ctx, &settings.Embedding)
	if err != nil {
		return nil, err
	}

	result := &InitResult{
		Embedding: embedding,
		Throttle: ratelimit.New(ratelimit.Config{
			RequestsPerSecond: settings.Embedding.RequestsPerSecond,
			Burst:             settings.Embedding.Burst,
		}),
	}

	llm, err := CreateLLMService(&settings.LLM)
	if err != nil {
		result.Close()
		return nil, err
	}
	if !settings.Judge.Kind.RequiresLLM() {
		// Kept for answering questions, unpinged.
		result.LLM = llm
		return result, nil
	}
	if llm == nil {
		result.Close()
		return nil, fmt.Errorf("%w: judge %q needs an llm provider. Run 'planaudit settings set llm.provider ollama' to fix",
			domain.ErrProviderUnavailable, settings.Judge.Kind)
	}
	result.LLM = llm

	if err := ping(ctx, llm.Ping); err != nil {
		msg := fmt.Sprintf("llm %s unreachable: %v", llm.ModelName(), err)
		logger.Warn("%s", msg)
		result.Warnings = append(result.Warnings, msg)
	}

	return result, nil
}

// CreateAndValidateEmbeddingProvider creates an embedding provider and validates connectivity.
// Returns the provider if successful, or an error with guidance.
func CreateAndValidateEmbeddingProvider(ctx context.Context, settings *domain.EmbeddingSettings) (driven.EmbeddingProvider, error) {
	p, err := CreateEmbeddingProvider(settings)
	if err != nil {
		return nil, err
	}

	if err := ping(ctx, p.Ping); err != nil {
		p.Close()
		return nil, fmt.Errorf("embedding service unreachable: %w. Run 'planaudit settings show' to check", err)
	}

	return p, nil
}

// CreateEmbeddingProvider creates the embedding provider selected by settings.
// The provider is required, so unconfigured settings are an error.
func CreateEmbeddingProvider(settings *domain.EmbeddingSettings) (driven.EmbeddingProvider, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, fmt.Errorf("%w: embedding provider. Set embedding.provider, and embedding.api_key or OPENAI_API_KEY for openai",
			domain.ErrProviderUnavailable)
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamaembed.New(ollamaembed.Config{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		}), nil

	case domain.AIProviderOpenAI:
		return openaiembed.New(openaiembed.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported embedding provider: %s", domain.ErrInvalidArgument, settings.Provider)
	}
}

// CreateLLMService creates the appropriate LLM service based on settings.
// Returns nil if the provider is not configured.
func CreateLLMService(settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
			Seed:    judgeSeed,
		}), nil

	case domain.AIProviderOpenAI:
		return openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %s", domain.ErrInvalidArgument, settings.Provider)
	}
}

func ping(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return fn(ctx)
}
