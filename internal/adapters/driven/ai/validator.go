package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

var _ driven.AIConfigValidator = (*ConfigValidator)(nil)

// probeText is embedded once to check that the model answers with the expected dimension.
const probeText = "脚手架搭设前应编制专项施工方案。"

// ConfigValidator checks provider settings against the live services.
// Unconfigured settings validate trivially.
type ConfigValidator struct {
	timeout time.Duration
}

// NewConfigValidator creates a validator that gives each check pingTimeout.
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{timeout: pingTimeout}
}

// ValidateEmbedding pings the embedding provider and embeds a probe sentence.
// A vector whose size differs from the model's known dimension is a malformed response.
func (v *ConfigValidator) ValidateEmbedding(settings *domain.EmbeddingSettings) error {
	if settings == nil || !settings.IsConfigured() {
		return nil
	}

	p, err := CreateEmbeddingProvider(settings)
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return err
	}

	want := p.Dimensions()
	vectors, err := p.EmbedBatch(ctx, []string{probeText})
	if err != nil {
		return fmt.Errorf("embedding probe with %s: %w", p.ModelName(), err)
	}
	if want > 0 && len(vectors[0]) != want {
		return fmt.Errorf("%w: model %s returned %d dimensions, expected %d",
			domain.ErrMalformedResponse, p.ModelName(), len(vectors[0]), want)
	}
	return nil
}

// ValidateLLM pings the configured chat model.
func (v *ConfigValidator) ValidateLLM(settings *domain.LLMSettings) error {
	svc, err := CreateLLMService(settings)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), v.timeout)
	defer cancel()
	return svc.Ping(ctx)
}
