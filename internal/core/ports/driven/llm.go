package driven

import (
	"context"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// LLMService is the chat model behind the delegated model judge.
// It is optional: heuristic judges work without it.
//
// Implementations may include:
//   - OpenAI and compatible APIs (gpt-4o-mini, qwen2.5 behind vLLM)
//   - Ollama (qwen2.5:7b, llama3.2)
type LLMService interface {
	// Chat conducts a multi-turn conversation and returns the reply text.
	Chat(ctx context.Context, messages []ChatMessage, opts ChatOptions) (string, error)

	// ModelName returns the name of the LLM model being used.
	ModelName() string

	// Ping validates the service is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// ChatMessage represents a single message in a conversation.
type ChatMessage struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// ChatOptions configures chat behaviour.
type ChatOptions struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens int

	// Temperature controls randomness (0.0 = deterministic, 1.0 = creative).
	Temperature float64
}

// Judge decides whether a defect rule is present in a plan given retrieved evidence.
type Judge interface {
	// Name identifies the judge in reports.
	Name() string

	// Judge returns the verdict for rule. Evidence is ranked, best first.
	Judge(ctx context.Context, rule domain.DefectRule, evidence []domain.RetrievalResult) (domain.Judgment, error)
}
