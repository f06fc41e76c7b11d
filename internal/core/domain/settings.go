package domain

import "time"

const unknownDescription = "Unknown"

// AIProvider identifies an AI service provider for embeddings or judgment.
type AIProvider string

// Available AI providers.
const (
	// AIProviderOllama is a local Ollama instance.
	AIProviderOllama AIProvider = "ollama"

	// AIProviderOpenAI is the OpenAI API or any compatible endpoint.
	AIProviderOpenAI AIProvider = "openai"
)

// IsValid returns true if the AI provider is recognised.
func (p AIProvider) IsValid() bool {
	switch p {
	case AIProviderOllama, AIProviderOpenAI:
		return true
	default:
		return false
	}
}

// RequiresAPIKey returns true if this provider needs an API key.
func (p AIProvider) RequiresAPIKey() bool {
	return p == AIProviderOpenAI
}

// String returns the string representation.
func (p AIProvider) String() string {
	return string(p)
}

// Description returns a human-readable description of the provider.
func (p AIProvider) Description() string {
	switch p {
	case AIProviderOllama:
		return "Ollama (local)"
	case AIProviderOpenAI:
		return "OpenAI-compatible (cloud)"
	default:
		return unknownDescription
	}
}

// AllAIProviders returns all available AI providers, local first.
func AllAIProviders() []AIProvider {
	return []AIProvider{AIProviderOllama, AIProviderOpenAI}
}

// JudgeKind selects the judgment strategy of an audit.
type JudgeKind string

// Available judge kinds.
const (
	JudgeKeyword    JudgeKind = "keyword"
	JudgeSimilarity JudgeKind = "similarity"
	JudgeModel      JudgeKind = "model"
)

// IsValid returns true if the judge kind is recognised.
func (k JudgeKind) IsValid() bool {
	switch k {
	case JudgeKeyword, JudgeSimilarity, JudgeModel:
		return true
	default:
		return false
	}
}

// RequiresLLM returns true if the judge needs a chat model.
func (k JudgeKind) RequiresLLM() bool {
	return k == JudgeModel
}

// Description returns a human-readable description of the judge.
func (k JudgeKind) Description() string {
	switch k {
	case JudgeKeyword:
		return "Keyword coverage heuristic"
	case JudgeSimilarity:
		return "Similarity threshold heuristic"
	case JudgeModel:
		return "Delegated language model"
	default:
		return unknownDescription
	}
}

// EmbeddingSettings holds embedding provider configuration.
type EmbeddingSettings struct {
	Provider AIProvider
	Model    string

	// BaseURL is the API endpoint. Empty uses the provider default.
	BaseURL string

	// APIKey is required for OpenAI.
	APIKey string

	// BatchSize bounds the texts sent in one provider call.
	BatchSize int

	// RequestsPerSecond and Burst configure the provider throttle.
	RequestsPerSecond float64
	Burst             int
}

// IsConfigured returns true if the embedding provider is set up.
func (e EmbeddingSettings) IsConfigured() bool {
	if !e.Provider.IsValid() {
		return false
	}
	if e.Provider.RequiresAPIKey() && e.APIKey == "" {
		return false
	}
	return true
}

// LLMSettings holds judgment model configuration.
type LLMSettings struct {
	Provider AIProvider
	Model    string
	BaseURL  string
	APIKey   string
}

// IsConfigured returns true if the LLM provider is set up.
func (l LLMSettings) IsConfigured() bool {
	if !l.Provider.IsValid() {
		return false
	}
	if l.Provider.RequiresAPIKey() && l.APIKey == "" {
		return false
	}
	return true
}

// ChunkerSettings sizes chunks in runes.
type ChunkerSettings struct {
	Size    int
	Overlap int
}

// AuditSettings configures audit runs.
type AuditSettings struct {
	TopK    int
	Workers int
}

// JudgeSettings configures the judge variants.
type JudgeSettings struct {
	Kind                JudgeKind
	SimilarityThreshold float64
	SimilarityFloor     float64
	KeywordMinCoverage  float64
	Timeout             time.Duration
}

// RetrySettings configures the shared provider retry policy.
type RetrySettings struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// AppSettings holds all application settings.
type AppSettings struct {
	Embedding   EmbeddingSettings
	LLM         LLMSettings
	Chunker     ChunkerSettings
	Audit       AuditSettings
	Judge       JudgeSettings
	Retry       RetrySettings
	CatalogPath string
	CacheDir    string
}

// DefaultAppSettings returns settings with sensible defaults.
// The default stack is fully local (Ollama) so no API key is needed.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Embedding: EmbeddingSettings{
			Provider:          AIProviderOllama,
			Model:             DefaultEmbeddingModels()[AIProviderOllama],
			BatchSize:         32,
			RequestsPerSecond: 5,
			Burst:             10,
		},
		LLM: LLMSettings{
			Provider: AIProviderOllama,
			Model:    DefaultLLMModels()[AIProviderOllama],
		},
		Chunker: ChunkerSettings{
			Size:    300,
			Overlap: 50,
		},
		Audit: AuditSettings{
			TopK:    3,
			Workers: 4,
		},
		Judge: JudgeSettings{
			Kind:                JudgeModel,
			SimilarityThreshold: 0.6,
			SimilarityFloor:     0.3,
			KeywordMinCoverage:  0.5,
			Timeout:             60 * time.Second,
		},
		Retry: RetrySettings{
			MaxAttempts: 4,
			BaseDelay:   200 * time.Millisecond,
			MaxDelay:    5 * time.Second,
			Jitter:      0.2,
		},
	}
}

// AllJudgeKinds returns all available judge kinds.
func AllJudgeKinds() []JudgeKind {
	return []JudgeKind{JudgeKeyword, JudgeSimilarity, JudgeModel}
}

// DefaultEmbeddingModels returns default models for each embedding provider.
func DefaultEmbeddingModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "nomic-embed-text",
		AIProviderOpenAI: "text-embedding-3-small",
	}
}

// DefaultLLMModels returns default models for each LLM provider.
func DefaultLLMModels() map[AIProvider]string {
	return map[AIProvider]string{
		AIProviderOllama: "qwen2.5:7b",
		AIProviderOpenAI: "gpt-4o-mini",
	}
}

// EmbeddingDimensions returns the vector dimensions for known models.
func EmbeddingDimensions() map[string]int {
	return map[string]int{
		// Ollama models
		"nomic-embed-text":  768,
		"mxbai-embed-large": 1024,
		"bge-m3":            1024,
		"all-minilm":        384,
		// OpenAI models
		"text-embedding-3-small": 1536,
		"text-embedding-3-large": 3072,
		"text-embedding-ada-002": 1536,
	}
}
