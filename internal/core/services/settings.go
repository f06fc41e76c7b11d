package services

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	keyEmbedProvider   = "embedding.provider"
	keyEmbedModel      = "embedding.model"
	keyEmbedBaseURL    = "embedding.base_url"
	keyEmbedAPIKey     = "embedding.api_key"
	keyEmbedBatchSize  = "embedding.batch_size"
	keyEmbedRPS        = "embedding.requests_per_second"
	keyEmbedBurst      = "embedding.burst"
	keyLLMProvider     = "llm.provider"
	keyLLMModel        = "llm.model"
	keyLLMBaseURL      = "llm.base_url"
	keyLLMAPIKey       = "llm.api_key"
	keyChunkSize       = "chunker.size"
	keyChunkOverlap    = "chunker.overlap"
	keyAuditTopK       = "audit.top_k"
	keyAuditWorkers    = "audit.workers"
	keyJudgeKind       = "judge.kind"
	keyJudgeThreshold  = "judge.similarity_threshold"
	keyJudgeFloor      = "judge.similarity_floor"
	keyJudgeCoverage   = "judge.keyword_min_coverage"
	keyJudgeTimeout    = "judge.timeout"
	keyRetryAttempts   = "retry.max_attempts"
	keyRetryBaseDelay  = "retry.base_delay"
	keyRetryMaxDelay   = "retry.max_delay"
	keyRetryJitter     = "retry.jitter"
	keyCatalogPath     = "catalog.path"
	keyCacheDir        = "cache.dir"
	envOpenAIKey       = "OPENAI_API_KEY"
	envEmbeddingAPIKey = "PLANAUDIT_EMBEDDING_API_KEY"
	envLLMAPIKey       = "PLANAUDIT_LLM_API_KEY"
)

// valueKind says how a setting is parsed and validated.
type valueKind int

const (
	kindString valueKind = iota
	kindSecret
	kindProvider
	kindJudge
	kindPositiveInt
	kindNonNegativeInt
	kindPositiveFloat
	kindFraction
	kindDuration
)

// settingKinds lists every settable key.
var settingKinds = map[string]valueKind{
	keyEmbedProvider:  kindProvider,
	keyEmbedModel:     kindString,
	keyEmbedBaseURL:   kindString,
	keyEmbedAPIKey:    kindSecret,
	keyEmbedBatchSize: kindPositiveInt,
	keyEmbedRPS:       kindPositiveFloat,
	keyEmbedBurst:     kindPositiveInt,
	keyLLMProvider:    kindProvider,
	keyLLMModel:       kindString,
	keyLLMBaseURL:     kindString,
	keyLLMAPIKey:      kindSecret,
	keyChunkSize:      kindPositiveInt,
	keyChunkOverlap:   kindNonNegativeInt,
	keyAuditTopK:      kindPositiveInt,
	keyAuditWorkers:   kindPositiveInt,
	keyJudgeKind:      kindJudge,
	keyJudgeThreshold: kindFraction,
	keyJudgeFloor:     kindFraction,
	keyJudgeCoverage:  kindFraction,
	keyJudgeTimeout:   kindDuration,
	keyRetryAttempts:  kindPositiveInt,
	keyRetryBaseDelay: kindDuration,
	keyRetryMaxDelay:  kindDuration,
	keyRetryJitter:    kindFraction,
	keyCatalogPath:    kindString,
	keyCacheDir:       kindString,
}

// SettingsService manages application settings.
// Values come from the config store, with API keys optionally overridden by
// PLANAUDIT_EMBEDDING_API_KEY and PLANAUDIT_LLM_API_KEY and falling back to OPENAI_API_KEY.
type SettingsService struct {
	configStore driven.ConfigStore
	aiValidator driven.AIConfigValidator
	getenv      func(string) string
}

// NewSettingsService creates a new settings service.
// aiValidator may be nil, in which case provider validation is skipped.
func NewSettingsService(configStore driven.ConfigStore, aiValidator driven.AIConfigValidator) *SettingsService {
	return &SettingsService{
		configStore: configStore,
		aiValidator: aiValidator,
		getenv:      os.Getenv,
	}
}

// Get retrieves current application settings.
// Missing or invalid stored values fall back to defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	defaults := domain.DefaultAppSettings()

	embedProvider := s.getProvider(keyEmbedProvider, defaults.Embedding.Provider)
	llmProvider := s.getProvider(keyLLMProvider, defaults.LLM.Provider)

	settings := &domain.AppSettings{
		Embedding: domain.EmbeddingSettings{
			Provider:          embedProvider,
			Model:             s.getString(keyEmbedModel, domain.DefaultEmbeddingModels()[embedProvider]),
			BaseURL:           s.configStore.GetString(keyEmbedBaseURL), // No default - empty uses the provider's
			APIKey:            s.apiKey(keyEmbedAPIKey, envEmbeddingAPIKey),
			BatchSize:         s.getInt(keyEmbedBatchSize, defaults.Embedding.BatchSize),
			RequestsPerSecond: s.getFloat(keyEmbedRPS, defaults.Embedding.RequestsPerSecond),
			Burst:             s.getInt(keyEmbedBurst, defaults.Embedding.Burst),
		},
		LLM: domain.LLMSettings{
			Provider: llmProvider,
			Model:    s.getString(keyLLMModel, domain.DefaultLLMModels()[llmProvider]),
			BaseURL:  s.configStore.GetString(keyLLMBaseURL),
			APIKey:   s.apiKey(keyLLMAPIKey, envLLMAPIKey),
		},
		Chunker: domain.ChunkerSettings{
			Size:    s.getInt(keyChunkSize, defaults.Chunker.Size),
			Overlap: s.getNonNegativeInt(keyChunkOverlap, defaults.Chunker.Overlap),
		},
		Audit: domain.AuditSettings{
			TopK:    s.getInt(keyAuditTopK, defaults.Audit.TopK),
			Workers: s.getInt(keyAuditWorkers, defaults.Audit.Workers),
		},
		Judge: domain.JudgeSettings{
			Kind:                s.getJudgeKind(defaults.Judge.Kind),
			SimilarityThreshold: s.getFraction(keyJudgeThreshold, defaults.Judge.SimilarityThreshold),
			SimilarityFloor:     s.getFraction(keyJudgeFloor, defaults.Judge.SimilarityFloor),
			KeywordMinCoverage:  s.getFraction(keyJudgeCoverage, defaults.Judge.KeywordMinCoverage),
			Timeout:             s.getDuration(keyJudgeTimeout, defaults.Judge.Timeout),
		},
		Retry: domain.RetrySettings{
			MaxAttempts: s.getInt(keyRetryAttempts, defaults.Retry.MaxAttempts),
			BaseDelay:   s.getDuration(keyRetryBaseDelay, defaults.Retry.BaseDelay),
			MaxDelay:    s.getDuration(keyRetryMaxDelay, defaults.Retry.MaxDelay),
			Jitter:      s.getFraction(keyRetryJitter, defaults.Retry.Jitter),
		},
		CatalogPath: s.configStore.GetString(keyCatalogPath),
		CacheDir:    s.configStore.GetString(keyCacheDir),
	}

	// Overlap must stay below the chunk size
	if settings.Chunker.Overlap >= settings.Chunker.Size {
		settings.Chunker.Overlap = settings.Chunker.Size / 4
	}

	return settings, nil
}

// Set validates value for key and persists it with its natural TOML type.
func (s *SettingsService) Set(key, value string) error {
	kind, ok := settingKinds[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q (known: %s)", domain.ErrInvalidArgument, key, strings.Join(s.Keys(), ", "))
	}

	typed, err := parseSetting(kind, strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrInvalidArgument, key, err)
	}

	if err := s.configStore.Set(key, typed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// parseSetting converts a command-line value into the stored representation.
// Durations are validated but stored as strings, the way they are written by hand.
func parseSetting(kind valueKind, value string) (any, error) {
	switch kind {
	case kindProvider:
		p := domain.AIProvider(value)
		if !p.IsValid() {
			return nil, fmt.Errorf("unknown provider %q (use ollama or openai)", value)
		}
		return value, nil

	case kindJudge:
		k := domain.JudgeKind(value)
		if !k.IsValid() {
			return nil, fmt.Errorf("unknown judge %q (use keyword, similarity or model)", value)
		}
		return value, nil

	case kindPositiveInt, kindNonNegativeInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("not an integer: %q", value)
		}
		if n < 0 || (n == 0 && kind == kindPositiveInt) {
			return nil, fmt.Errorf("out of range: %d", n)
		}
		return n, nil

	case kindPositiveFloat, kindFraction:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("not a number: %q", value)
		}
		if f <= 0 && kind == kindPositiveFloat {
			return nil, fmt.Errorf("must be positive: %v", f)
		}
		if kind == kindFraction && (f < 0 || f > 1) {
			return nil, fmt.Errorf("must be between 0 and 1: %v", f)
		}
		return f, nil

	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("not a duration: %q", value)
		}
		if d <= 0 {
			return nil, fmt.Errorf("must be positive: %s", d)
		}
		return value, nil

	default:
		return value, nil
	}
}

// Keys returns the settable keys, sorted.
func (s *SettingsService) Keys() []string {
	keys := make([]string, 0, len(settingKinds))
	for k := range settingKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Values returns the effective value of every key, API keys masked.
func (s *SettingsService) Values() (map[string]string, error) {
	st, err := s.Get()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		keyEmbedProvider:  st.Embedding.Provider.String(),
		keyEmbedModel:     st.Embedding.Model,
		keyEmbedBaseURL:   st.Embedding.BaseURL,
		keyEmbedAPIKey:    maskSecret(st.Embedding.APIKey),
		keyEmbedBatchSize: strconv.Itoa(st.Embedding.BatchSize),
		keyEmbedRPS:       strconv.FormatFloat(st.Embedding.RequestsPerSecond, 'g', -1, 64),
		keyEmbedBurst:     strconv.Itoa(st.Embedding.Burst),
		keyLLMProvider:    st.LLM.Provider.String(),
		keyLLMModel:       st.LLM.Model,
		keyLLMBaseURL:     st.LLM.BaseURL,
		keyLLMAPIKey:      maskSecret(st.LLM.APIKey),
		keyChunkSize:      strconv.Itoa(st.Chunker.Size),
		keyChunkOverlap:   strconv.Itoa(st.Chunker.Overlap),
		keyAuditTopK:      strconv.Itoa(st.Audit.TopK),
		keyAuditWorkers:   strconv.Itoa(st.Audit.Workers),
		keyJudgeKind:      string(st.Judge.Kind),
		keyJudgeThreshold: strconv.FormatFloat(st.Judge.SimilarityThreshold, 'g', -1, 64),
		keyJudgeFloor:     strconv.FormatFloat(st.Judge.SimilarityFloor, 'g', -1, 64),
		keyJudgeCoverage:  strconv.FormatFloat(st.Judge.KeywordMinCoverage, 'g', -1, 64),
		keyJudgeTimeout:   st.Judge.Timeout.String(),
		keyRetryAttempts:  strconv.Itoa(st.Retry.MaxAttempts),
		keyRetryBaseDelay: st.Retry.BaseDelay.String(),
		keyRetryMaxDelay:  st.Retry.MaxDelay.String(),
		keyRetryJitter:    strconv.FormatFloat(st.Retry.Jitter, 'g', -1, 64),
		keyCatalogPath:    st.CatalogPath,
		keyCacheDir:       st.CacheDir,
	}, nil
}

// Validate checks that current settings are consistent.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}

	if !settings.Embedding.IsConfigured() {
		return fmt.Errorf("%w: embedding provider %q is not configured", domain.ErrProviderUnavailable, settings.Embedding.Provider)
	}

	if settings.Judge.Kind.RequiresLLM() && !settings.LLM.IsConfigured() {
		return fmt.Errorf("%w: judge %q requires an LLM provider to be configured",
			domain.ErrProviderUnavailable, settings.Judge.Kind.Description())
	}

	if settings.Judge.SimilarityFloor > settings.Judge.SimilarityThreshold {
		return fmt.Errorf("%w: %s (%v) is above %s (%v)", domain.ErrInvalidArgument,
			keyJudgeFloor, settings.Judge.SimilarityFloor, keyJudgeThreshold, settings.Judge.SimilarityThreshold)
	}

	if settings.Retry.BaseDelay > settings.Retry.MaxDelay {
		return fmt.Errorf("%w: %s (%s) is above %s (%s)", domain.ErrInvalidArgument,
			keyRetryBaseDelay, settings.Retry.BaseDelay, keyRetryMaxDelay, settings.Retry.MaxDelay)
	}

	return nil
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ValidateEmbeddingConfig validates the current embedding configuration by pinging the provider.
func (s *SettingsService) ValidateEmbeddingConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateEmbedding(&settings.Embedding)
}

// ValidateLLMConfig validates the current LLM configuration by pinging the provider.
func (s *SettingsService) ValidateLLMConfig() error {
	if s.aiValidator == nil {
		return nil
	}
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return s.aiValidator.ValidateLLM(&settings.LLM)
}

// Helper methods for reading config with defaults.

func (s *SettingsService) apiKey(key, env string) string {
	if v := s.getenv(env); v != "" {
		return v
	}
	if v := s.configStore.GetString(key); v != "" {
		return v
	}
	return s.getenv(envOpenAIKey)
}

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val <= 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getNonNegativeInt(key string, defaultVal int) int {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	val := s.configStore.GetInt(key)
	if val < 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	val := s.configStore.GetFloat(key)
	if val <= 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFraction(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	val := s.configStore.GetFloat(key)
	if val < 0 || val > 1 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getProvider(key string, defaultVal domain.AIProvider) domain.AIProvider {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	provider := domain.AIProvider(val)
	if !provider.IsValid() {
		return defaultVal
	}
	return provider
}

func (s *SettingsService) getJudgeKind(defaultVal domain.JudgeKind) domain.JudgeKind {
	kind := domain.JudgeKind(s.configStore.GetString(keyJudgeKind))
	if !kind.IsValid() {
		return defaultVal
	}
	return kind
}

// maskSecret keeps the last four characters of a credential.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
