package driving

import "github.com/custodia-labs/planaudit/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current application settings, defaults filled in.
	Get() (*domain.AppSettings, error)

	// Set validates and stores one dotted key.
	Set(key, value string) error

	// Keys returns the settable keys, sorted.
	Keys() []string

	// Values returns the effective value of every key, credentials masked.
	Values() (map[string]string, error)

	// Validate checks that the settings are consistent.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.AppSettings

	// ValidateEmbeddingConfig pings the configured embedding provider.
	ValidateEmbeddingConfig() error

	// ValidateLLMConfig pings the configured chat model, when one is configured.
	ValidateLLMConfig() error
}
