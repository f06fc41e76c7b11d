package driven

// ConfigStore provides access to application configuration.
// Keys are dotted ("embedding.model"); the TOML adapter stores them as nested tables.
type ConfigStore interface {
	// Get retrieves a configuration value by key.
	// Returns the value and a boolean indicating if the key exists.
	Get(key string) (any, bool)

	// GetString returns "" if key doesn't exist or isn't a string.
	GetString(key string) string

	// GetInt returns 0 if key doesn't exist or isn't an integer.
	GetInt(key string) int

	// GetFloat returns 0 if key doesn't exist or isn't a number.
	GetFloat(key string) float64

	// GetBool returns false if key doesn't exist or isn't a boolean.
	GetBool(key string) bool

	// Set stores a configuration value and persists immediately.
	Set(key string, value any) error

	// Keys returns every stored key, sorted.
	Keys() []string

	// Load reads configuration from storage.
	Load() error

	// Path returns the configuration file path.
	Path() string
}
