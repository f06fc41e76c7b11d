package memory

import (
	"maps"
	"slices"
	"sync"

	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

var _ driven.ConfigStore = (*ConfigStore)(nil)

// ConfigStore keeps settings in a map. It backs tests and runs with no
// config directory; nothing survives the process.
type ConfigStore struct {
	mu     sync.RWMutex
	values map[string]any
	writes int
}

// NewConfigStore returns a store holding a copy of seed, which may be nil.
func NewConfigStore(seed ...map[string]any) *ConfigStore {
	s := &ConfigStore{values: make(map[string]any)}
	for _, m := range seed {
		maps.Copy(s.values, m)
	}
	return s
}

func (s *ConfigStore) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *ConfigStore) GetString(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)
	return str
}

// GetInt truncates float values.
func (s *ConfigStore) GetInt(key string) int {
	v, _ := s.Get(key)
	n, _ := number[int](v)
	return n
}

func (s *ConfigStore) GetFloat(key string) float64 {
	v, _ := s.Get(key)
	f, _ := number[float64](v)
	return f
}

func (s *ConfigStore) GetBool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)
	return b
}

// Set never fails.
func (s *ConfigStore) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.writes++
	return nil
}

func (s *ConfigStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.values))
}

// Writes counts successful Set calls.
func (s *ConfigStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func (s *ConfigStore) Load() error { return nil }

func (s *ConfigStore) Path() string { return ":memory:" }

func number[T int | float64](v any) (T, bool) {
	switch n := v.(type) {
	case int:
		return T(n), true
	case int64:
		return T(n), true
	case float64:
		return T(n), true
	default:
		return 0, false
	}
}
