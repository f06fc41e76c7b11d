package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

func TestSettingsShowCmd(t *testing.T) {
	setupTestServices(t)

	stdout, _, err := executeCommand(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, stdout, "[embedding]\n  model: nomic-embed-text\n  provider: ollama\n")
	assert.Contains(t, stdout, "[judge]\n  kind: model\n")
	assert.Contains(t, stdout, "Configuration is valid.")
}

func TestSettingsShowCmd_Default(t *testing.T) {
	setupTestServices(t)

	stdout, _, err := executeCommand(t, "settings")

	require.NoError(t, err)
	assert.Contains(t, stdout, "Current Settings")
}

func TestSettingsShowCmd_InvalidAndUnset(t *testing.T) {
	ts := setupTestServices(t)
	ts.settings.values["embedding.model"] = ""
	ts.settings.validateErr = errors.New("embedding model is required")

	stdout, _, err := executeCommand(t, "settings", "show")

	require.NoError(t, err)
	assert.Contains(t, stdout, "model: (not set)")
	assert.Contains(t, stdout, "Warning: embedding model is required")
}

func TestSettingsShowCmd_JSON(t *testing.T) {
	setupTestServices(t)

	stdout, _, err := executeCommand(t, "settings", "show", "--json")

	require.NoError(t, err)
	assert.JSONEq(t, `{"embedding.model":"nomic-embed-text","embedding.provider":"ollama","judge.kind":"model"}`, stdout)
}

func TestSettingsSetCmd(t *testing.T) {
	ts := setupTestServices(t)

	stdout, _, err := executeCommand(t, "settings", "set", "judge.kind", "keyword")

	require.NoError(t, err)
	assert.Equal(t, "keyword", ts.settings.set["judge.kind"])
	assert.Contains(t, stdout, "Set judge.kind")
}

func TestSettingsSetCmd_Rejected(t *testing.T) {
	ts := setupTestServices(t)
	ts.settings.setErr = domain.ErrInvalidArgument

	_, _, err := executeCommand(t, "settings", "set", "judge.kind", "oracle")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestSettingsValidateCmd(t *testing.T) {
	t.Run("model judge pings both providers", func(t *testing.T) {
		setupTestServices(t)

		stdout, _, err := executeCommand(t, "settings", "validate")

		require.NoError(t, err)
		assert.Contains(t, stdout, "Embedding provider... OK")
		assert.Contains(t, stdout, "Chat model... OK")
	})

	t.Run("keyword judge skips chat model", func(t *testing.T) {
		ts := setupTestServices(t)
		ts.settings.settings.Judge.Kind = domain.JudgeKeyword
		ts.settings.llmErr = errors.New("unreachable")

		stdout, _, err := executeCommand(t, "settings", "validate")

		require.NoError(t, err)
		assert.NotContains(t, stdout, "Chat model")
	})

	t.Run("embedding failure", func(t *testing.T) {
		ts := setupTestServices(t)
		ts.settings.embedErr = domain.ErrProviderTransient

		stdout, _, err := executeCommand(t, "settings", "validate")

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrProvider)
		assert.Contains(t, stdout, "Embedding provider... FAILED")
	})

	t.Run("invalid settings", func(t *testing.T) {
		ts := setupTestServices(t)
		ts.settings.validateErr = errors.New("chunk overlap must be below chunk size")

		_, _, err := executeCommand(t, "settings", "validate")

		assert.EqualError(t, err, "chunk overlap must be below chunk size")
	})
}

func TestSettingsWizardCmd(t *testing.T) {
	t.Run("keyword judge", func(t *testing.T) {
		ts := setupTestServices(t)
		// OpenAI embedding, custom model, API key, keyword judge.
		rootCmd.SetIn(strings.NewReader("2\ntext-embedding-3-large\nsk-test\n1\n"))
		defer rootCmd.SetIn(nil)

		stdout, _, err := executeCommand(t, "settings", "wizard")

		require.NoError(t, err)
		assert.Equal(t, "openai", ts.settings.set["embedding.provider"])
		assert.Equal(t, "text-embedding-3-large", ts.settings.set["embedding.model"])
		assert.Equal(t, "sk-test", ts.settings.set["embedding.api_key"])
		assert.Equal(t, "keyword", ts.settings.set["judge.kind"])
		assert.NotContains(t, ts.settings.set, "llm.provider")
		assert.Contains(t, stdout, "Not required for this judge.")
		assert.Contains(t, stdout, "All settings are valid and saved.")
	})

	t.Run("defaults select ollama and the model judge", func(t *testing.T) {
		ts := setupTestServices(t)
		rootCmd.SetIn(strings.NewReader("\n\n\n\n\n"))
		defer rootCmd.SetIn(nil)

		_, _, err := executeCommand(t, "settings", "wizard")

		require.NoError(t, err)
		assert.Equal(t, "ollama", ts.settings.set["embedding.provider"])
		assert.Equal(t, "nomic-embed-text", ts.settings.set["embedding.model"])
		assert.Equal(t, "model", ts.settings.set["judge.kind"])
		assert.Equal(t, "ollama", ts.settings.set["llm.provider"])
		assert.Equal(t, "qwen2.5:7b", ts.settings.set["llm.model"])
		assert.NotContains(t, ts.settings.set, "embedding.api_key")
	})
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		maxVal     int
		defaultVal int
		expected   int
	}{
		{name: "Empty input returns default", input: "", maxVal: 5, defaultVal: 1, expected: 1},
		{name: "Valid choice within range", input: "3", maxVal: 5, defaultVal: 1, expected: 3},
		{name: "Choice below minimum returns default", input: "0", maxVal: 5, defaultVal: 1, expected: 1},
		{name: "Choice above maximum returns default", input: "6", maxVal: 5, defaultVal: 1, expected: 1},
		{name: "Invalid input returns default", input: "abc", maxVal: 5, defaultVal: 2, expected: 2},
		{name: "Negative number returns default", input: "-1", maxVal: 5, defaultVal: 1, expected: 1},
		{name: "Whitespace returns default", input: "   ", maxVal: 5, defaultVal: 1, expected: 1},
		{name: "Maximum value is valid", input: "5", maxVal: 5, defaultVal: 1, expected: 5},
		{name: "Minimum value is valid", input: "1", maxVal: 5, defaultVal: 3, expected: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseChoice(tt.input, tt.maxVal, tt.defaultVal)
			assert.Equal(t, tt.expected, result)
		})
	}
}
