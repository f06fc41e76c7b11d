package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure embedding, judge and audit settings.

Settings live in config.toml in the config directory (default ~/.planaudit).
API keys may also come from OPENAI_API_KEY, PLANAUDIT_EMBEDDING_API_KEY and
PLANAUDIT_LLM_API_KEY, read from the environment or a .env file.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one setting",
	Long: `Set one setting by its dotted key.

Examples:
  planaudit settings set embedding.provider openai
  planaudit settings set judge.kind keyword
  planaudit settings set judge.timeout 90s`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check settings and provider connectivity",
	RunE:  runSettingsValidate,
}

var settingsWizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive setup wizard",
	Long:  `Run an interactive wizard to choose the embedding provider, the judge and its chat model.`,
	RunE:  runSettingsWizard,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
	settingsCmd.AddCommand(settingsWizardCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	values, err := settingsService.Values()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, values)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")

	section := ""
	for _, key := range settingsService.Keys() {
		group, name, ok := strings.Cut(key, ".")
		if !ok {
			group, name = "", key
		}
		if group != section {
			section = group
			cmd.Println()
			cmd.Printf("[%s]\n", section)
		}
		value := values[key]
		if value == "" {
			value = "(not set)"
		}
		cmd.Printf("  %s: %s\n", name, value)
	}
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'planaudit settings wizard' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Set(args[0], args[1]); err != nil {
		return fmt.Errorf("failed to set %s: %w", args[0], err)
	}

	if jsonOutput {
		return printJSON(cmd, map[string]string{"key": args[0], "status": "saved"})
	}
	cmd.Printf("Set %s\n", args[0])
	return nil
}

func runSettingsValidate(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Validate(); err != nil {
		return err
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Print("Embedding provider... ")
	if err := settingsService.ValidateEmbeddingConfig(); err != nil {
		cmd.Println("FAILED")
		return fmt.Errorf("embedding provider unreachable: %w", err)
	}
	cmd.Println("OK")

	if settings.Judge.Kind.RequiresLLM() {
		cmd.Print("Chat model... ")
		if err := settingsService.ValidateLLMConfig(); err != nil {
			cmd.Println("FAILED")
			return fmt.Errorf("chat model unreachable: %w", err)
		}
		cmd.Println("OK")
	}

	cmd.Println("Configuration is valid.")
	return nil
}

func runSettingsWizard(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	cmd.Println("planaudit Settings Wizard")
	cmd.Println("=========================")
	cmd.Println()

	reader := bufio.NewReader(cmd.InOrStdin())

	// Step 1: Embedding provider
	cmd.Println("Step 1: Embedding Provider")
	cmd.Println("--------------------------")
	if err := configureProvider(cmd, reader, "embedding", domain.DefaultEmbeddingModels()); err != nil {
		return err
	}

	// Step 2: Judge
	cmd.Println("Step 2: Judge")
	cmd.Println("-------------")
	kinds := domain.AllJudgeKinds()
	for i, k := range kinds {
		cmd.Printf("  %d. %s\n", i+1, k.Description())
	}
	cmd.Printf("\nEnter choice [%d]: ", len(kinds))
	kind := kinds[parseChoice(readLine(reader), len(kinds), len(kinds))-1]
	if err := settingsService.Set("judge.kind", string(kind)); err != nil {
		return fmt.Errorf("failed to set judge: %w", err)
	}
	cmd.Printf("Judge set to: %s\n\n", kind.Description())

	// Step 3: Chat model (if needed)
	if kind.RequiresLLM() {
		cmd.Println("Step 3: Chat Model")
		cmd.Println("------------------")
		if err := configureProvider(cmd, reader, "llm", domain.DefaultLLMModels()); err != nil {
			return err
		}
	} else {
		cmd.Println("Step 3: Chat Model (skipped)")
		cmd.Println("----------------------------")
		cmd.Println("Not required for this judge.")
		cmd.Println()
	}

	cmd.Println("Configuration Complete!")
	cmd.Println("=======================")
	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
	} else {
		cmd.Println("All settings are valid and saved.")
	}

	return nil
}

// configureProvider asks for provider, model and API key and stores them under section.
func configureProvider(cmd *cobra.Command, reader *bufio.Reader, section string, models map[domain.AIProvider]string) error {
	providers := domain.AllAIProviders()
	for i, p := range providers {
		cmd.Printf("  %d. %s\n", i+1, p.Description())
	}
	cmd.Print("\nEnter choice [1]: ")
	provider := providers[parseChoice(readLine(reader), len(providers), 1)-1]

	defaultModel := models[provider]
	cmd.Printf("Enter model name [%s]: ", defaultModel)
	model := readLine(reader)
	if model == "" {
		model = defaultModel
	}

	var apiKey string
	if provider.RequiresAPIKey() {
		cmd.Print("Enter API key (empty to use the environment): ")
		apiKey = readPassword(cmd.InOrStdin(), reader)
		cmd.Println()
	}

	if err := settingsService.Set(section+".provider", string(provider)); err != nil {
		return fmt.Errorf("failed to set %s provider: %w", section, err)
	}
	if err := settingsService.Set(section+".model", model); err != nil {
		return fmt.Errorf("failed to set %s model: %w", section, err)
	}
	if apiKey != "" {
		if err := settingsService.Set(section+".api_key", apiKey); err != nil {
			return fmt.Errorf("failed to set %s API key: %w", section, err)
		}
	}

	cmd.Printf("%s provider configured: %s (%s)\n\n", section, provider.Description(), model)
	return nil
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readPassword reads a secret without echo when in is a terminal.
func readPassword(in io.Reader, reader *bufio.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	return readLine(reader)
}
