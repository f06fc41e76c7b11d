package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

var catalogCategory string

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the defect catalog",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog rules",
	Long: `List the rules of the defect catalog, grouped by category.

The catalog is read from catalog.path (default ~/.planaudit/catalog.jsonl),
falling back to the built-in catalog when that file does not exist.`,
	RunE: runCatalogList,
}

func init() {
	catalogListCmd.Flags().StringVar(&catalogCategory, "category", "", "only list this category")
	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

// currentCatalog returns the audit service's catalog, loading it from settings
// when no audit service is wired.
func currentCatalog() (*domain.Catalog, error) {
	if auditService != nil {
		return auditService.Catalog(), nil
	}
	if settingsService == nil {
		return nil, errors.New("settings service not configured")
	}
	settings, err := settingsService.Get()
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return loadCatalog(settings, configDir)
}

func runCatalogList(cmd *cobra.Command, _ []string) error {
	cat, err := currentCatalog()
	if err != nil {
		return err
	}

	var filter []string
	if catalogCategory != "" {
		filter = []string{catalogCategory}
	}
	rules := cat.Filter(filter)

	if jsonOutput {
		return printJSON(cmd, rules)
	}

	if len(rules) == 0 {
		cmd.Printf("No rules in category %q. Categories: %v\n", catalogCategory, cat.Categories())
		return nil
	}

	current := ""
	for _, r := range rules {
		if r.Category != current {
			if current != "" {
				cmd.Println()
			}
			current = r.Category
			cmd.Printf("[%s]\n", current)
		}
		severity := ""
		if r.Severity != "" {
			severity = fmt.Sprintf(" (%s)", r.Severity)
		}
		cmd.Printf("  %s. %s%s\n", r.Sequence, r.Scenario, severity)
	}
	return nil
}
