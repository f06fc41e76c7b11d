package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "Manage uploaded plans",
	Long:  `List, delete and inspect the plans recorded in the plan manifest.`,
}

var plansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List uploaded plans",
	RunE:  runPlansList,
}

var plansDeleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Forget an uploaded plan",
	Long: `Remove a plan from the manifest and unload it.
Cached embeddings are kept so a later upload of the same text stays cheap.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlansDelete,
}

var plansStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show loaded plans, catalog and cache state",
	RunE:  runPlansStatus,
}

func init() {
	plansCmd.AddCommand(plansListCmd)
	plansCmd.AddCommand(plansDeleteCmd)
	plansCmd.AddCommand(plansStatusCmd)
	rootCmd.AddCommand(plansCmd)
}

func runPlansList(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	records, err := planService.Records(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list plans: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, records)
	}

	if len(records) == 0 {
		cmd.Println("No plans uploaded yet. Run 'planaudit upload <file>' to add one.")
		return nil
	}

	cmd.Printf("Plans (%d):\n\n", len(records))
	for _, r := range records {
		cmd.Printf("  %s  %s\n", r.ID, r.OriginalFilename)
		cmd.Printf("      %d chunks, %d characters, %s, uploaded %s\n",
			r.ChunkCount, r.TextLength, r.EmbeddingModel, r.UploadedAt.Local().Format(time.DateTime))
		if r.ContentPreview != "" {
			cmd.Printf("      %s\n", snippet(r.ContentPreview, 80))
		}
	}
	return nil
}

func runPlansDelete(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}
	if err := planService.Evict(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to delete plan: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, map[string]any{"plan_id": args[0], "deleted": true})
	}
	cmd.Printf("Deleted plan %s\n", args[0])
	return nil
}

func runPlansStatus(cmd *cobra.Command, _ []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	status, err := planService.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, status)
	}

	cmd.Println("Status")
	cmd.Println("======")
	cmd.Printf("  Embedding model: %s\n", status.EmbeddingModel)
	cmd.Printf("  Judge: %s\n", status.Judge)
	cmd.Printf("  Cached embeddings: %d\n", status.CacheEntries)
	cmd.Printf("  Uploaded plans: %d\n", status.StoredPlans)
	cmd.Printf("  Loaded plans: %d\n", len(status.LoadedPlans))
	cmd.Printf("  Catalog: %d rules in %d categories\n", status.CatalogRules, len(status.CatalogCategory))
	return nil
}
