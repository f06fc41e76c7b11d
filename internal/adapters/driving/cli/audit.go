package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/planaudit/internal/adapters/driven/catalog"
	"github.com/custodia-labs/planaudit/internal/adapters/driving/tui/progress"
	"github.com/custodia-labs/planaudit/internal/adapters/driving/tui/styles"
	"github.com/custodia-labs/planaudit/internal/core/domain"
)

var (
	auditCategories []string
	auditCatalog    string
	auditTopK       int
	auditProgress   bool
)

var auditCmd = &cobra.Command{
	Use:   "audit <file>",
	Short: "Audit a plan against the defect catalog",
	Long: `Audit a plan against every rule of the defect catalog.

Each rule is turned into a query, the most similar plan passages are
retrieved as evidence, and the configured judge decides whether the defect
is present, absent or uncertain. A rule whose judge fails is reported as
uncertain without failing the run.

Examples:
  planaudit audit plan.docx
  planaudit audit plan.docx --categories 脚手架工程,基坑工程 --top-k 5
  planaudit audit plan.docx --catalog extra-rules.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringSliceVarP(&auditCategories, "categories", "c", nil, "catalog categories to audit (default all)")
	auditCmd.Flags().StringVar(&auditCatalog, "catalog", "", "audit against this catalog file instead (jsonl, json, yaml)")
	auditCmd.Flags().IntVarP(&auditTopK, "top-k", "k", 0, "evidence passages per rule (0 = configured default)")
	auditCmd.Flags().BoolVar(&auditProgress, "progress", true, "show progress while judging")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	req := domain.AuditRequest{
		Categories: auditCategories,
		TopK:       auditTopK,
	}
	if auditCatalog != "" {
		cat, err := catalog.Load(auditCatalog)
		if err != nil {
			return err
		}
		req.Catalog = cat
	}

	upload, err := uploadFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	req.PlanID = upload.PlanID

	run := func(ctx context.Context, observer func(domain.ProgressEvent)) (*domain.AuditReport, error) {
		req.Progress = observer
		return auditService.Audit(ctx, req)
	}

	var report *domain.AuditReport
	if auditProgress && !jsonOutput {
		out := cmd.ErrOrStderr()
		report, err = progress.Run(cmd.Context(), out, isTerminal(out), run)
	} else {
		report, err = run(cmd.Context(), nil)
	}
	if err != nil {
		return fmt.Errorf("audit failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, report)
	}
	printReport(cmd, report, args[0])
	return nil
}

// printReport renders findings grouped by category, verdicts coloured on a terminal.
func printReport(cmd *cobra.Command, report *domain.AuditReport, source string) {
	st := styles.DefaultStyles()

	cmd.Println(st.Title.Render(fmt.Sprintf("Audit of %s", source)))
	cmd.Printf("Plan: %s  Judge: %s  Run: %s\n", report.PlanID, report.Judge, report.RunID)
	cmd.Printf("%d rules: %s, %s, %s\n",
		report.Summary.Total,
		st.Tally(domain.VerdictPresent, report.Summary.Present),
		st.Tally(domain.VerdictAbsent, report.Summary.Absent),
		st.Tally(domain.VerdictUncertain, report.Summary.Uncertain),
	)

	for _, c := range report.Categories {
		cmd.Println()
		cmd.Println(st.Subtitle.Render(c.Category))
		for _, f := range c.Findings {
			cmd.Printf("  %s #%s %s (confidence %.2f)\n", st.Badge(f.Verdict), f.Rule.Sequence, f.Rule.Scenario, f.Confidence)
			if f.Error != "" {
				cmd.Printf("            %s\n", st.Error.Render(f.Error))
			} else if f.Rationale != "" {
				cmd.Printf("            %s\n", snippet(f.Rationale, 200))
			}
			for _, e := range f.Evidence {
				cmd.Printf("            %s\n", st.Muted.Render(
					fmt.Sprintf("[%d] %.3f %s", e.Rank, e.Similarity, snippet(e.Chunk.Text, 80))))
			}
		}
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
