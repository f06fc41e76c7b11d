package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

var (
	queryTopK int
	checkTopK int
	askTopK   int
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Upload plan documents",
	Long: `Extract, chunk and embed plan documents, recording them in the plan manifest.

Supported formats: txt, md, docx, html. Embeddings are cached, so uploading
an unchanged document again costs no provider calls.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpload,
}

var queryCmd = &cobra.Command{
	Use:   "query <file> <query>",
	Short: "Find the plan passages most similar to a query",
	Args:  cobra.ExactArgs(2),
	RunE:  runQuery,
}

var askCmd = &cobra.Command{
	Use:   "ask <file> <question>",
	Short: "Ask the chat model a question about a plan",
	Long: `Answer a question from the plan passages most similar to it.

The answer cites passages by number; the passages follow it. Needs
llm.provider to be set.

Example:
  planaudit ask tower-crane.docx "塔吊基础如何验收？"`,
	Args: cobra.ExactArgs(2),
	RunE: runAsk,
}

var checkCmd = &cobra.Command{
	Use:   "check <file> <category> <scenario>",
	Short: "Check a plan for one defect scenario",
	Long: `Check a plan for one defect scenario that need not be in the catalog.

Example:
  planaudit check tower-crane.docx 起重吊装 "未明确吊装作业警戒区域"`,
	Args: cobra.ExactArgs(3),
	RunE: runCheck,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 3, "number of passages to return")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "passages to answer from (0 = 5)")
	checkCmd.Flags().IntVarP(&checkTopK, "top-k", "k", 0, "evidence passages per rule (0 = configured default)")

	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(checkCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	type uploaded struct {
		File string `json:"file"`
		*domain.UploadResult
	}
	results := make([]uploaded, 0, len(args))

	for _, path := range args {
		res, err := uploadFile(cmd.Context(), path)
		if err != nil {
			return err
		}
		results = append(results, uploaded{File: path, UploadResult: res})
	}

	if jsonOutput {
		return printJSON(cmd, results)
	}

	for _, r := range results {
		reused := ""
		if r.Reused {
			reused = " (already loaded)"
		}
		cmd.Printf("%s: plan %s, %d chunks, %d characters%s\n", r.File, r.PlanID, r.ChunkCount, r.TextLength, reused)
	}
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	upload, err := uploadFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	results, err := planService.Query(cmd.Context(), upload.PlanID, args[1], queryTopK)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, results)
	}

	if len(results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Println("Results:")
	cmd.Println()
	for _, r := range results {
		// Format: [rank] chunk N (similarity)
		cmd.Printf("  [%d] chunk %d (%.3f)\n", r.Rank, r.Chunk.Index, r.Similarity)
		cmd.Printf("      %s\n", snippet(r.Chunk.Text, 160))
		cmd.Println()
	}
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	upload, err := uploadFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	answer, err := planService.Ask(cmd.Context(), upload.PlanID, args[1], askTopK)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, answer)
	}

	cmd.Println(answer.Text)
	cmd.Println()
	cmd.Printf("Sources (%s):\n", answer.Model)
	for _, r := range answer.Evidence {
		cmd.Printf("  [%d] chunk %d (%.3f) %s\n", r.Rank, r.Chunk.Index, r.Similarity, snippet(r.Chunk.Text, 100))
	}
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	if err := ensureServices(cmd.Context()); err != nil {
		return err
	}

	upload, err := uploadFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	report, err := auditService.CheckCategory(cmd.Context(), upload.PlanID, args[1], args[2], checkTopK)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	if jsonOutput {
		return printJSON(cmd, report)
	}
	printReport(cmd, report, args[0])
	return nil
}

// uploadFile reads path and uploads it under its base name.
func uploadFile(ctx context.Context, path string) (*domain.UploadResult, error) {
	if planService == nil {
		return nil, errors.New("plan service not configured")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrInvalidArgument, path, err)
	}

	res, err := planService.Upload(ctx, filepath.Base(path), data)
	if err != nil {
		return nil, fmt.Errorf("upload %s: %w", path, err)
	}
	return res, nil
}

// snippet flattens whitespace and shortens text for one-line display.
func snippet(text string, n int) string {
	return domain.Truncate(strings.Join(strings.Fields(text), " "), n)
}
