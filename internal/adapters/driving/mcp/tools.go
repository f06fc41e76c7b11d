package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// defaultTopK is the evidence count when a tool call leaves top_k unset.
const defaultTopK = 3

// UploadPlanInput is the input schema for the upload_plan tool.
// Exactly one of Path, Text and ContentBase64 must be set.
type UploadPlanInput struct {
	Filename      string `json:"filename,omitempty" jsonschema:"name of the plan document, its extension selects the format (txt, md, docx, html)"`
	Path          string `json:"path,omitempty" jsonschema:"path of the plan document, relative to the server's file root"`
	Text          string `json:"text,omitempty" jsonschema:"plain text of the plan"`
	ContentBase64 string `json:"content_base64,omitempty" jsonschema:"base64 encoded document bytes"`
}

// QueryPlanInput is the input schema for the query_plan tool.
type QueryPlanInput struct {
	PlanID string `json:"plan_id" jsonschema:"id returned by upload_plan"`
	Query  string `json:"query" jsonschema:"text to find similar plan passages for"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"number of passages to return (default 3)"`
}

// QueryPlanOutput is the output schema for the query_plan tool.
type QueryPlanOutput struct {
	Results []EvidenceOutput `json:"results"`
	Count   int              `json:"count"`
}

// AskPlanInput is the input schema for the ask_plan tool.
type AskPlanInput struct {
	PlanID   string `json:"plan_id" jsonschema:"id returned by upload_plan"`
	Question string `json:"question" jsonschema:"question about the plan"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of passages to answer from (default 5)"`
}

// AskPlanOutput is the output schema for the ask_plan tool.
type AskPlanOutput struct {
	PlanID   string           `json:"plan_id"`
	Answer   string           `json:"answer"`
	Model    string           `json:"model"`
	Evidence []EvidenceOutput `json:"evidence"`
}

// CheckCategoryInput is the input schema for the check_category tool.
type CheckCategoryInput struct {
	PlanID   string `json:"plan_id" jsonschema:"id returned by upload_plan"`
	Category string `json:"category" jsonschema:"defect category, such as 脚手架工程"`
	Scenario string `json:"scenario" jsonschema:"defect scenario to check the plan for"`
	TopK     int    `json:"top_k,omitempty" jsonschema:"number of evidence passages (default 3)"`
}

// FullAuditInput is the input schema for the full_audit tool.
type FullAuditInput struct {
	PlanID     string   `json:"plan_id" jsonschema:"id returned by upload_plan"`
	Categories []string `json:"categories,omitempty" jsonschema:"catalog categories to audit, all when empty"`
	TopK       int      `json:"top_k,omitempty" jsonschema:"number of evidence passages per rule (default 3)"`
}

// PlanIDInput is the input schema of tools that act on one plan.
type PlanIDInput struct {
	PlanID string `json:"plan_id" jsonschema:"id returned by upload_plan"`
}

// EmptyInput is the input schema of tools without arguments.
type EmptyInput struct{}

// EvidenceOutput is one retrieved plan passage.
type EvidenceOutput struct {
	Index      int     `json:"index"`
	Rank       int     `json:"rank"`
	Similarity float64 `json:"similarity"`
	Text       string  `json:"text"`
}

// FindingOutput is the verdict for one rule.
type FindingOutput struct {
	Sequence   string           `json:"sequence"`
	Scenario   string           `json:"scenario"`
	Severity   string           `json:"severity,omitempty"`
	Verdict    string           `json:"verdict"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale"`
	Error      string           `json:"error,omitempty"`
	Evidence   []EvidenceOutput `json:"evidence"`
}

// CategoryOutput groups the findings of one category.
type CategoryOutput struct {
	Category string          `json:"category"`
	Findings []FindingOutput `json:"findings"`
}

// ReportOutput is the output schema of check_category and full_audit.
type ReportOutput struct {
	RunID      string              `json:"run_id"`
	PlanID     string              `json:"plan_id"`
	State      string              `json:"state"`
	Judge      string              `json:"judge"`
	StartedAt  string              `json:"started_at"`
	FinishedAt string              `json:"finished_at"`
	Summary    domain.AuditSummary `json:"summary"`
	Categories []CategoryOutput    `json:"categories"`
}

// PlanOutput describes a loaded or previously uploaded plan.
type PlanOutput struct {
	PlanID         string `json:"plan_id"`
	Filename       string `json:"filename"`
	EmbeddingModel string `json:"embedding_model"`
	ChunkCount     int    `json:"chunk_count"`
	TextLength     int    `json:"text_length"`
	UploadedAt     string `json:"uploaded_at"`
	Loaded         bool   `json:"loaded"`
	ContentPreview string `json:"content_preview,omitempty"`
}

// ListPlansOutput is the output schema for the list_plans tool.
type ListPlansOutput struct {
	Plans []PlanOutput `json:"plans"`
	Count int          `json:"count"`
}

// EvictPlanOutput is the output schema for the evict_plan tool.
type EvictPlanOutput struct {
	PlanID  string `json:"plan_id"`
	Evicted bool   `json:"evicted"`
}

// ClearPlansOutput is the output schema for the clear_plans tool.
type ClearPlansOutput struct {
	Unloaded int `json:"unloaded"`
}

// StatusOutput is the output schema for the status tool.
type StatusOutput struct {
	LoadedPlans       []PlanOutput `json:"loaded_plans"`
	StoredPlans       int          `json:"stored_plans"`
	CatalogRules      int          `json:"catalog_rules"`
	CatalogCategories []string     `json:"catalog_categories"`
	CacheEntries      int          `json:"cache_entries"`
	EmbeddingModel    string       `json:"embedding_model"`
	Judge             string       `json:"judge"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "upload_plan",
		Description: "Upload a construction plan document. Identical content reuses the loaded plan.",
	}, s.handleUploadPlan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query_plan",
		Description: "Find the plan passages most similar to a query",
	}, s.handleQueryPlan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_plan",
		Description: "Answer a question about a plan from its most similar passages, citing them by number",
	}, s.handleAskPlan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "check_category",
		Description: "Check a plan for one defect scenario under a category",
	}, s.handleCheckCategory)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "full_audit",
		Description: "Audit a plan against every rule of the defect catalog, or the given categories",
	}, s.handleFullAudit)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_plans",
		Description: "List loaded and previously uploaded plans",
	}, s.handleListPlans)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "evict_plan",
		Description: "Unload a plan and forget its upload record",
	}, s.handleEvictPlan)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "clear_plans",
		Description: "Unload every plan. Upload records and cached embeddings are kept",
	}, s.handleClearPlans)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "status",
		Description: "Show loaded plans, the defect catalog and the embedding cache",
	}, s.handleStatus)
}

// handleUploadPlan handles the upload_plan tool invocation.
func (s *Server) handleUploadPlan(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input UploadPlanInput,
) (*mcp.CallToolResult, domain.UploadResult, error) {
	set := 0
	for _, v := range []string{input.Path, input.Text, input.ContentBase64} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		err := fmt.Errorf("%w: exactly one of path, text and content_base64 is required", domain.ErrInvalidArgument)
		return nil, domain.UploadResult{}, toolError("upload_plan", err)
	}

	var (
		result *domain.UploadResult
		err    error
	)
	switch {
	case input.Text != "":
		filename := input.Filename
		if filename == "" {
			filename = "plan.txt"
		}
		result, err = s.ports.Plans.UploadText(ctx, filename, input.Text)

	case input.Path != "":
		var data []byte
		data, err = s.readPlanFile(input.Path)
		if err != nil {
			break
		}
		filename := input.Filename
		if filename == "" {
			filename = filepath.Base(input.Path)
		}
		result, err = s.ports.Plans.Upload(ctx, filename, data)

	default:
		var data []byte
		data, err = base64.StdEncoding.DecodeString(input.ContentBase64)
		if err != nil {
			err = fmt.Errorf("%w: content_base64: %v", domain.ErrInvalidArgument, err)
			break
		}
		if input.Filename == "" {
			err = fmt.Errorf("%w: filename is required with content_base64", domain.ErrInvalidArgument)
			break
		}
		result, err = s.ports.Plans.Upload(ctx, input.Filename, data)
	}
	if err != nil {
		return nil, domain.UploadResult{}, toolError("upload_plan", err)
	}

	return nil, *result, nil
}

// handleQueryPlan handles the query_plan tool invocation.
func (s *Server) handleQueryPlan(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryPlanInput,
) (*mcp.CallToolResult, QueryPlanOutput, error) {
	topK := input.TopK
	if topK == 0 {
		topK = defaultTopK
	}

	results, err := s.ports.Plans.Query(ctx, input.PlanID, input.Query, topK)
	if err != nil {
		return nil, QueryPlanOutput{}, toolError("query_plan", err)
	}

	output := QueryPlanOutput{
		Results: evidenceOutputs(results),
		Count:   len(results),
	}
	return nil, output, nil
}

// handleAskPlan handles the ask_plan tool invocation.
func (s *Server) handleAskPlan(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskPlanInput,
) (*mcp.CallToolResult, AskPlanOutput, error) {
	answer, err := s.ports.Plans.Ask(ctx, input.PlanID, input.Question, input.TopK)
	if err != nil {
		return nil, AskPlanOutput{}, toolError("ask_plan", err)
	}

	return nil, AskPlanOutput{
		PlanID:   answer.PlanID,
		Answer:   answer.Text,
		Model:    answer.Model,
		Evidence: evidenceOutputs(answer.Evidence),
	}, nil
}

// handleCheckCategory handles the check_category tool invocation.
func (s *Server) handleCheckCategory(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CheckCategoryInput,
) (*mcp.CallToolResult, ReportOutput, error) {
	report, err := s.ports.Audit.CheckCategory(ctx, input.PlanID, input.Category, input.Scenario, input.TopK)
	if err != nil {
		return nil, ReportOutput{}, toolError("check_category", err)
	}
	return nil, reportOutput(report), nil
}

// handleFullAudit handles the full_audit tool invocation.
// Progress is reported to clients that sent a progress token.
func (s *Server) handleFullAudit(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input FullAuditInput,
) (*mcp.CallToolResult, ReportOutput, error) {
	report, err := s.ports.Audit.Audit(ctx, domain.AuditRequest{
		PlanID:     input.PlanID,
		Categories: input.Categories,
		TopK:       input.TopK,
		Progress:   progressNotifier(ctx, req),
	})
	if err != nil {
		return nil, ReportOutput{}, toolError("full_audit", err)
	}
	return nil, reportOutput(report), nil
}

// handleListPlans handles the list_plans tool invocation.
// Loaded plans come first; upload records of unloaded plans follow.
func (s *Server) handleListPlans(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ EmptyInput,
) (*mcp.CallToolResult, ListPlansOutput, error) {
	records, err := s.ports.Plans.Records(ctx)
	if err != nil {
		return nil, ListPlansOutput{}, toolError("list_plans", err)
	}

	plans := planOutputs(s.ports.Plans.List(ctx))
	loaded := make(map[string]bool, len(plans))
	for i := range plans {
		loaded[plans[i].PlanID] = true
	}
	for _, r := range records {
		if !loaded[r.ID] {
			plans = append(plans, PlanOutput{
				PlanID:         r.ID,
				Filename:       r.OriginalFilename,
				EmbeddingModel: r.EmbeddingModel,
				ChunkCount:     r.ChunkCount,
				TextLength:     r.TextLength,
				UploadedAt:     formatTime(r.UploadedAt),
				ContentPreview: r.ContentPreview,
			})
		}
	}

	return nil, ListPlansOutput{Plans: plans, Count: len(plans)}, nil
}

// handleEvictPlan handles the evict_plan tool invocation.
func (s *Server) handleEvictPlan(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PlanIDInput,
) (*mcp.CallToolResult, EvictPlanOutput, error) {
	if err := s.ports.Plans.Evict(ctx, input.PlanID); err != nil {
		return nil, EvictPlanOutput{}, toolError("evict_plan", err)
	}
	return nil, EvictPlanOutput{PlanID: input.PlanID, Evicted: true}, nil
}

// handleClearPlans handles the clear_plans tool invocation.
func (s *Server) handleClearPlans(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ EmptyInput,
) (*mcp.CallToolResult, ClearPlansOutput, error) {
	return nil, ClearPlansOutput{Unloaded: s.ports.Plans.Clear(ctx)}, nil
}

// handleStatus handles the status tool invocation.
func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ EmptyInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	status, err := s.ports.Plans.Status(ctx)
	if err != nil {
		return nil, StatusOutput{}, toolError("status", err)
	}

	return nil, StatusOutput{
		LoadedPlans:       planOutputs(status.LoadedPlans),
		StoredPlans:       status.StoredPlans,
		CatalogRules:      status.CatalogRules,
		CatalogCategories: status.CatalogCategory,
		CacheEntries:      status.CacheEntries,
		EmbeddingModel:    status.EmbeddingModel,
		Judge:             status.Judge,
	}, nil
}

// progressNotifier forwards audit progress to the client, when it asked for it.
func progressNotifier(ctx context.Context, req *mcp.CallToolRequest) func(domain.ProgressEvent) {
	if req == nil || req.Session == nil || req.Params == nil {
		return nil
	}
	token := req.Params.GetProgressToken()
	if token == nil {
		return nil
	}

	return func(ev domain.ProgressEvent) {
		msg := string(ev.State)
		if ev.Rule != nil {
			msg = fmt.Sprintf("%s: %s", ev.Rule.Key(), ev.Verdict)
		}
		//nolint:errcheck
		req.Session.NotifyProgress(ctx, &mcp.ProgressNotificationParams{
			ProgressToken: token,
			Progress:      float64(ev.Done),
			Total:         float64(ev.Total),
			Message:       msg,
		})
	}
}

func evidenceOutputs(results []domain.RetrievalResult) []EvidenceOutput {
	out := make([]EvidenceOutput, len(results))
	for i, r := range results {
		out[i] = EvidenceOutput{
			Index:      r.Chunk.Index,
			Rank:       r.Rank,
			Similarity: r.Similarity,
			Text:       r.Chunk.Text,
		}
	}
	return out
}

func reportOutput(report *domain.AuditReport) ReportOutput {
	out := ReportOutput{
		RunID:      report.RunID,
		PlanID:     report.PlanID,
		State:      string(report.State),
		Judge:      report.Judge,
		StartedAt:  formatTime(report.StartedAt),
		FinishedAt: formatTime(report.FinishedAt),
		Summary:    report.Summary,
		Categories: make([]CategoryOutput, len(report.Categories)),
	}

	for i, c := range report.Categories {
		findings := make([]FindingOutput, len(c.Findings))
		for j, f := range c.Findings {
			findings[j] = FindingOutput{
				Sequence:   f.Rule.Sequence,
				Scenario:   f.Rule.Scenario,
				Severity:   string(f.Rule.Severity),
				Verdict:    string(f.Verdict),
				Confidence: f.Confidence,
				Rationale:  f.Rationale,
				Error:      f.Error,
				Evidence:   evidenceOutputs(f.Evidence),
			}
		}
		out.Categories[i] = CategoryOutput{Category: c.Category, Findings: findings}
	}
	return out
}

func planOutputs(plans []domain.PlanSummary) []PlanOutput {
	out := make([]PlanOutput, len(plans))
	for i, p := range plans {
		out[i] = PlanOutput{
			PlanID:         p.ID,
			Filename:       p.Filename,
			EmbeddingModel: p.Model,
			ChunkCount:     p.ChunkCount,
			TextLength:     p.TextLength,
			UploadedAt:     formatTime(p.CreatedAt),
			Loaded:         true,
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
