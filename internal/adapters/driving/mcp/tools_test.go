package mcp

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

func TestServer_handleUploadPlan(t *testing.T) {
	ctx := context.Background()
	uploaded := &domain.UploadResult{PlanID: "abc123", TextLength: 42, ChunkCount: 1}

	t.Run("text", func(t *testing.T) {
		plans := &mockPlanService{result: uploaded}
		server := newTestServer(plans, &mockAuditService{})

		_, output, err := server.handleUploadPlan(ctx, nil, UploadPlanInput{Text: "脚手架专项施工方案"})
		require.NoError(t, err)
		assert.Equal(t, "abc123", output.PlanID)
		assert.Equal(t, "plan.txt", plans.uploadName)
		assert.Equal(t, "脚手架专项施工方案", plans.uploadText)
	})

	t.Run("path", func(t *testing.T) {
		root := t.TempDir()
		path := filepath.Join(root, "tower.md")
		require.NoError(t, os.WriteFile(path, []byte("# Tower"), 0o600))

		plans := &mockPlanService{result: uploaded}
		server := newTestServer(plans, &mockAuditService{}, WithFileRoot(root))

		_, _, err := server.handleUploadPlan(ctx, nil, UploadPlanInput{Path: path})
		require.NoError(t, err)
		assert.Equal(t, "tower.md", plans.uploadName)
		assert.Equal(t, []byte("# Tower"), plans.uploadData)
	})

	t.Run("relative path", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "site"), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(root, "site", "crane.txt"), []byte("塔吊"), 0o600))

		plans := &mockPlanService{result: uploaded}
		server := newTestServer(plans, &mockAuditService{}, WithFileRoot(root))

		_, _, err := server.handleUploadPlan(ctx, nil, UploadPlanInput{Path: "site/crane.txt"})
		require.NoError(t, err)
		assert.Equal(t, "crane.txt", plans.uploadName)
		assert.Equal(t, []byte("塔吊"), plans.uploadData)
	})

	t.Run("base64", func(t *testing.T) {
		plans := &mockPlanService{result: uploaded}
		server := newTestServer(plans, &mockAuditService{})

		input := UploadPlanInput{
			Filename:      "plan.html",
			ContentBase64: base64.StdEncoding.EncodeToString([]byte("<p>plan</p>")),
		}
		_, _, err := server.handleUploadPlan(ctx, nil, input)
		require.NoError(t, err)
		assert.Equal(t, []byte("<p>plan</p>"), plans.uploadData)
	})

	t.Run("invalid input", func(t *testing.T) {
		server := newTestServer(&mockPlanService{result: uploaded}, &mockAuditService{}, WithFileRoot(t.TempDir()))

		tests := []UploadPlanInput{
			{},
			{Text: "a", Path: "/tmp/b"},
			{ContentBase64: "!!!", Filename: "a.txt"},
			{ContentBase64: base64.StdEncoding.EncodeToString([]byte("x"))},
			{Path: "missing.txt"},
		}
		for _, input := range tests {
			_, _, err := server.handleUploadPlan(ctx, nil, input)
			var public domain.PublicError
			require.ErrorAs(t, err, &public)
			assert.Equal(t, domain.KindInvalidArgument, public.Kind)
		}
	})

	t.Run("paths outside the root are refused", func(t *testing.T) {
		root := t.TempDir()
		outside := filepath.Join(t.TempDir(), "secret.txt")
		require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o600))
		require.NoError(t, os.Symlink(outside, filepath.Join(root, "link.txt")))

		plans := &mockPlanService{result: uploaded}
		server := newTestServer(plans, &mockAuditService{}, WithFileRoot(root))

		for _, path := range []string{outside, "../" + filepath.Base(filepath.Dir(outside)) + "/secret.txt", "link.txt", "/etc/passwd"} {
			_, _, err := server.handleUploadPlan(ctx, nil, UploadPlanInput{Path: path})
			var public domain.PublicError
			require.ErrorAs(t, err, &public, path)
			assert.Equal(t, domain.KindInvalidArgument, public.Kind, path)
		}
		assert.Nil(t, plans.uploadData)
	})

	t.Run("paths are refused without a root", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "tower.md")
		require.NoError(t, os.WriteFile(path, []byte("# Tower"), 0o600))

		plans := &mockPlanService{result: uploaded}
		server := newTestServer(plans, &mockAuditService{})

		_, _, err := server.handleUploadPlan(ctx, nil, UploadPlanInput{Path: path})
		var public domain.PublicError
		require.ErrorAs(t, err, &public)
		assert.Equal(t, domain.KindInvalidArgument, public.Kind)
		assert.Contains(t, public.Message, "--root")
		assert.Nil(t, plans.uploadData)
	})

	t.Run("extraction failure is public", func(t *testing.T) {
		plans := &mockPlanService{err: fmt.Errorf("extract a.pdf: %w", domain.ErrUnsupportedFormat)}
		server := newTestServer(plans, &mockAuditService{})

		_, _, err := server.handleUploadPlan(ctx, nil, UploadPlanInput{Text: "x"})
		var public domain.PublicError
		require.ErrorAs(t, err, &public)
		assert.Equal(t, domain.KindExtraction, public.Kind)
	})
}

func TestServer_handleQueryPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("returns ranked passages", func(t *testing.T) {
		plans := &mockPlanService{results: []domain.RetrievalResult{
			{Chunk: domain.Chunk{Index: 2, Text: "安全保证措施"}, Similarity: 0.91, Rank: 1},
			{Chunk: domain.Chunk{Index: 0, Text: "工程概况"}, Similarity: 0.42, Rank: 2},
		}}
		server := newTestServer(plans, &mockAuditService{})

		_, output, err := server.handleQueryPlan(ctx, nil, QueryPlanInput{PlanID: "p", Query: "安全"})
		require.NoError(t, err)
		assert.Equal(t, 2, output.Count)
		assert.Equal(t, EvidenceOutput{Index: 2, Rank: 1, Similarity: 0.91, Text: "安全保证措施"}, output.Results[0])
		assert.Equal(t, defaultTopK, plans.queryTopK)
	})

	t.Run("not found", func(t *testing.T) {
		plans := &mockPlanService{err: fmt.Errorf("%w: plan \"p\"", domain.ErrNotFound)}
		server := newTestServer(plans, &mockAuditService{})

		_, _, err := server.handleQueryPlan(ctx, nil, QueryPlanInput{PlanID: "p", Query: "q", TopK: 5})
		var public domain.PublicError
		require.ErrorAs(t, err, &public)
		assert.Equal(t, domain.KindNotFound, public.Kind)
		assert.Equal(t, 5, plans.queryTopK)
	})
}

func TestServer_handleAskPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("answer with evidence", func(t *testing.T) {
		plans := &mockPlanService{answer: &domain.Answer{
			PlanID: "p",
			Text:   "安全措施见第三章[1]。",
			Model:  "qwen2.5:7b",
			Evidence: []domain.RetrievalResult{
				{Chunk: domain.Chunk{Index: 2, Text: "安全保证措施"}, Similarity: 0.91, Rank: 1},
			},
		}}
		server := newTestServer(plans, &mockAuditService{})

		_, output, err := server.handleAskPlan(ctx, nil, AskPlanInput{PlanID: "p", Question: "安全措施在哪里？"})
		require.NoError(t, err)
		assert.Equal(t, "安全措施见第三章[1]。", output.Answer)
		assert.Equal(t, "qwen2.5:7b", output.Model)
		assert.Equal(t, []EvidenceOutput{{Index: 2, Rank: 1, Similarity: 0.91, Text: "安全保证措施"}}, output.Evidence)
		assert.Equal(t, "安全措施在哪里？", plans.question)
		assert.Zero(t, plans.askTopK)
	})

	t.Run("no chat model", func(t *testing.T) {
		plans := &mockPlanService{err: fmt.Errorf("%w: no chat model is configured", domain.ErrProviderUnavailable)}
		server := newTestServer(plans, &mockAuditService{})

		_, _, err := server.handleAskPlan(ctx, nil, AskPlanInput{PlanID: "p", Question: "q", TopK: 2})
		var public domain.PublicError
		require.ErrorAs(t, err, &public)
		assert.Equal(t, domain.KindProvider, public.Kind)
		assert.Equal(t, 2, plans.askTopK)
	})
}

func TestServer_handleClearPlans(t *testing.T) {
	plans := &mockPlanService{cleared: 3}
	server := newTestServer(plans, &mockAuditService{})

	_, output, err := server.handleClearPlans(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, output.Unloaded)

	_, output, err = server.handleClearPlans(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Zero(t, output.Unloaded)
}

func testReport() *domain.AuditReport {
	started := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	return &domain.AuditReport{
		RunID:      "run-1",
		PlanID:     "p",
		State:      domain.AuditAggregated,
		Judge:      "keyword",
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
		Categories: []domain.CategoryFindings{{
			Category: "脚手架",
			Findings: []domain.AuditFinding{{
				Rule:       domain.DefectRule{Category: "脚手架", Sequence: "1", Scenario: "未设置连墙件", Severity: domain.SeverityHigh},
				Verdict:    domain.VerdictPresent,
				Rationale:  "no tie-ins",
				Confidence: 0.8,
				Evidence:   []domain.RetrievalResult{{Chunk: domain.Chunk{Index: 1, Text: "立杆"}, Similarity: 0.3, Rank: 1}},
			}},
		}},
		Summary: domain.AuditSummary{Total: 1, Present: 1},
	}
}

func TestServer_handleFullAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the report", func(t *testing.T) {
		audit := &mockAuditService{report: testReport()}
		server := newTestServer(&mockPlanService{}, audit)

		input := FullAuditInput{PlanID: "p", Categories: []string{"脚手架"}, TopK: 2}
		_, output, err := server.handleFullAudit(ctx, nil, input)
		require.NoError(t, err)

		assert.Equal(t, "run-1", output.RunID)
		assert.Equal(t, "aggregated", output.State)
		assert.Equal(t, "2026-03-01T08:00:02Z", output.FinishedAt)
		require.Len(t, output.Categories, 1)
		finding := output.Categories[0].Findings[0]
		assert.Equal(t, "present", finding.Verdict)
		assert.Equal(t, "high", finding.Severity)
		assert.Len(t, finding.Evidence, 1)
		assert.Equal(t, 1, output.Summary.Present)

		assert.Equal(t, []string{"脚手架"}, audit.request.Categories)
		assert.Equal(t, 2, audit.request.TopK)
		assert.Nil(t, audit.request.Progress, "no progress without a request")
	})

	t.Run("run failure", func(t *testing.T) {
		audit := &mockAuditService{err: fmt.Errorf("%w: top_k", domain.ErrInvalidArgument)}
		server := newTestServer(&mockPlanService{}, audit)

		_, _, err := server.handleFullAudit(ctx, nil, FullAuditInput{PlanID: "p"})
		var public domain.PublicError
		require.ErrorAs(t, err, &public)
		assert.Equal(t, domain.KindInvalidArgument, public.Kind)
	})

	t.Run("internal errors are hidden", func(t *testing.T) {
		audit := &mockAuditService{err: fmt.Errorf("sqlite: database is locked")}
		server := newTestServer(&mockPlanService{}, audit)

		_, _, err := server.handleFullAudit(ctx, nil, FullAuditInput{PlanID: "p"})
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "sqlite")
	})
}

func TestServer_handleCheckCategory(t *testing.T) {
	audit := &mockAuditService{report: testReport()}
	server := newTestServer(&mockPlanService{}, audit)

	input := CheckCategoryInput{PlanID: "p", Category: "基坑", Scenario: "未设置降水措施", TopK: 1}
	_, output, err := server.handleCheckCategory(context.Background(), nil, input)
	require.NoError(t, err)

	require.Len(t, output.Categories, 1)
	assert.Equal(t, "基坑", output.Categories[0].Category)
	assert.Equal(t, "-", output.Categories[0].Findings[0].Sequence)
	assert.Equal(t, 1, audit.request.TopK)
}

func TestServer_handleListPlans(t *testing.T) {
	created := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	plans := &mockPlanService{
		plans: []domain.PlanSummary{{ID: "loaded", Filename: "a.docx", ChunkCount: 4, CreatedAt: created}},
		records: []domain.PlanRecord{
			{ID: "loaded", OriginalFilename: "a.docx"},
			{ID: "stored", OriginalFilename: "b.txt", ContentPreview: "工程概况"},
		},
	}
	server := newTestServer(plans, &mockAuditService{})

	_, output, err := server.handleListPlans(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)

	require.Equal(t, 2, output.Count)
	assert.Equal(t, "loaded", output.Plans[0].PlanID)
	assert.True(t, output.Plans[0].Loaded)
	assert.Equal(t, "2026-03-01T08:00:00Z", output.Plans[0].UploadedAt)
	assert.Equal(t, "stored", output.Plans[1].PlanID)
	assert.False(t, output.Plans[1].Loaded)
	assert.Equal(t, "工程概况", output.Plans[1].ContentPreview)
}

func TestServer_handleEvictPlan(t *testing.T) {
	plans := &mockPlanService{}
	server := newTestServer(plans, &mockAuditService{})

	_, output, err := server.handleEvictPlan(context.Background(), nil, PlanIDInput{PlanID: "p"})
	require.NoError(t, err)
	assert.True(t, output.Evicted)
	assert.Equal(t, "p", plans.evicted)

	plans.err = domain.ErrNotFound
	_, _, err = server.handleEvictPlan(context.Background(), nil, PlanIDInput{PlanID: "p"})
	var public domain.PublicError
	require.ErrorAs(t, err, &public)
	assert.Equal(t, domain.KindNotFound, public.Kind)
}

func TestServer_handleStatus(t *testing.T) {
	plans := &mockPlanService{status: &domain.Status{
		LoadedPlans:     []domain.PlanSummary{{ID: "p"}},
		StoredPlans:     3,
		CatalogRules:    120,
		CatalogCategory: []string{"脚手架", "基坑"},
		CacheEntries:    57,
		EmbeddingModel:  "nomic-embed-text",
		Judge:           "model:qwen2.5:7b",
	}}
	server := newTestServer(plans, &mockAuditService{})

	_, output, err := server.handleStatus(context.Background(), nil, EmptyInput{})
	require.NoError(t, err)
	assert.Len(t, output.LoadedPlans, 1)
	assert.Equal(t, 3, output.StoredPlans)
	assert.Equal(t, 120, output.CatalogRules)
	assert.Equal(t, []string{"脚手架", "基坑"}, output.CatalogCategories)
	assert.Equal(t, 57, output.CacheEntries)
	assert.Equal(t, "model:qwen2.5:7b", output.Judge)
}

func TestProgressNotifier_NoRequest(t *testing.T) {
	assert.Nil(t, progressNotifier(context.Background(), nil))
}
