package mcp

import (
	"context"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// mockPlanService is a mock implementation of driving.PlanService.
type mockPlanService struct {
	uploadName string
	uploadData []byte
	uploadText string
	result     *domain.UploadResult
	results    []domain.RetrievalResult
	plans      []domain.PlanSummary
	records    []domain.PlanRecord
	status     *domain.Status
	evicted    string
	queryTopK  int
	answer     *domain.Answer
	question   string
	askTopK    int
	cleared    int
	err        error
}

func (m *mockPlanService) Upload(_ context.Context, filename string, data []byte) (*domain.UploadResult, error) {
	m.uploadName = filename
	m.uploadData = data
	return m.result, m.err
}

func (m *mockPlanService) UploadText(_ context.Context, filename, text string) (*domain.UploadResult, error) {
	m.uploadName = filename
	m.uploadText = text
	return m.result, m.err
}

func (m *mockPlanService) Query(_ context.Context, _, _ string, topK int) ([]domain.RetrievalResult, error) {
	m.queryTopK = topK
	return m.results, m.err
}

func (m *mockPlanService) Ask(_ context.Context, _, question string, topK int) (*domain.Answer, error) {
	m.question = question
	m.askTopK = topK
	return m.answer, m.err
}

func (m *mockPlanService) Clear(_ context.Context) int {
	n := m.cleared
	m.cleared = 0
	return n
}

func (m *mockPlanService) List(_ context.Context) []domain.PlanSummary {
	return m.plans
}

func (m *mockPlanService) Records(_ context.Context) ([]domain.PlanRecord, error) {
	return m.records, m.err
}

func (m *mockPlanService) Evict(_ context.Context, planID string) error {
	m.evicted = planID
	return m.err
}

func (m *mockPlanService) Status(_ context.Context) (*domain.Status, error) {
	return m.status, m.err
}

// mockAuditService is a mock implementation of driving.AuditService.
type mockAuditService struct {
	report  *domain.AuditReport
	request domain.AuditRequest
	catalog *domain.Catalog
	err     error
}

func (m *mockAuditService) Audit(_ context.Context, req domain.AuditRequest) (*domain.AuditReport, error) {
	m.request = req
	return m.report, m.err
}

func (m *mockAuditService) CheckCategory(_ context.Context, planID, category, scenario string, topK int) (*domain.AuditReport, error) {
	m.request = domain.AuditRequest{PlanID: planID, Categories: []string{category}, TopK: topK}
	if m.report != nil {
		m.report.Categories = []domain.CategoryFindings{{
			Category: category,
			Findings: []domain.AuditFinding{{
				Rule:    domain.DefectRule{Category: category, Sequence: "-", Scenario: scenario},
				Verdict: domain.VerdictUncertain,
			}},
		}}
	}
	return m.report, m.err
}

func (m *mockAuditService) Catalog() *domain.Catalog {
	return m.catalog
}

func (m *mockAuditService) JudgeName() string {
	return "mock"
}

func newTestServer(plans *mockPlanService, audit *mockAuditService, opts ...Option) *Server {
	server, err := NewServer(&Ports{Plans: plans, Audit: audit}, opts...)
	if err != nil {
		panic(err)
	}
	return server
}
