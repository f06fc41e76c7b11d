package cli

import (
	"context"
	"testing"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// mockPlanService is a mock implementation of driving.PlanService.
type mockPlanService struct {
	uploadName string
	uploadData []byte
	result     *domain.UploadResult
	results    []domain.RetrievalResult
	records    []domain.PlanRecord
	status     *domain.Status
	evicted    string
	query      string
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
	m.uploadData = []byte(text)
	return m.result, m.err
}

func (m *mockPlanService) Query(_ context.Context, _, query string, topK int) ([]domain.RetrievalResult, error) {
	m.query = query
	m.queryTopK = topK
	return m.results, m.err
}

func (m *mockPlanService) Ask(_ context.Context, _, question string, topK int) (*domain.Answer, error) {
	m.question = question
	m.askTopK = topK
	return m.answer, m.err
}

func (m *mockPlanService) Clear(_ context.Context) int {
	return m.cleared
}

func (m *mockPlanService) List(_ context.Context) []domain.PlanSummary {
	return nil
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
	report   *domain.AuditReport
	request  domain.AuditRequest
	scenario string
	catalog  *domain.Catalog
	events   []domain.ProgressEvent
	err      error
}

func (m *mockAuditService) Audit(_ context.Context, req domain.AuditRequest) (*domain.AuditReport, error) {
	m.request = req
	if req.Progress != nil {
		for _, e := range m.events {
			req.Progress(e)
		}
	}
	return m.report, m.err
}

func (m *mockAuditService) CheckCategory(_ context.Context, planID, category, scenario string, topK int) (*domain.AuditReport, error) {
	m.request = domain.AuditRequest{PlanID: planID, Categories: []string{category}, TopK: topK}
	m.scenario = scenario
	return m.report, m.err
}

func (m *mockAuditService) Catalog() *domain.Catalog {
	return m.catalog
}

func (m *mockAuditService) JudgeName() string {
	return "keyword"
}

// mockSettingsService is a mock implementation of driving.SettingsService.
type mockSettingsService struct {
	settings    domain.AppSettings
	values      map[string]string
	set         map[string]string
	setErr      error
	validateErr error
	embedErr    error
	llmErr      error
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{
		settings: domain.DefaultAppSettings(),
		values: map[string]string{
			"embedding.model":    "nomic-embed-text",
			"embedding.provider": "ollama",
			"judge.kind":         "model",
		},
		set: make(map[string]string),
	}
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.set[key] = value
	return nil
}

func (m *mockSettingsService) Keys() []string {
	return []string{"embedding.model", "embedding.provider", "judge.kind"}
}

func (m *mockSettingsService) Values() (map[string]string, error) {
	return m.values, nil
}

func (m *mockSettingsService) Validate() error {
	return m.validateErr
}

func (m *mockSettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

func (m *mockSettingsService) ValidateEmbeddingConfig() error {
	return m.embedErr
}

func (m *mockSettingsService) ValidateLLMConfig() error {
	return m.llmErr
}

// testServices holds the mocks wired in by setupTestServices.
type testServices struct {
	plans    *mockPlanService
	audit    *mockAuditService
	settings *mockSettingsService
}

// setupTestServices installs mocks as the command services and restores
// the previous services and flag values when the test ends.
func setupTestServices(t *testing.T) *testServices {
	t.Helper()

	origSettings, origPlans, origAudit, origTypes := settingsService, planService, auditService, uploadTypes
	origJSON, origVerbose := jsonOutput, verbose

	ts := &testServices{
		plans:    &mockPlanService{result: &domain.UploadResult{PlanID: "plan-1", TextLength: 120, ChunkCount: 2}},
		audit:    &mockAuditService{catalog: testCatalog()},
		settings: newMockSettingsService(),
	}
	settingsService = ts.settings
	planService = ts.plans
	auditService = ts.audit
	uploadTypes = []string{"txt", "md"}

	t.Cleanup(func() {
		settingsService, planService, auditService, uploadTypes = origSettings, origPlans, origAudit, origTypes
		jsonOutput, verbose = origJSON, origVerbose
		queryTopK, checkTopK, askTopK = 3, 0, 0
		auditCategories, auditCatalog, auditTopK, auditProgress = nil, "", 0, true
		catalogCategory = ""
	})
	return ts
}

func testCatalog() *domain.Catalog {
	return domain.NewCatalog([]domain.DefectRule{
		{Category: "scaffolding", Sequence: "1", Scenario: "no tie-in to structure", Severity: domain.SeverityHigh},
		{Category: "scaffolding", Sequence: "2", Scenario: "no load calculation"},
		{Category: "lifting", Sequence: "1", Scenario: "no crane inspection"},
	})
}
