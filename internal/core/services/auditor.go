package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/core/ports/driving"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// Ensure Auditor implements the interface.
var _ driving.AuditService = (*Auditor)(nil)

// AdHocSequence is the sequence of a rule checked outside the catalog.
const AdHocSequence = "-"

// RuleQuery is the retrieval query for a rule.
func RuleQuery(rule domain.DefectRule) string {
	return "category: " + rule.Category + " scenario: " + rule.Scenario
}

// Auditor evaluates catalog rules against loaded plans.
// Each run moves pending, retrieving, judging, aggregated; or to failed from any of them.
type Auditor struct {
	sessions driven.SessionStore
	embedder *CachedEmbedder
	judge    driven.Judge
	catalog  *domain.Catalog

	topK     int
	workers  int
	observer func(domain.ProgressEvent)

	now func() time.Time
}

// AuditorOption configures an Auditor.
type AuditorOption func(*Auditor)

// WithWorkers bounds how many rules are judged concurrently.
func WithWorkers(n int) AuditorOption {
	return func(a *Auditor) {
		if n > 0 {
			a.workers = n
		}
	}
}

// WithDefaultTopK sets the evidence count used when a request leaves it zero.
func WithDefaultTopK(k int) AuditorOption {
	return func(a *Auditor) {
		if k > 0 {
			a.topK = k
		}
	}
}

// WithProgress registers an observer for the progress of every run.
// Events are delivered one at a time, never concurrently.
func WithProgress(fn func(domain.ProgressEvent)) AuditorOption {
	return func(a *Auditor) {
		a.observer = fn
	}
}

// NewAuditor creates an auditor.
func NewAuditor(sessions driven.SessionStore, embedder *CachedEmbedder, judge driven.Judge, catalog *domain.Catalog, opts ...AuditorOption) *Auditor {
	defaults := domain.DefaultAppSettings().Audit
	a := &Auditor{
		sessions: sessions,
		embedder: embedder,
		judge:    judge,
		catalog:  catalog,
		topK:     defaults.TopK,
		workers:  defaults.Workers,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Catalog returns the loaded defect catalog.
func (a *Auditor) Catalog() *domain.Catalog {
	return a.catalog
}

// JudgeName identifies the configured judge.
func (a *Auditor) JudgeName() string {
	return a.judge.Name()
}

// Audit evaluates every rule of the selected categories against the plan.
// Unknown categories select no rules. On failure the report is returned in the
// failed state together with the error.
func (a *Auditor) Audit(ctx context.Context, req domain.AuditRequest) (*domain.AuditReport, error) {
	catalog := a.catalog
	if req.Catalog != nil {
		catalog = req.Catalog
	}

	var rules []domain.DefectRule
	if catalog != nil {
		rules = catalog.Filter(req.Categories)
	}

	observer := a.observer
	if req.Progress != nil {
		observer = req.Progress
	}
	return a.run(ctx, req.PlanID, rules, req.TopK, observer)
}

// CheckCategory evaluates a single ad-hoc scenario under category.
func (a *Auditor) CheckCategory(ctx context.Context, planID, category, scenario string, topK int) (*domain.AuditReport, error) {
	category = strings.TrimSpace(category)
	scenario = strings.TrimSpace(scenario)
	if category == "" || scenario == "" {
		return nil, fmt.Errorf("%w: category and scenario are required", domain.ErrInvalidArgument)
	}

	rule := domain.DefectRule{Category: category, Sequence: AdHocSequence, Scenario: scenario}
	return a.run(ctx, planID, []domain.DefectRule{rule}, topK, a.observer)
}

// run drives one audit run through its states.
func (a *Auditor) run(ctx context.Context, planID string, rules []domain.DefectRule, topK int, observer func(domain.ProgressEvent)) (*domain.AuditReport, error) {
	logger.Section("Audit Run")

	report := &domain.AuditReport{
		RunID:      uuid.NewString(),
		PlanID:     planID,
		State:      domain.AuditPending,
		Judge:      a.judge.Name(),
		StartedAt:  a.now(),
		Categories: []domain.CategoryFindings{},
	}
	progress := newProgress(report.RunID, len(rules), observer)
	progress.state(domain.AuditPending)

	fail := func(err error) (*domain.AuditReport, error) {
		report.State = domain.AuditFailed
		report.FinishedAt = a.now()
		progress.state(domain.AuditFailed)
		logger.Warn("Audit run %s failed: %v", report.RunID, err)
		return report, err
	}

	if topK < 0 {
		return fail(fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidArgument, topK))
	}
	if topK == 0 {
		topK = a.topK
	}

	plan, err := a.sessions.Get(planID)
	if err != nil {
		return fail(err)
	}
	if plan.Model != a.embedder.Model() {
		return fail(fmt.Errorf("%w: plan %s was embedded with %s, not %s",
			domain.ErrInvalidArgument, planID, plan.Model, a.embedder.Model()))
	}
	logger.Info("Run %s: %d rule(s) against plan %s with judge %s", report.RunID, len(rules), planID, report.Judge)

	report.State = domain.AuditRetrieving
	progress.state(domain.AuditRetrieving)
	evidence, err := a.retrieve(ctx, plan, rules, topK)
	if err != nil {
		return fail(err)
	}

	report.State = domain.AuditJudging
	progress.state(domain.AuditJudging)
	findings, err := a.judgeAll(ctx, rules, evidence, progress)
	if err != nil {
		return fail(err)
	}

	report.Categories = groupByCategory(findings)
	for _, f := range findings {
		report.Summary.Add(f.Verdict)
	}
	report.State = domain.AuditAggregated
	report.FinishedAt = a.now()
	progress.state(domain.AuditAggregated)

	logger.Info("Run %s: %d present, %d absent, %d uncertain",
		report.RunID, report.Summary.Present, report.Summary.Absent, report.Summary.Uncertain)
	return report, nil
}

// retrieve embeds every rule query in one call and searches the plan for each.
func (a *Auditor) retrieve(ctx context.Context, plan *domain.Plan, rules []domain.DefectRule, topK int) ([][]domain.RetrievalResult, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	defer logger.Timed(fmt.Sprintf("retrieve evidence for %d rule(s)", len(rules)))()

	queries := make([]string, len(rules))
	for i, r := range rules {
		queries[i] = RuleQuery(r)
	}
	vectors, err := a.embedder.EmbedMany(ctx, queries)
	if err != nil {
		return nil, fmt.Errorf("embed rule queries: %w", err)
	}

	evidence := make([][]domain.RetrievalResult, len(rules))
	for i := range rules {
		results, err := plan.Index.Search(vectors[i], topK)
		if err != nil {
			return nil, fmt.Errorf("search evidence for %s: %w", rules[i].Key(), err)
		}
		evidence[i] = results
	}
	return evidence, nil
}

// judgeAll judges rules on a bounded worker pool. A judge failure only makes
// that finding uncertain; cancellation fails the run.
func (a *Auditor) judgeAll(ctx context.Context, rules []domain.DefectRule, evidence [][]domain.RetrievalResult, progress *progress) ([]domain.AuditFinding, error) {
	findings := make([]domain.AuditFinding, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for i := range rules {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			rule := rules[i]
			finding := domain.AuditFinding{Rule: rule, Evidence: evidence[i]}
			if finding.Evidence == nil {
				finding.Evidence = []domain.RetrievalResult{}
			}

			judgment, err := a.judge.Judge(gctx, rule, evidence[i])
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				logger.Warn("Judge failed for %s: %v", rule.Key(), err)
				finding.Verdict = domain.VerdictUncertain
				finding.Error = domain.Public(err).Message
			case !judgment.Verdict.IsValid():
				finding.Verdict = domain.VerdictUncertain
				finding.Rationale = judgment.Rationale
				finding.Error = fmt.Sprintf("judge returned unknown verdict %q", judgment.Verdict)
			default:
				finding.Verdict = judgment.Verdict
				finding.Rationale = judgment.Rationale
				finding.Confidence = judgment.Confidence
			}

			findings[i] = finding
			progress.judged(rule, finding.Verdict)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// groupByCategory groups findings by category in first-seen order.
func groupByCategory(findings []domain.AuditFinding) []domain.CategoryFindings {
	groups := []domain.CategoryFindings{}
	pos := make(map[string]int)
	for _, f := range findings {
		i, ok := pos[f.Rule.Category]
		if !ok {
			i = len(groups)
			pos[f.Rule.Category] = i
			groups = append(groups, domain.CategoryFindings{Category: f.Rule.Category})
		}
		groups[i].Findings = append(groups[i].Findings, f)
	}
	return groups
}

// progress serialises events to an optional observer.
type progress struct {
	mu       sync.Mutex
	runID    string
	total    int
	done     int
	current  domain.AuditState
	observer func(domain.ProgressEvent)
}

func newProgress(runID string, total int, observer func(domain.ProgressEvent)) *progress {
	return &progress{runID: runID, total: total, observer: observer}
}

func (p *progress) state(s domain.AuditState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = s
	p.emit(domain.ProgressEvent{RunID: p.runID, State: s, Done: p.done, Total: p.total})
}

func (p *progress) judged(rule domain.DefectRule, verdict domain.Verdict) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.emit(domain.ProgressEvent{
		RunID:   p.runID,
		State:   p.current,
		Done:    p.done,
		Total:   p.total,
		Rule:    &rule,
		Verdict: verdict,
	})
}

func (p *progress) emit(ev domain.ProgressEvent) {
	if p.observer != nil {
		p.observer(ev)
	}
}
