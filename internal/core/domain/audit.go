package domain

import "time"

// Verdict is the judged presence of a defect in a plan.
type Verdict string

// Available verdicts.
const (
	// VerdictPresent means the plan exhibits the defect.
	VerdictPresent Verdict = "present"

	// VerdictAbsent means the plan addresses the concern.
	VerdictAbsent Verdict = "absent"

	// VerdictUncertain means the rule could not be judged.
	VerdictUncertain Verdict = "uncertain"
)

// IsValid returns true if the verdict is recognised.
func (v Verdict) IsValid() bool {
	switch v {
	case VerdictPresent, VerdictAbsent, VerdictUncertain:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (v Verdict) String() string {
	return string(v)
}

// Judgment is what a judge decides for one rule.
type Judgment struct {
	Verdict    Verdict
	Rationale  string
	Confidence float64
}

// AuditFinding is the verdict for one rule against one plan, with supporting evidence.
type AuditFinding struct {
	Rule       DefectRule        `json:"rule"`
	Verdict    Verdict           `json:"verdict"`
	Evidence   []RetrievalResult `json:"evidence"`
	Rationale  string            `json:"rationale"`
	Confidence float64           `json:"confidence"`

	// Error notes why the finding is uncertain, when a judge failed.
	Error string `json:"error,omitempty"`
}

// CategoryFindings groups the findings of one catalog category.
type CategoryFindings struct {
	Category string         `json:"category"`
	Findings []AuditFinding `json:"findings"`
}

// AuditState is a step of the audit run state machine.
type AuditState string

// Audit run states, in order. Failed may follow any state.
const (
	AuditPending    AuditState = "pending"
	AuditRetrieving AuditState = "retrieving"
	AuditJudging    AuditState = "judging"
	AuditAggregated AuditState = "aggregated"
	AuditFailed     AuditState = "failed"
)

// IsTerminal returns true for states that end a run.
func (s AuditState) IsTerminal() bool {
	return s == AuditAggregated || s == AuditFailed
}

// AuditSummary counts findings by verdict.
type AuditSummary struct {
	Total     int `json:"total"`
	Present   int `json:"present"`
	Absent    int `json:"absent"`
	Uncertain int `json:"uncertain"`
}

// Add counts one verdict.
func (s *AuditSummary) Add(v Verdict) {
	s.Total++
	switch v {
	case VerdictPresent:
		s.Present++
	case VerdictAbsent:
		s.Absent++
	default:
		s.Uncertain++
	}
}

// AuditReport is the aggregated result of an audit run.
type AuditReport struct {
	RunID      string             `json:"run_id"`
	PlanID     string             `json:"plan_id"`
	State      AuditState         `json:"state"`
	Judge      string             `json:"judge"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Categories []CategoryFindings `json:"categories"`
	Summary    AuditSummary       `json:"summary"`
}

// Findings returns every finding in report order.
func (r *AuditReport) Findings() []AuditFinding {
	var out []AuditFinding
	for _, c := range r.Categories {
		out = append(out, c.Findings...)
	}
	return out
}

// AuditRequest selects what an audit run evaluates.
type AuditRequest struct {
	PlanID string

	// Categories narrows the catalog. Empty means all categories.
	Categories []string

	// TopK is the evidence count per rule. Zero means the configured default.
	TopK int

	// Catalog overrides the loaded catalog for this run.
	Catalog *Catalog

	// Progress, when set, receives this run's progress events one at a time.
	Progress func(ProgressEvent) `json:"-"`
}

// ProgressEvent reports audit run progress to an observer.
type ProgressEvent struct {
	RunID   string
	State   AuditState
	Done    int
	Total   int
	Rule    *DefectRule
	Verdict Verdict
}
