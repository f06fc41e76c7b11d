package driven

import (
	"context"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// SessionStore is the process-wide registry of loaded plans.
// Its lifecycle is the process: nothing is persisted.
// Implementations must lock per plan id, never the whole store, for writers.
type SessionStore interface {
	// Register adds or replaces the plan under plan.ID.
	Register(plan *domain.Plan) error

	// Get returns the plan, or domain.ErrNotFound.
	Get(id string) (*domain.Plan, error)

	// List returns summaries of all loaded plans ordered by creation time.
	List() []domain.PlanSummary

	// Evict removes the plan, or returns domain.ErrNotFound.
	Evict(id string) error

	// Clear removes every plan and returns how many there were.
	Clear() int

	// Lock serialises writers for one plan id. The returned func releases it.
	Lock(id string) func()
}

// PlanStore persists the manifest of uploaded plans.
type PlanStore interface {
	// Save upserts the record.
	Save(ctx context.Context, record domain.PlanRecord) error

	// Get returns the record, or domain.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.PlanRecord, error)

	// List returns all records, newest first.
	List(ctx context.Context) ([]domain.PlanRecord, error)

	// Delete removes the record, or returns domain.ErrNotFound.
	Delete(ctx context.Context, id string) error
}
