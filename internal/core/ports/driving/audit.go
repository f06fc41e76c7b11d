package driving

import (
	"context"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// AuditService audits loaded plans against the defect catalog.
type AuditService interface {
	// Audit evaluates every selected catalog rule against the plan.
	Audit(ctx context.Context, req domain.AuditRequest) (*domain.AuditReport, error)

	// CheckCategory evaluates one ad-hoc scenario under a category.
	CheckCategory(ctx context.Context, planID, category, scenario string, topK int) (*domain.AuditReport, error)

	// Catalog returns the loaded defect catalog.
	Catalog() *domain.Catalog

	// JudgeName identifies the configured judge.
	JudgeName() string
}
