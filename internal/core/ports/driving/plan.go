package driving

import (
	"context"

	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// PlanService uploads plans and answers similarity queries against them.
type PlanService interface {
	// Upload extracts, chunks, embeds and registers a plan.
	// Identical content reuses the loaded session. On failure nothing is registered.
	Upload(ctx context.Context, filename string, data []byte) (*domain.UploadResult, error)

	// UploadText registers already-extracted text under filename.
	UploadText(ctx context.Context, filename, text string) (*domain.UploadResult, error)

	// Query returns the topK chunks most similar to query.
	Query(ctx context.Context, planID, query string, topK int) ([]domain.RetrievalResult, error)

	// Ask answers question from the topK excerpts most similar to it.
	// topK 0 uses the default. Fails with domain.ErrProviderUnavailable when no chat model is configured.
	Ask(ctx context.Context, planID, question string, topK int) (*domain.Answer, error)

	// Clear unloads every plan and returns how many were loaded. The manifest is kept.
	Clear(ctx context.Context) int

	// List returns the loaded plans.
	List(ctx context.Context) []domain.PlanSummary

	// Records returns the persisted upload manifest, newest first.
	Records(ctx context.Context) ([]domain.PlanRecord, error)

	// Evict unloads a plan and removes its manifest record.
	Evict(ctx context.Context, planID string) error

	// Status describes loaded plans, the catalog and the cache.
	Status(ctx context.Context) (*domain.Status, error)
}
