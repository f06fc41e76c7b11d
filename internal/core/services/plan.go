package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
	"github.com/custodia-labs/planaudit/internal/core/ports/driving"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// Ensure PlanService implements the interface.
var _ driving.PlanService = (*PlanService)(nil)

// planIDLength is the number of hex characters of a plan id.
const planIDLength = 16

// previewRunes bounds the content preview stored in the manifest.
const previewRunes = 500

// PlanID returns the content address of text under model.
func PlanID(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])[:planIDLength]
}

// PlanService uploads plans, answers similarity queries and reports status.
type PlanService struct {
	extractor    driven.TextExtractor
	chunker      driven.Chunker
	embedder     *CachedEmbedder
	indexBuilder driven.IndexBuilder
	sessions     driven.SessionStore

	// Optional.
	planStore driven.PlanStore
	catalog   *domain.Catalog
	judgeName string
	answerer  *answerer

	now func() time.Time
}

// PlanServiceOption configures a PlanService.
type PlanServiceOption func(*PlanService)

// WithPlanStore persists the upload manifest.
func WithPlanStore(store driven.PlanStore) PlanServiceOption {
	return func(s *PlanService) {
		s.planStore = store
	}
}

// WithStatusInfo sets the catalog and judge name reported by Status.
func WithStatusInfo(catalog *domain.Catalog, judgeName string) PlanServiceOption {
	return func(s *PlanService) {
		s.catalog = catalog
		s.judgeName = judgeName
	}
}

// NewPlanService creates a plan service.
func NewPlanService(
	extractor driven.TextExtractor,
	chunker driven.Chunker,
	embedder *CachedEmbedder,
	indexBuilder driven.IndexBuilder,
	sessions driven.SessionStore,
	opts ...PlanServiceOption,
) *PlanService {
	s := &PlanService{
		extractor:    extractor,
		chunker:      chunker,
		embedder:     embedder,
		indexBuilder: indexBuilder,
		sessions:     sessions,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upload extracts the text of data, typed by filename's extension, and registers it.
func (s *PlanService) Upload(ctx context.Context, filename string, data []byte) (*domain.UploadResult, error) {
	logger.Section("Upload")
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %q is empty", domain.ErrInvalidArgument, filename)
	}

	done := logger.Timed("extract " + filename)
	text, err := s.extractor.Extract(ctx, data, filename)
	done()
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", filename, err)
	}
	logger.Debug("Extracted %d runes from %s", utf8.RuneCountInString(text), filename)

	return s.register(ctx, filename, text)
}

// UploadText registers already-extracted text.
func (s *PlanService) UploadText(ctx context.Context, filename, text string) (*domain.UploadResult, error) {
	logger.Section("Upload")
	text = strings.TrimSpace(strings.ToValidUTF8(text, "\uFFFD"))
	if text == "" {
		return nil, fmt.Errorf("%w: document has no text", domain.ErrExtraction)
	}
	return s.register(ctx, filename, text)
}

// register chunks, embeds and indexes text, unless the same content is already loaded.
// Nothing is registered when any step fails.
func (s *PlanService) register(ctx context.Context, filename, text string) (*domain.UploadResult, error) {
	id := PlanID(s.embedder.Model(), text)

	unlock := s.sessions.Lock(id)
	defer unlock()

	if existing, err := s.sessions.Get(id); err == nil {
		logger.Info("Plan %s already loaded, reusing session", id)
		plan := existing
		if filename != "" && filename != existing.Filename {
			renamed := *existing
			renamed.Filename = filename
			if err := s.sessions.Register(&renamed); err != nil {
				return nil, err
			}
			plan = &renamed
		}
		s.saveRecord(ctx, plan, text)
		return &domain.UploadResult{
			PlanID:     plan.ID,
			TextLength: plan.TextLength,
			ChunkCount: len(plan.Chunks),
			Reused:     true,
		}, nil
	}

	spans := s.chunker.Chunk(text)
	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: document has no text", domain.ErrExtraction)
	}
	logger.Debug("Chunked plan %s into %d chunk(s) with %s", id, len(spans), s.chunker.Name())

	logger.Section("Embedding")
	texts := make([]string, len(spans))
	for i, sp := range spans {
		texts[i] = sp.Text
	}
	vectors, err := s.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed plan %s: %w", id, err)
	}

	chunks := make([]domain.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = domain.Chunk{
			PlanID:    id,
			Index:     i,
			Offset:    sp.Offset,
			Text:      sp.Text,
			Embedding: vectors[i],
		}
	}

	index, err := s.indexBuilder.Build(chunks)
	if err != nil {
		return nil, fmt.Errorf("index plan %s: %w", id, err)
	}

	plan := &domain.Plan{
		ID:         id,
		Filename:   filename,
		Model:      s.embedder.Model(),
		Dimensions: len(vectors[0]),
		TextLength: utf8.RuneCountInString(text),
		Chunks:     chunks,
		Index:      index,
		CreatedAt:  s.now(),
	}
	if err := s.sessions.Register(plan); err != nil {
		return nil, err
	}
	logger.Info("Registered plan %s (%d chunks, %d dims)", id, len(chunks), plan.Dimensions)

	s.saveRecord(ctx, plan, text)

	return &domain.UploadResult{
		PlanID:     id,
		TextLength: plan.TextLength,
		ChunkCount: len(chunks),
	}, nil
}

// saveRecord upserts the manifest entry. A manifest failure does not undo the upload.
func (s *PlanService) saveRecord(ctx context.Context, plan *domain.Plan, text string) {
	if s.planStore == nil {
		return
	}
	record := domain.PlanRecord{
		ID:               plan.ID,
		OriginalFilename: plan.Filename,
		UploadedAt:       s.now(),
		TextLength:       plan.TextLength,
		ChunkCount:       len(plan.Chunks),
		EmbeddingModel:   plan.Model,
		ContentPreview:   preview(text, previewRunes),
	}
	if err := s.planStore.Save(ctx, record); err != nil {
		logger.Warn("Failed to save manifest for plan %s: %v", plan.ID, err)
	}
}

func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

// Query returns the topK chunks of the plan most similar to query.
func (s *PlanService) Query(ctx context.Context, planID, query string, topK int) ([]domain.RetrievalResult, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidArgument, topK)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is empty", domain.ErrInvalidArgument)
	}

	plan, err := s.sessions.Get(planID)
	if err != nil {
		return nil, err
	}
	if plan.Model != s.embedder.Model() {
		return nil, fmt.Errorf("%w: plan %s was embedded with %s, not %s",
			domain.ErrInvalidArgument, planID, plan.Model, s.embedder.Model())
	}

	vectors, err := s.embedder.EmbedMany(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return plan.Index.Search(vectors[0], topK)
}

// List returns the loaded plans, oldest first.
func (s *PlanService) List(_ context.Context) []domain.PlanSummary {
	return s.sessions.List()
}

// Records returns the upload manifest, newest first.
func (s *PlanService) Records(ctx context.Context) ([]domain.PlanRecord, error) {
	if s.planStore == nil {
		return []domain.PlanRecord{}, nil
	}
	return s.planStore.List(ctx)
}

// Evict unloads the plan and deletes its manifest record.
// It fails with domain.ErrNotFound only when neither exists.
func (s *PlanService) Evict(ctx context.Context, planID string) error {
	if planID == "" {
		return fmt.Errorf("%w: plan id is required", domain.ErrInvalidArgument)
	}

	unlock := s.sessions.Lock(planID)
	defer unlock()

	sessionErr := s.sessions.Evict(planID)
	if sessionErr != nil && !errors.Is(sessionErr, domain.ErrNotFound) {
		return sessionErr
	}
	if s.planStore == nil {
		return sessionErr
	}

	recordErr := s.planStore.Delete(ctx, planID)
	switch {
	case recordErr == nil:
		return nil
	case !errors.Is(recordErr, domain.ErrNotFound):
		return fmt.Errorf("delete manifest record: %w", recordErr)
	default:
		return sessionErr
	}
}

// Clear unloads every plan. Manifest records and cached embeddings stay,
// so re-uploading a cleared plan makes no provider calls.
func (s *PlanService) Clear(_ context.Context) int {
	n := s.sessions.Clear()
	logger.Info("Cleared %d loaded plan(s)", n)
	return n
}

// Status reports loaded plans, the manifest, the catalog and the embedding cache.
func (s *PlanService) Status(ctx context.Context) (*domain.Status, error) {
	status := &domain.Status{
		LoadedPlans:     s.sessions.List(),
		CatalogRules:    s.catalog.Len(),
		CatalogCategory: s.catalog.Categories(),
		EmbeddingModel:  s.embedder.Model(),
		Judge:           s.judgeName,
	}

	if s.planStore != nil {
		records, err := s.planStore.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("list manifest: %w", err)
		}
		status.StoredPlans = len(records)
	}

	entries, err := s.embedder.CacheLen(ctx)
	if err != nil {
		return nil, fmt.Errorf("count cache entries: %w", err)
	}
	status.CacheEntries = entries

	return status, nil
}
