package domain

import "time"

// Span is a chunker output: a text segment and the byte offset where it starts.
type Span struct {
	Text   string
	Offset int
}

// Chunk is a contiguous text segment of a Plan, the unit of embedding and retrieval.
// Chunks are immutable once created.
type Chunk struct {
	// PlanID links to the owning Plan.
	PlanID string `json:"plan_id"`

	// Index is the zero-based position within the plan.
	Index int `json:"index"`

	// Offset is the byte offset of Text in the extracted plan text.
	Offset int `json:"offset"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Embedding is the vector for Text under the plan's model.
	Embedding []float32 `json:"-"`
}

// Plan is one uploaded document's processed, embedded representation.
type Plan struct {
	// ID is content-addressed: identical text under the same model yields the same ID.
	ID string

	// Filename is the name the document was uploaded under.
	Filename string

	// Model is the embedding model that produced the chunk vectors.
	Model string

	// Dimensions is the vector size of every chunk embedding.
	Dimensions int

	// TextLength is the extracted text length in runes.
	TextLength int

	// Chunks are ordered by Index.
	Chunks []Chunk

	// Index answers similarity queries over Chunks.
	Index Searcher

	// CreatedAt is when the plan was registered.
	CreatedAt time.Time
}

// Searcher is the read side of a built vector index.
type Searcher interface {
	// Search returns up to topK chunks ranked by similarity to query.
	Search(query []float32, topK int) ([]RetrievalResult, error)

	// Len returns the number of indexed chunks.
	Len() int
}

// Summary returns the plan's listing form.
func (p *Plan) Summary() PlanSummary {
	return PlanSummary{
		ID:         p.ID,
		Filename:   p.Filename,
		Model:      p.Model,
		ChunkCount: len(p.Chunks),
		TextLength: p.TextLength,
		CreatedAt:  p.CreatedAt,
	}
}

// PlanSummary describes a loaded plan without its vectors.
type PlanSummary struct {
	ID         string    `json:"plan_id"`
	Filename   string    `json:"filename,omitempty"`
	Model      string    `json:"embedding_model"`
	ChunkCount int       `json:"chunk_count"`
	TextLength int       `json:"text_length"`
	CreatedAt  time.Time `json:"created_at"`
}

// PlanRecord is the persisted manifest entry of an uploaded plan.
// It survives restarts; the session holding vectors does not.
type PlanRecord struct {
	ID               string    `json:"plan_id"`
	OriginalFilename string    `json:"original_filename"`
	UploadedAt       time.Time `json:"uploaded_at"`
	TextLength       int       `json:"text_length"`
	ChunkCount       int       `json:"chunk_count"`
	EmbeddingModel   string    `json:"embedding_model"`
	ContentPreview   string    `json:"content_preview"`
}

// UploadResult is returned by a plan upload.
type UploadResult struct {
	PlanID     string `json:"plan_id"`
	TextLength int    `json:"text_length"`
	ChunkCount int    `json:"chunk_count"`

	// Reused is true when an identical plan was already loaded.
	Reused bool `json:"reused"`
}

// RetrievalResult is one ranked chunk returned by a similarity search.
type RetrievalResult struct {
	Chunk      Chunk   `json:"chunk"`
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"`
}

// Answer is a chat model's reply to a question about a plan,
// with the excerpts it was given, numbered as the reply cites them.
type Answer struct {
	PlanID   string            `json:"plan_id"`
	Question string            `json:"question"`
	Text     string            `json:"answer"`
	Model    string            `json:"model"`
	Evidence []RetrievalResult `json:"evidence"`
}

// Status describes the loaded state of the auditor.
type Status struct {
	LoadedPlans     []PlanSummary `json:"loaded_plans"`
	StoredPlans     int           `json:"stored_plans"`
	CatalogRules    int           `json:"catalog_rules"`
	CatalogCategory []string      `json:"catalog_categories"`
	CacheEntries    int           `json:"cache_entries"`
	EmbeddingModel  string        `json:"embedding_model"`
	Judge           string        `json:"judge"`
}
