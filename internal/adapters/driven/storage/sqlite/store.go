package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/planaudit/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/core/ports/driven"
)

// dbFile is the database file name inside the data directory.
const dbFile = "planaudit.db"

// maxInParams bounds the placeholders of one IN (...) lookup.
const maxInParams = 500

// Store is a SQLite database that provides the persistent driven ports
// through wrapper types.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store in the specified data directory.
// If dataDir is empty, defaults to ~/.planaudit/data.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".planaudit", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, dbFile)

	// WAL mode with a busy timeout for concurrent readers
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// EmbeddingCache returns an EmbeddingCache backed by this store.
func (s *Store) EmbeddingCache() driven.EmbeddingCache {
	return &embeddingCache{store: s}
}

// PlanStore returns a PlanStore backed by this store.
func (s *Store) PlanStore() driven.PlanStore {
	return &planStore{store: s}
}

// migrate runs all pending migrations, recording each applied version.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_embedding_cache.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if err := s.apply(version, string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}

	return nil
}

func (s *Store) apply(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(script); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
		return err
	}
	return tx.Commit()
}

// ==================== Embedding Cache ====================

// embeddingCache implements driven.EmbeddingCache.
type embeddingCache struct {
	store *Store
}

var _ driven.EmbeddingCache = (*embeddingCache)(nil)

// GetMany returns the cached vectors for the keys that are present.
func (c *embeddingCache) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))

	for start := 0; start < len(keys); start += maxInParams {
		group := keys[start:min(start+maxInParams, len(keys))]
		args := make([]any, len(group))
		for i, k := range group {
			args[i] = k
		}

		query := "SELECT key, vector FROM embedding_cache WHERE key IN (?" +
			strings.Repeat(",?", len(group)-1) + ")"
		rows, err := c.store.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("querying embedding cache: %w", err)
		}

		for rows.Next() {
			var key string
			var blob []byte
			if err := rows.Scan(&key, &blob); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scanning embedding: %w", err)
			}
			out[key] = bytesToFloat32Slice(blob)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("iterating embeddings: %w", err)
		}
	}

	return out, nil
}

// PutMany stores all entries in one transaction. Existing keys keep their vector.
func (c *embeddingCache) PutMany(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embedding_cache (key, dimensions, vector) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for key, vec := range entries {
		if len(vec) == 0 {
			return fmt.Errorf("%w: empty vector for key %s", domain.ErrInvalidArgument, key)
		}
		if _, err := stmt.ExecContext(ctx, key, len(vec), float32SliceToBytes(vec)); err != nil {
			return fmt.Errorf("inserting embedding: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing embeddings: %w", err)
	}
	return nil
}

// Len returns the number of cached vectors.
func (c *embeddingCache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embedding_cache").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting embeddings: %w", err)
	}
	return n, nil
}

// ==================== Plan Store ====================

// planStore implements driven.PlanStore.
type planStore struct {
	store *Store
}

var _ driven.PlanStore = (*planStore)(nil)

// Save stores or updates a plan record.
func (s *planStore) Save(ctx context.Context, record domain.PlanRecord) error {
	if record.ID == "" {
		return fmt.Errorf("%w: plan id is required", domain.ErrInvalidArgument)
	}
	if record.UploadedAt.IsZero() {
		record.UploadedAt = time.Now()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO plans (id, original_filename, uploaded_at, text_length, chunk_count, embedding_model, content_preview)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_filename = excluded.original_filename,
			uploaded_at = excluded.uploaded_at,
			text_length = excluded.text_length,
			chunk_count = excluded.chunk_count,
			embedding_model = excluded.embedding_model,
			content_preview = excluded.content_preview
	`, record.ID, record.OriginalFilename, record.UploadedAt.UTC(), record.TextLength,
		record.ChunkCount, record.EmbeddingModel, record.ContentPreview)
	if err != nil {
		return fmt.Errorf("saving plan record: %w", err)
	}
	return nil
}

// Get retrieves a plan record by ID.
func (s *planStore) Get(ctx context.Context, id string) (*domain.PlanRecord, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, original_filename, uploaded_at, text_length, chunk_count, embedding_model, content_preview
		FROM plans WHERE id = ?
	`, id)

	record, err := scanPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan %q", domain.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// List returns all plan records, newest first.
func (s *planStore) List(ctx context.Context) ([]domain.PlanRecord, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id, original_filename, uploaded_at, text_length, chunk_count, embedding_model, content_preview
		FROM plans ORDER BY uploaded_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying plans: %w", err)
	}
	defer rows.Close()

	var records []domain.PlanRecord //nolint:prealloc // size unknown from query
	for rows.Next() {
		record, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating plans: %w", err)
	}

	return records, nil
}

// Delete removes a plan record.
func (s *planStore) Delete(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM plans WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting plan record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting plan record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: plan %q", domain.ErrNotFound, id)
	}
	return nil
}

// ==================== Helper Functions ====================

type scanner interface {
	Scan(dest ...any) error
}

func scanPlan(row scanner) (*domain.PlanRecord, error) {
	var r domain.PlanRecord
	var uploadedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.OriginalFilename, &uploadedAt, &r.TextLength,
		&r.ChunkCount, &r.EmbeddingModel, &r.ContentPreview); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning plan record: %w", err)
	}
	if uploadedAt.Valid {
		r.UploadedAt = uploadedAt.Time
	}
	return &r, nil
}

// float32SliceToBytes converts a []float32 to a little-endian byte slice for storage.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	buf := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
