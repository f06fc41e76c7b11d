// Package sqlite provides the persistent stores of planaudit on a single SQLite database.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. It implements two driven ports through one connection pool:
//
//   - EmbeddingCache: write-once vectors keyed by a hash of (model, normalised text)
//   - PlanStore: the manifest of uploaded plans
//
// # Schema
//
// The schema is managed through versioned migrations embedded from the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.planaudit/data/planaudit.db
//
// # Thread Safety
//
// All operations are safe for concurrent use. Writes of one embedding batch
// run in a single transaction, so a batch is cached completely or not at all.
package sqlite
