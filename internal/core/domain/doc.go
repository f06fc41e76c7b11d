// Package domain defines the core entities of the plan auditor.
//
// This package is the innermost layer of the hexagon. It has NO external
// dependencies and defines the fundamental types:
//
//   - Plan: one uploaded document's chunks, embeddings and index
//   - Chunk: a contiguous text span of a plan, the unit of retrieval
//   - DefectRule: one catalog entry describing a known plan deficiency
//   - AuditFinding / AuditReport: the verdicts of an audit run
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
