// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Required Interfaces
//
//   - TextExtractor: Turns uploaded file bytes into plain text
//   - EmbeddingProvider: Generates vector embeddings
//   - EmbeddingCache: Persists vectors keyed by (model, normalised text)
//   - IndexBuilder: Builds the per-plan similarity index
//   - SessionStore: Process-wide registry of loaded plans
//   - ConfigStore: Application configuration
//
// # Optional Interfaces
//
// These can be nil - the application degrades gracefully:
//
//   - PlanStore: Manifest of uploaded plans. Without it, listing only shows loaded sessions.
//   - LLMService: Chat model. Required only by the delegated model judge.
//   - Throttle: Provider rate limiting.
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter or normaliser package
package driven
