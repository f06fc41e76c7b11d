package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Domain errors represent business logic failures.
// Every caller-visible failure maps to exactly one of these.
var (
	// ErrInvalidArgument indicates malformed input such as a non-positive top_k or a missing plan id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExtraction indicates a document could not be turned into text.
	ErrExtraction = errors.New("extraction failed")

	// ErrProvider indicates an embedding or judgment backend failed after retries.
	ErrProvider = errors.New("provider error")

	// ErrUncertain indicates a single rule could not be judged.
	// It is recorded on a finding and never fails a run.
	ErrUncertain = errors.New("verdict uncertain")
)

// Extraction causes. Both satisfy errors.Is(err, ErrExtraction).
var (
	// ErrUnsupportedFormat indicates the file type has no extractor.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrExtraction)

	// ErrCorruptFile indicates the file could not be parsed.
	ErrCorruptFile = fmt.Errorf("%w: corrupt file", ErrExtraction)
)

// Provider causes. All satisfy errors.Is(err, ErrProvider).
var (
	// ErrProviderAuth indicates rejected or missing credentials. Never retried.
	ErrProviderAuth = fmt.Errorf("%w: authentication failed", ErrProvider)

	// ErrProviderTransient indicates a network failure or server-side error.
	ErrProviderTransient = fmt.Errorf("%w: transient failure", ErrProvider)

	// ErrRateLimited indicates the provider rejected the request with a rate limit.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrProvider)

	// ErrMalformedResponse indicates the provider answered with an unusable payload.
	ErrMalformedResponse = fmt.Errorf("%w: malformed response", ErrProvider)

	// ErrProviderUnavailable indicates no provider is configured.
	ErrProviderUnavailable = fmt.Errorf("%w: not configured", ErrProvider)
)

// Kind is a stable, machine-readable error code.
type Kind string

// Error kinds exposed to callers.
const (
	KindInvalidArgument Kind = "invalid_argument"
	KindNotFound        Kind = "not_found"
	KindExtraction      Kind = "extraction_error"
	KindProvider        Kind = "provider_error"
	KindUncertain       Kind = "uncertain"
	KindInternal        Kind = "internal"
)

// KindOf classifies err into the error taxonomy.
// Errors outside the taxonomy are reported as KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrExtraction):
		return KindExtraction
	case errors.Is(err, ErrProvider):
		return KindProvider
	case errors.Is(err, ErrUncertain):
		return KindUncertain
	default:
		return KindInternal
	}
}

// PublicError is the caller-facing form of an error: a kind and a message, no internals.
type PublicError struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e PublicError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Public converts err into its caller-facing form.
// Internal errors are reduced to a generic message.
func Public(err error) PublicError {
	kind := KindOf(err)
	if kind == KindInternal {
		return PublicError{Kind: kind, Message: "internal error"}
	}
	return PublicError{Kind: kind, Message: err.Error()}
}

// RetryHint wraps a provider error with the delay the provider asked for.
type RetryHint struct {
	After time.Duration
	Err   error
}

// Error implements the error interface.
func (e *RetryHint) Error() string {
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *RetryHint) Unwrap() error {
	return e.Err
}

// BatchError reports an embedding batch that failed after all retries.
// It names the batch's texts, truncated.
type BatchError struct {
	Texts    []string
	Attempts int
	Err      error
}

// maxBatchErrorTexts bounds how many texts a BatchError message lists.
const maxBatchErrorTexts = 5

// Error implements the error interface.
func (e *BatchError) Error() string {
	shown := e.Texts
	if len(shown) > maxBatchErrorTexts {
		shown = shown[:maxBatchErrorTexts]
	}
	quoted := make([]string, len(shown))
	for i, t := range shown {
		quoted[i] = fmt.Sprintf("%q", t)
	}
	list := strings.Join(quoted, ", ")
	if len(e.Texts) > len(shown) {
		list += fmt.Sprintf(", ... (%d more)", len(e.Texts)-len(shown))
	}
	return fmt.Sprintf("embedding batch of %d text(s) failed after %d attempt(s) [%s]: %v",
		len(e.Texts), e.Attempts, list, e.Err)
}

// Unwrap returns the underlying error.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// Truncate shortens s to at most n runes, appending an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
