// Package messages defines Bubbletea message types for the progress view.
package messages

import (
	"github.com/custodia-labs/planaudit/internal/core/domain"
)

// ProgressReceived carries one audit progress event to the model.
type ProgressReceived struct {
	Event domain.ProgressEvent
}

// AuditFinished is sent once the audit run returns.
type AuditFinished struct {
	Report *domain.AuditReport
	Err    error
}
