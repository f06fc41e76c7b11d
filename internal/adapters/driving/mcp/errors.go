// Package mcp provides an MCP (Model Context Protocol) server adapter for planaudit.
// It lets AI assistants upload construction plans, query them and audit them
// against the defect catalog.
package mcp

import (
	"errors"

	"github.com/custodia-labs/planaudit/internal/core/domain"
	"github.com/custodia-labs/planaudit/internal/logger"
)

// ErrMissingPlanService is returned when the plan service is not provided.
var ErrMissingPlanService = errors.New("mcp: plan service is required")

// ErrMissingAuditService is returned when the audit service is not provided.
var ErrMissingAuditService = errors.New("mcp: audit service is required")

// toolError reduces err to its caller-facing form. Internal detail is logged, not returned.
func toolError(tool string, err error) error {
	public := domain.Public(err)
	if public.Kind == domain.KindInternal {
		logger.Error("%s: %v", tool, err)
	} else {
		logger.Warn("%s: %v", tool, err)
	}
	return public
}
