package mcp

import (
	"github.com/custodia-labs/planaudit/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Plans uploads and queries plans.
	Plans driving.PlanService

	// Audit evaluates plans against the defect catalog.
	Audit driving.AuditService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Plans == nil {
		return ErrMissingPlanService
	}
	if p.Audit == nil {
		return ErrMissingAuditService
	}
	return nil
}
