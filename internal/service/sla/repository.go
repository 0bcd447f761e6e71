package sla

import (
	"context"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// Repository defines data access for SLA policies and violations.
// Implementations must be safe for concurrent use.
type Repository interface {
	// GetDefinition returns one policy or ErrNotFound.
	GetDefinition(ctx context.Context, id string) (*domain.SlaDefinition, error)

	// ListDefinitions returns the org's policies (plus global ones).
	ListDefinitions(ctx context.Context, orgID *string) ([]domain.SlaDefinition, error)

	// ActiveForPriority returns the active policy matching the priority,
	// or (nil, nil) when none is configured. Org-scoped policies win over
	// global ones.
	ActiveForPriority(ctx context.Context, orgID *string, p domain.TicketPriority) (*domain.SlaDefinition, error)

	// CreateDefinition inserts a policy.
	CreateDefinition(ctx context.Context, d *domain.SlaDefinition) error

	// UpdateDefinition replaces a policy's mutable fields.
	UpdateDefinition(ctx context.Context, d *domain.SlaDefinition) error

	// DeleteDefinition removes a policy.
	DeleteDefinition(ctx context.Context, id string) error

	// CreateViolation records a missed deadline.
	CreateViolation(ctx context.Context, v *domain.SlaViolation) error

	// HasViolation reports whether a violation of the given type already
	// exists for the ticket (recorded once, pending or not).
	HasViolation(ctx context.Context, ticketID string, vt domain.SlaViolationType) (bool, error)

	// ResolveViolation fills in the actual time on a pending violation.
	ResolveViolation(ctx context.Context, ticketID string, vt domain.SlaViolationType, actual time.Time, minutes int) error

	// ListViolations returns a ticket's violations.
	ListViolations(ctx context.Context, ticketID string) ([]domain.SlaViolation, error)

	// ListTicketsPendingSla returns live, SLA-linked tickets that still
	// miss a first response or a resolution. The scanner walks these.
	ListTicketsPendingSla(ctx context.Context, limit int) ([]domain.Ticket, error)
}
