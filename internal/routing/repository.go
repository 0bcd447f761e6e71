package routing

import (
	"context"
	"errors"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// Sentinel errors for the routing layer.
var (
	ErrNotFound   = errors.New("routing rule not found")
	ErrValidation = errors.New("invalid routing rule")
)

// Repository defines data access for rules, audit logs, and tags.
// Implementations must be safe for concurrent use.
type Repository interface {
	// ListActiveRules returns active rules for the org (plus global
	// rules), ordered by priority descending.
	ListActiveRules(ctx context.Context, orgID *string) ([]domain.RoutingRule, error)

	// GetRule returns one rule or ErrNotFound.
	GetRule(ctx context.Context, id string) (*domain.RoutingRule, error)

	// ListRules returns every rule for the org, priority descending.
	ListRules(ctx context.Context, orgID *string) ([]domain.RoutingRule, error)

	// CreateRule inserts a rule. Conditions are stored typed and parsed
	// once at load, never per evaluation.
	CreateRule(ctx context.Context, r *domain.RoutingRule) error

	// UpdateRule replaces the mutable fields of a rule.
	UpdateRule(ctx context.Context, r *domain.RoutingRule) error

	// DeleteRule removes a rule.
	DeleteRule(ctx context.Context, id string) error

	// CreateLog appends an audit row for a fired rule.
	CreateLog(ctx context.Context, l *domain.RoutingLog) error

	// ListLogs returns a ticket's routing audit trail, oldest first.
	ListLogs(ctx context.Context, ticketID string) ([]domain.RoutingLog, error)

	// EnsureTag returns the org's tag with the given name, creating it
	// if absent.
	EnsureTag(ctx context.Context, orgID *string, name string) (*domain.Tag, error)

	// AttachTag links a tag to a ticket; attaching twice is a no-op.
	AttachTag(ctx context.Context, ticketID, tagID string) error

	// TicketTags returns the ticket's current tag set.
	TicketTags(ctx context.Context, ticketID string) ([]domain.Tag, error)
}

// TicketOps is the slice of the ticket state manager the engine's actions
// need. Defined here so the two packages wire without a cycle.
type TicketOps interface {
	AssignToAdmin(ctx context.Context, ticketID, adminEmail string) error
	UpdatePriority(ctx context.Context, ticketID string, p domain.TicketPriority) error
	SetCategory(ctx context.Context, ticketID, category string) error
	GetThread(ctx context.Context, id string) (*domain.Ticket, []domain.Message, error)
}
