package ticket

import (
	"context"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

// Repository defines the data access contract for tickets and their
// messages. Implementations must be safe for concurrent use.
type Repository interface {
	// GetTicket returns a single ticket (deleted or not).
	// Returns ErrNotFound if it doesn't exist.
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)

	// FindContinuation returns the open (status != closed, not deleted)
	// ticket matching context, normalized subject, and user, or
	// ErrNotFound. At most one such ticket exists at any time.
	FindContinuation(ctx context.Context, tctx, subject string, userID *string) (*domain.Ticket, error)

	// CreateTicket inserts a new ticket.
	CreateTicket(ctx context.Context, t *domain.Ticket) error

	// UpdateTicket applies the non-nil fields of u.
	UpdateTicket(ctx context.Context, id string, u UpdateFields) error

	// ListTickets returns tickets matching the filter plus the total count.
	ListTickets(ctx context.Context, f ListFilter) ([]domain.Ticket, int, error)

	// SetDeleted flips the soft-delete flag on every id in one transaction.
	// deletedAt is nil on restore.
	SetDeleted(ctx context.Context, ids []string, deleted bool, deletedAt *time.Time) error

	// HardDeleteTickets removes the rows and everything hanging off them
	// (messages, email messages, tag links, routing logs, violations).
	HardDeleteTickets(ctx context.Context, ids []string) error

	// ListExpiredTrash returns soft-deleted tickets whose deleted_at is
	// before the cutoff, oldest first.
	ListExpiredTrash(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error)

	// AppendMessage inserts a conversation message.
	AppendMessage(ctx context.Context, m *domain.Message) error

	// ListMessages returns a ticket's messages in created_at order.
	ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error)

	// ListAttachments returns the attachment rows for a set of tickets.
	// The reaper uses it to clear blobs before the cascade delete.
	ListAttachments(ctx context.Context, ticketIDs []string) ([]domain.Attachment, error)
}

// UpdateFields holds the mutable ticket fields. Nil fields are not applied;
// Clear* flags null out their column.
type UpdateFields struct {
	Status          *domain.TicketStatus
	Priority        *domain.TicketPriority
	Category        *string
	AssignedTo      *string
	SlaID           *string
	FirstResponseAt *time.Time
	LastResponseAt  *time.Time
	ResolvedAt      *time.Time
	ClearAssignedTo bool
}

// ListFilter controls pagination and filtering for ticket lists.
type ListFilter struct {
	OrganizationID *string
	UserID         *string
	Status         string
	Priority       string
	AssignedTo     string
	Deleted        bool
	Limit          int
	Offset         int
}
