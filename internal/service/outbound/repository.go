// Package outbound sends ticket email through the configured provider
// accounts and records every attempt as an EmailMessage row.
package outbound

import (
	"context"
	"errors"
	"time"

	"github.com/relaydesk/helpdesk-core/internal/domain"
)

var (
	// ErrNotFound is returned when a template or email message does not exist.
	ErrNotFound = errors.New("outbound record not found")
	// ErrValidation is returned for bad send or template input.
	ErrValidation = errors.New("invalid input")
)

// Repository persists outbound/inbound email records and templates.
type Repository interface {
	CreateEmail(ctx context.Context, m *domain.EmailMessage) error
	UpdateEmailStatus(ctx context.Context, id string, status domain.EmailStatus, errorMessage *string, sentAt *time.Time) error
	ListEmailsForTicket(ctx context.Context, ticketID string) ([]domain.EmailMessage, error)
	// LatestInboundForTicket returns the most recently received inbound
	// email on the ticket, or ErrNotFound when the ticket has none.
	LatestInboundForTicket(ctx context.Context, ticketID string) (*domain.EmailMessage, error)

	GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error)
	ListTemplates(ctx context.Context, orgID *string) ([]domain.EmailTemplate, error)
	CreateTemplate(ctx context.Context, t *domain.EmailTemplate) error
	UpdateTemplate(ctx context.Context, t *domain.EmailTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// UserDirectory resolves ticket owners to their email address and name.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
}
