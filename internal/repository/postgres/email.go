package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/service/outbound"
)

// EmailRepo implements outbound.Repository and the inbound dedup lookups
// the IMAP poller needs, against PostgreSQL.
type EmailRepo struct{ db *sql.DB }

// NewEmailRepo creates a Postgres-backed email message repository.
func NewEmailRepo(db *sql.DB) *EmailRepo { return &EmailRepo{db: db} }

const emailColumns = `
	id, ticket_id, email_account_id, message_id, in_reply_to, "references",
	subject, body_text, body_html, from_address, to_addresses, cc_addresses,
	bcc_addresses, status, direction, has_attachments, error_message,
	created_at, sent_at, received_at`

func scanEmail(row interface{ Scan(...interface{}) error }) (*domain.EmailMessage, error) {
	m := &domain.EmailMessage{}
	err := row.Scan(
		&m.ID, &m.TicketID, &m.EmailAccountID, &m.MessageID, &m.InReplyTo,
		&m.References, &m.Subject, &m.BodyText, &m.BodyHTML, &m.FromAddress,
		pq.Array(&m.ToAddresses), pq.Array(&m.CcAddresses), pq.Array(&m.BccAddresses),
		&m.Status, &m.Direction, &m.HasAttachments, &m.ErrorMessage,
		&m.CreatedAt, &m.SentAt, &m.ReceivedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// CreateEmail inserts an email row. The unique index on
// (email_account_id, message_id) surfaces redelivered inbound mail as a
// pq unique_violation; callers treat that as a duplicate, not a failure.
func (r *EmailRepo) CreateEmail(ctx context.Context, m *domain.EmailMessage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_messages
			(id, ticket_id, email_account_id, message_id, in_reply_to, "references",
			 subject, body_text, body_html, from_address, to_addresses,
			 cc_addresses, bcc_addresses, status, direction, has_attachments,
			 error_message, created_at, sent_at, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20)
	`, m.ID, m.TicketID, m.EmailAccountID, m.MessageID, m.InReplyTo, m.References,
		m.Subject, m.BodyText, m.BodyHTML, m.FromAddress, pq.Array(m.ToAddresses),
		pq.Array(m.CcAddresses), pq.Array(m.BccAddresses), m.Status, m.Direction,
		m.HasAttachments, m.ErrorMessage, m.CreatedAt, m.SentAt, m.ReceivedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create email: %w", err)
	}
	return nil
}

func (r *EmailRepo) UpdateEmailStatus(ctx context.Context, id string, status domain.EmailStatus, errorMessage *string, sentAt *time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_messages SET status = $1, error_message = $2, sent_at = $3
		WHERE id = $4
	`, status, errorMessage, sentAt, id)
	if err != nil {
		return fmt.Errorf("update email status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return outbound.ErrNotFound
	}
	return nil
}

func (r *EmailRepo) ListEmailsForTicket(ctx context.Context, ticketID string) ([]domain.EmailMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+emailColumns+` FROM email_messages
		WHERE ticket_id = $1
		ORDER BY created_at ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list ticket emails: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailMessage
	for rows.Next() {
		m, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (r *EmailRepo) LatestInboundForTicket(ctx context.Context, ticketID string) (*domain.EmailMessage, error) {
	m, err := scanEmail(r.db.QueryRowContext(ctx, `
		SELECT `+emailColumns+` FROM email_messages
		WHERE ticket_id = $1 AND direction = 'inbound'
		ORDER BY COALESCE(received_at, created_at) DESC
		LIMIT 1
	`, ticketID))
	if err == sql.ErrNoRows {
		return nil, outbound.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest inbound: %w", err)
	}
	return m, nil
}

// HasMessageID reports whether the account already ingested this RFC 2822
// message id. The poller checks it before parsing a fetched message.
func (r *EmailRepo) HasMessageID(ctx context.Context, accountID, messageID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM email_messages
			WHERE email_account_id = $1 AND message_id = $2
		)
	`, accountID, messageID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check message id: %w", err)
	}
	return exists, nil
}

// TicketForMessageID resolves an inbound In-Reply-To header to the ticket
// holding the referenced message, if any.
func (r *EmailRepo) TicketForMessageID(ctx context.Context, messageID string) (*string, error) {
	var ticketID sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT ticket_id FROM email_messages
		WHERE message_id = $1 AND ticket_id IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, messageID).Scan(&ticketID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve message id: %w", err)
	}
	if !ticketID.Valid {
		return nil, nil
	}
	return &ticketID.String, nil
}

// ListFiltered returns spam/promotion-filtered inbound mail for review.
func (r *EmailRepo) ListFiltered(ctx context.Context, accountID *string, limit, offset int) ([]domain.EmailMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT ` + emailColumns + ` FROM email_messages WHERE status = 'filtered'`
	args := []interface{}{}
	idx := 1
	if accountID != nil {
		q += fmt.Sprintf(" AND email_account_id = $%d", idx)
		args = append(args, *accountID)
		idx++
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list filtered emails: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailMessage
	for rows.Next() {
		m, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("scan email: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// GetEmail returns one email message row.
func (r *EmailRepo) GetEmail(ctx context.Context, id string) (*domain.EmailMessage, error) {
	m, err := scanEmail(r.db.QueryRowContext(ctx,
		`SELECT `+emailColumns+` FROM email_messages WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, outbound.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get email: %w", err)
	}
	return m, nil
}

func (r *EmailRepo) GetTemplate(ctx context.Context, id string) (*domain.EmailTemplate, error) {
	t := &domain.EmailTemplate{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, subject, body_text, body_html, created_at, updated_at
		FROM email_templates WHERE id = $1
	`, id).Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Subject, &t.BodyText,
		&t.BodyHTML, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, outbound.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return t, nil
}

func (r *EmailRepo) ListTemplates(ctx context.Context, orgID *string) ([]domain.EmailTemplate, error) {
	q := `SELECT id, organization_id, name, subject, body_text, body_html, created_at, updated_at
		FROM email_templates`
	args := []interface{}{}
	if orgID != nil {
		q += ` WHERE organization_id = $1 OR organization_id IS NULL`
		args = append(args, *orgID)
	}
	q += ` ORDER BY name ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailTemplate
	for rows.Next() {
		var t domain.EmailTemplate
		if err := rows.Scan(&t.ID, &t.OrganizationID, &t.Name, &t.Subject,
			&t.BodyText, &t.BodyHTML, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *EmailRepo) CreateTemplate(ctx context.Context, t *domain.EmailTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_templates
			(id, organization_id, name, subject, body_text, body_html, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`, t.ID, t.OrganizationID, t.Name, t.Subject, t.BodyText, t.BodyHTML, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

func (r *EmailRepo) UpdateTemplate(ctx context.Context, t *domain.EmailTemplate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_templates SET name = $1, subject = $2, body_text = $3,
			body_html = $4, updated_at = $5
		WHERE id = $6
	`, t.Name, t.Subject, t.BodyText, t.BodyHTML, t.UpdatedAt, t.ID)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return outbound.ErrNotFound
	}
	return nil
}

func (r *EmailRepo) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM email_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return outbound.ErrNotFound
	}
	return nil
}
