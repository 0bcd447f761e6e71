package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/service/attachment"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
)

// AttachmentRepo implements attachment.Repository against PostgreSQL.
type AttachmentRepo struct{ db *sql.DB }

// NewAttachmentRepo creates a Postgres-backed attachment repository.
func NewAttachmentRepo(db *sql.DB) *AttachmentRepo { return &AttachmentRepo{db: db} }

const attachmentColumns = `id, ticket_id, message_id, file_name, file_path,
	file_size, mime_type, uploaded_by, created_at`

func scanAttachment(row interface{ Scan(...interface{}) error }) (*domain.Attachment, error) {
	a := &domain.Attachment{}
	err := row.Scan(&a.ID, &a.TicketID, &a.MessageID, &a.FileName, &a.FilePath,
		&a.FileSize, &a.MimeType, &a.UploadedBy, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *AttachmentRepo) CreateAttachment(ctx context.Context, a *domain.Attachment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attachments
			(id, ticket_id, message_id, file_name, file_path, file_size,
			 mime_type, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, a.ID, a.TicketID, a.MessageID, a.FileName, a.FilePath, a.FileSize,
		a.MimeType, a.UploadedBy, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("create attachment: %w", err)
	}
	return nil
}

func (r *AttachmentRepo) GetAttachment(ctx context.Context, id string) (*domain.Attachment, error) {
	a, err := scanAttachment(r.db.QueryRowContext(ctx,
		`SELECT `+attachmentColumns+` FROM attachments WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, attachment.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attachment: %w", err)
	}
	return a, nil
}

func (r *AttachmentRepo) DeleteAttachment(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return attachment.ErrNotFound
	}
	return nil
}

func (r *AttachmentRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+` FROM attachments
		WHERE ticket_id = $1
		ORDER BY created_at ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *AttachmentRepo) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, ticket.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}
