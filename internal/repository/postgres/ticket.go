package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/mail"
	"github.com/relaydesk/helpdesk-core/internal/service/ticket"
)

// TicketRepo implements ticket.Repository against PostgreSQL.
type TicketRepo struct{ db *sql.DB }

// NewTicketRepo creates a Postgres-backed ticket repository.
func NewTicketRepo(db *sql.DB) *TicketRepo { return &TicketRepo{db: db} }

const ticketColumns = `
	id, organization_id, user_id, context, subject, status, priority, source,
	category, assigned_to, sla_id, is_deleted, deleted_at,
	first_response_at, last_response_at, resolved_at, created_at, updated_at`

func scanTicket(row interface{ Scan(...interface{}) error }) (*domain.Ticket, error) {
	t := &domain.Ticket{}
	err := row.Scan(
		&t.ID, &t.OrganizationID, &t.UserID, &t.Context, &t.Subject, &t.Status,
		&t.Priority, &t.Source, &t.Category, &t.AssignedTo, &t.SlaID,
		&t.IsDeleted, &t.DeletedAt, &t.FirstResponseAt, &t.LastResponseAt,
		&t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TicketRepo) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
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

// FindContinuation matches on the precomputed subject_key column. The
// partial unique index on (context, subject_key, user_id) for live tickets
// guarantees at most one row.
func (r *TicketRepo) FindContinuation(ctx context.Context, tctx, subject string, userID *string) (*domain.Ticket, error) {
	q := `SELECT ` + ticketColumns + `
		FROM tickets
		WHERE context = $1 AND subject_key = $2
		  AND status <> 'closed' AND is_deleted = FALSE`
	args := []interface{}{tctx, subject}
	if userID != nil {
		q += ` AND user_id = $3`
		args = append(args, *userID)
	} else {
		q += ` AND user_id IS NULL`
	}
	q += ` ORDER BY created_at DESC LIMIT 1`

	t, err := scanTicket(r.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, ticket.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find continuation: %w", err)
	}
	return t, nil
}

func (r *TicketRepo) CreateTicket(ctx context.Context, t *domain.Ticket) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tickets
			(id, organization_id, user_id, context, subject, subject_key,
			 status, priority, source, category, assigned_to, sla_id,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, t.ID, t.OrganizationID, t.UserID, t.Context, t.Subject,
		mail.NormalizeSubject(t.Subject), t.Status, t.Priority, t.Source,
		t.Category, t.AssignedTo, t.SlaID, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (r *TicketRepo) UpdateTicket(ctx context.Context, id string, u ticket.UpdateFields) error {
	sets := []string{}
	args := []interface{}{}
	idx := 1
	add := func(col string, val interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, idx))
		args = append(args, val)
		idx++
	}

	if u.Status != nil {
		add("status", *u.Status)
	}
	if u.Priority != nil {
		add("priority", *u.Priority)
	}
	if u.Category != nil {
		add("category", *u.Category)
	}
	if u.AssignedTo != nil {
		add("assigned_to", *u.AssignedTo)
	} else if u.ClearAssignedTo {
		sets = append(sets, "assigned_to = NULL")
	}
	if u.SlaID != nil {
		add("sla_id", *u.SlaID)
	}
	if u.FirstResponseAt != nil {
		add("first_response_at", *u.FirstResponseAt)
	}
	if u.LastResponseAt != nil {
		add("last_response_at", *u.LastResponseAt)
	}
	if u.ResolvedAt != nil {
		add("resolved_at", *u.ResolvedAt)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = NOW()")
	q := fmt.Sprintf("UPDATE tickets SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)
	args = append(args, id)

	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update ticket: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ticket.ErrNotFound
	}
	return nil
}

func (r *TicketRepo) ListTickets(ctx context.Context, f ticket.ListFilter) ([]domain.Ticket, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := "WHERE is_deleted = $1"
	args := []interface{}{f.Deleted}
	idx := 2
	and := func(cond string, val interface{}) {
		where += fmt.Sprintf(" AND %s = $%d", cond, idx)
		args = append(args, val)
		idx++
	}

	if f.OrganizationID != nil {
		and("organization_id", *f.OrganizationID)
	}
	if f.UserID != nil {
		and("user_id", *f.UserID)
	}
	if f.Status != "" {
		and("status", f.Status)
	}
	if f.Priority != "" {
		and("priority", f.Priority)
	}
	if f.AssignedTo != "" {
		and("assigned_to", f.AssignedTo)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tickets "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tickets: %w", err)
	}

	q := fmt.Sprintf("SELECT %s FROM tickets %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		ticketColumns, where, idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, *t)
	}
	return out, total, rows.Err()
}

// SetDeleted flips the soft-delete flag on every id in one transaction.
// If any id is missing the whole batch rolls back.
func (r *TicketRepo) SetDeleted(ctx context.Context, ids []string, deleted bool, deletedAt *time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE tickets SET is_deleted = $1, deleted_at = $2, updated_at = NOW()
		WHERE id = ANY($3)
	`, deleted, deletedAt, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("set deleted: %w", err)
	}
	n, _ := res.RowsAffected()
	if int(n) != len(ids) {
		return ticket.ErrNotFound
	}
	return tx.Commit()
}

// HardDeleteTickets removes the tickets and every dependent row. Email
// messages are kept for audit with their ticket reference cleared.
func (r *TicketRepo) HardDeleteTickets(ctx context.Context, ids []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	arr := pq.Array(ids)
	for _, q := range []string{
		`DELETE FROM attachments WHERE ticket_id = ANY($1)`,
		`DELETE FROM ticket_tags WHERE ticket_id = ANY($1)`,
		`DELETE FROM routing_logs WHERE ticket_id = ANY($1)`,
		`DELETE FROM sla_violations WHERE ticket_id = ANY($1)`,
		`UPDATE email_messages SET ticket_id = NULL WHERE ticket_id = ANY($1)`,
		`DELETE FROM messages WHERE ticket_id = ANY($1)`,
		`DELETE FROM tickets WHERE id = ANY($1)`,
	} {
		if _, err := tx.ExecContext(ctx, q, arr); err != nil {
			return fmt.Errorf("hard delete tickets: %w", err)
		}
	}
	return tx.Commit()
}

func (r *TicketRepo) ListExpiredTrash(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE is_deleted = TRUE AND deleted_at < $1
		ORDER BY deleted_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired trash: %w", err)
	}
	defer rows.Close()

	var out []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TicketRepo) AppendMessage(ctx context.Context, m *domain.Message) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, ticket_id, sender, message, confidence, success, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, m.ID, m.TicketID, m.Sender, m.Body, m.Confidence, m.Success, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (r *TicketRepo) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, sender, message, confidence, success, created_at
		FROM messages
		WHERE ticket_id = $1
		ORDER BY created_at ASC, id ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.TicketID, &m.Sender, &m.Body, &m.Confidence, &m.Success, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *TicketRepo) ListAttachments(ctx context.Context, ticketIDs []string) ([]domain.Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, message_id, file_name, file_path, file_size,
		       mime_type, uploaded_by, created_at
		FROM attachments
		WHERE ticket_id = ANY($1)
	`, pq.Array(ticketIDs))
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.Attachment
	for rows.Next() {
		var a domain.Attachment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.MessageID, &a.FileName, &a.FilePath,
			&a.FileSize, &a.MimeType, &a.UploadedBy, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
