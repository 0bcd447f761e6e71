package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/relaydesk/helpdesk-core/internal/domain"
	"github.com/relaydesk/helpdesk-core/internal/service/sla"
)

// SlaRepo implements sla.Repository against PostgreSQL.
type SlaRepo struct{ db *sql.DB }

// NewSlaRepo creates a Postgres-backed SLA repository.
func NewSlaRepo(db *sql.DB) *SlaRepo { return &SlaRepo{db: db} }

const slaColumns = `id, organization_id, name, priority, response_time_minutes,
	resolution_time_minutes, business_hours_only, business_hours_start,
	business_hours_end, business_days, is_active, created_at, updated_at`

func scanSla(row interface{ Scan(...interface{}) error }) (*domain.SlaDefinition, error) {
	d := &domain.SlaDefinition{}
	var days pq.Int64Array
	err := row.Scan(&d.ID, &d.OrganizationID, &d.Name, &d.Priority,
		&d.ResponseTimeMinutes, &d.ResolutionTimeMinutes, &d.BusinessHoursOnly,
		&d.BusinessHoursStart, &d.BusinessHoursEnd, &days, &d.IsActive,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	for _, day := range days {
		d.BusinessDays = append(d.BusinessDays, int(day))
	}
	return d, nil
}

func int64Days(days []int) pq.Int64Array {
	out := make(pq.Int64Array, len(days))
	for i, d := range days {
		out[i] = int64(d)
	}
	return out
}

func (r *SlaRepo) GetDefinition(ctx context.Context, id string) (*domain.SlaDefinition, error) {
	d, err := scanSla(r.db.QueryRowContext(ctx,
		`SELECT `+slaColumns+` FROM sla_definitions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, sla.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sla definition: %w", err)
	}
	return d, nil
}

func (r *SlaRepo) ListDefinitions(ctx context.Context, orgID *string) ([]domain.SlaDefinition, error) {
	q := `SELECT ` + slaColumns + ` FROM sla_definitions`
	args := []interface{}{}
	if orgID != nil {
		q += ` WHERE organization_id = $1 OR organization_id IS NULL`
		args = append(args, *orgID)
	}
	q += ` ORDER BY priority, name`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list sla definitions: %w", err)
	}
	defer rows.Close()

	var out []domain.SlaDefinition
	for rows.Next() {
		d, err := scanSla(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sla definition: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// ActiveForPriority prefers the org-scoped policy; ordering puts non-null
// organization_id first.
func (r *SlaRepo) ActiveForPriority(ctx context.Context, orgID *string, p domain.TicketPriority) (*domain.SlaDefinition, error) {
	q := `SELECT ` + slaColumns + ` FROM sla_definitions
		WHERE is_active = TRUE AND priority = $1`
	args := []interface{}{p}
	if orgID != nil {
		q += ` AND (organization_id = $2 OR organization_id IS NULL)
			ORDER BY organization_id NULLS LAST`
		args = append(args, *orgID)
	} else {
		q += ` AND organization_id IS NULL`
	}
	q += ` LIMIT 1`

	d, err := scanSla(r.db.QueryRowContext(ctx, q, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active sla for priority: %w", err)
	}
	return d, nil
}

func (r *SlaRepo) CreateDefinition(ctx context.Context, d *domain.SlaDefinition) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sla_definitions
			(id, organization_id, name, priority, response_time_minutes,
			 resolution_time_minutes, business_hours_only, business_hours_start,
			 business_hours_end, business_days, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`, d.ID, d.OrganizationID, d.Name, d.Priority, d.ResponseTimeMinutes,
		d.ResolutionTimeMinutes, d.BusinessHoursOnly, d.BusinessHoursStart,
		d.BusinessHoursEnd, int64Days(d.BusinessDays), d.IsActive, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create sla definition: %w", err)
	}
	return nil
}

func (r *SlaRepo) UpdateDefinition(ctx context.Context, d *domain.SlaDefinition) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sla_definitions SET name = $1, priority = $2,
			response_time_minutes = $3, resolution_time_minutes = $4,
			business_hours_only = $5, business_hours_start = $6,
			business_hours_end = $7, business_days = $8, is_active = $9,
			updated_at = $10
		WHERE id = $11
	`, d.Name, d.Priority, d.ResponseTimeMinutes, d.ResolutionTimeMinutes,
		d.BusinessHoursOnly, d.BusinessHoursStart, d.BusinessHoursEnd,
		int64Days(d.BusinessDays), d.IsActive, d.UpdatedAt, d.ID)
	if err != nil {
		return fmt.Errorf("update sla definition: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sla.ErrNotFound
	}
	return nil
}

func (r *SlaRepo) DeleteDefinition(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sla_definitions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete sla definition: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return sla.ErrNotFound
	}
	return nil
}

func (r *SlaRepo) CreateViolation(ctx context.Context, v *domain.SlaViolation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sla_violations
			(id, ticket_id, sla_id, violation_type, expected_time, actual_time,
			 violation_minutes, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.ID, v.TicketID, v.SlaID, v.ViolationType, v.ExpectedTime, v.ActualTime,
		v.ViolationMinutes, v.IsResolved, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create sla violation: %w", err)
	}
	return nil
}

func (r *SlaRepo) HasViolation(ctx context.Context, ticketID string, vt domain.SlaViolationType) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sla_violations WHERE ticket_id = $1 AND violation_type = $2
		)
	`, ticketID, vt).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check sla violation: %w", err)
	}
	return exists, nil
}

func (r *SlaRepo) ResolveViolation(ctx context.Context, ticketID string, vt domain.SlaViolationType, actual time.Time, minutes int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sla_violations
		SET actual_time = $1, violation_minutes = $2, is_resolved = TRUE
		WHERE ticket_id = $3 AND violation_type = $4 AND is_resolved = FALSE
	`, actual, minutes, ticketID, vt)
	if err != nil {
		return fmt.Errorf("resolve sla violation: %w", err)
	}
	return nil
}

func (r *SlaRepo) ListViolations(ctx context.Context, ticketID string) ([]domain.SlaViolation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, ticket_id, sla_id, violation_type, expected_time, actual_time,
		       violation_minutes, is_resolved, created_at
		FROM sla_violations
		WHERE ticket_id = $1
		ORDER BY created_at ASC
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("list sla violations: %w", err)
	}
	defer rows.Close()

	var out []domain.SlaViolation
	for rows.Next() {
		var v domain.SlaViolation
		if err := rows.Scan(&v.ID, &v.TicketID, &v.SlaID, &v.ViolationType,
			&v.ExpectedTime, &v.ActualTime, &v.ViolationMinutes, &v.IsResolved,
			&v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan sla violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *SlaRepo) ListTicketsPendingSla(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE sla_id IS NOT NULL AND is_deleted = FALSE AND status <> 'closed'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list tickets pending sla: %w", err)
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
